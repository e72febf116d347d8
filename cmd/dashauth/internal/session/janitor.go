package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunJanitor removes expired sessions from store every interval until ctx is
// cancelled.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, log logrus.FieldLogger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.DeleteExpired(ctx, now)
			if err != nil {
				log.WithError(err).Warn("Failed to purge expired sessions")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Debug("Purged expired sessions")
			}
		}
	}
}
