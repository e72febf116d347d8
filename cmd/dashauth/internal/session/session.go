// Package session holds authenticated browser sessions.
//
// A browser carries an opaque random token in a cookie. Stores index sessions
// by the SHA-256 hash of that token so a leaked store does not yield usable
// cookies.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

// ErrNotFound is returned when no live session matches a token.
var ErrNotFound = errors.New("session not found")

// Session is an authenticated browser session.
type Session struct {
	ID             string
	TokenHash      string
	Username       string
	Groups         []string
	ServiceAccount auth.ServiceAccount
	// BearerToken is the backend credential attached to forwarded requests.
	BearerToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions. Implementations are safe for concurrent use.
type Store interface {
	// Create stores s. s.TokenHash must be set.
	Create(ctx context.Context, s *Session) error
	// GetByTokenHash returns the live session for tokenHash or ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// DeleteByTokenHash removes the session. Deleting a missing session is not an error.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	// DeleteExpired removes sessions that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// NewToken returns a random cookie token with 256 bits of entropy.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the store key for a cookie token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
