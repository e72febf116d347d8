package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
)

// SessionLookup resolves an opaque cookie value to a live session.
// Unknown or expired values return session.ErrNotFound.
type SessionLookup interface {
	Session(ctx context.Context, cookieToken string) (*session.Session, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session attached by SessionGate, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok && s != nil
}

// GateOptions configures SessionGate.
type GateOptions struct {
	Sessions   SessionLookup
	CookieName string
	// Local answers anonymous requests. It must never reach the upstream.
	Local http.Handler
	// Upstream receives authenticated requests with the bearer token attached.
	Upstream http.Handler
	Logger   logrus.FieldLogger
}

// SessionGate decides per request between local content and the upstream.
//
// Flow:
//  1. Read the session cookie (missing: anonymous)
//  2. Look the session up (unknown, expired or lookup failure: anonymous)
//  3. Anonymous requests go to Local
//  4. Authenticated requests lose their inbound Authorization header and
//     session cookie, gain "Authorization: Bearer <token>" and go to Upstream
func SessionGate(opts GateOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := lookupSession(r, opts, log)
		if sess == nil {
			opts.Local.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		out := r.Clone(ctx)
		stripSessionCookie(out, opts.CookieName)
		out.Header.Set("Authorization", "Bearer "+sess.BearerToken)

		opts.Upstream.ServeHTTP(w, out)
	})
}

func lookupSession(r *http.Request, opts GateOptions, log logrus.FieldLogger) *session.Session {
	cookie, err := r.Cookie(opts.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	sess, err := opts.Sessions.Session(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			log.WithError(err).Warn("Session lookup failed; serving anonymous content")
		}
		return nil
	}
	return sess
}

// stripSessionCookie removes the named cookie and any inbound credentials so
// neither reaches the upstream.
func stripSessionCookie(r *http.Request, name string) {
	r.Header.Del("Authorization")

	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		r.AddCookie(c)
	}
}
