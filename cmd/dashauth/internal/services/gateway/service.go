// Package gateway drives the session state machine: a login turns verified
// credentials into a session bound to a backend service account token, a
// logout ends it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/authn"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/telemetry"
)

const tracerName = "dashauth/gateway"

// TokenSource resolves a service account to its bearer token.
type TokenSource interface {
	Token(ctx context.Context, sa auth.ServiceAccount) (string, error)
}

// LoginResult is the outcome of a login attempt. Session and CookieToken are
// set only when Outcome is a Success.
type LoginResult struct {
	Outcome     auth.Outcome
	Session     *session.Session
	CookieToken string
}

// Options configures a Service.
type Options struct {
	// Provider is the auth.provider name looked up in the registry per login.
	Provider string
	ACL      auth.ACL
	// AuthTimeout bounds credential verification.
	AuthTimeout time.Duration
	// SessionTTL is the lifetime of a new session.
	SessionTTL time.Duration

	Logger  logrus.FieldLogger
	Metrics *telemetry.LoginMetrics
}

// Service implements login and logout.
type Service struct {
	registry *authn.Registry
	tokens   TokenSource
	store    session.Store
	opts     Options
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the login flow.
func NewService(registry *authn.Registry, tokens TokenSource, store session.Store, opts Options) *Service {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		registry: registry,
		tokens:   tokens,
		store:    store,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Login verifies creds and, on success, maps the identity to a service
// account, fetches its token and opens a session.
//
// Flow:
//  1. Resolve the configured verifier (unknown name: Error)
//  2. Verify credentials under the auth timeout; non-success outcomes are final
//  3. Resolve the ACL (no entry: Forbidden)
//  4. Fetch the service account token (failure: Error)
//  5. Create the session (failure: Error)
func (s *Service) Login(ctx context.Context, creds authn.Credentials) (result LoginResult) {
	start := s.now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "gateway.Login",
		attribute.String(telemetry.AttrProvider, s.opts.Provider),
		attribute.String(telemetry.AttrUser, creds.Username),
	)
	defer func() {
		kind := result.Outcome.Kind().String()
		span.SetAttributes(attribute.String(telemetry.AttrOutcome, kind))
		span.End()
		s.opts.Metrics.RecordLogin(ctx, s.opts.Provider, kind, float64(s.now().Sub(start).Milliseconds()))
	}()

	log := s.log.WithFields(logrus.Fields{"provider": s.opts.Provider, "user": creds.Username})

	verifier, ok := s.registry.Get(s.opts.Provider)
	if !ok {
		log.WithField("step", "registry").Error("Authentication provider is not available")
		return LoginResult{Outcome: auth.Failed(auth.Error)}
	}

	authCtx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	outcome := verifier.Authenticate(authCtx, creds)
	cancel()

	if !outcome.OK() {
		log.WithField("outcome", outcome.Kind().String()).Info("Login rejected")
		return LoginResult{Outcome: outcome}
	}

	sa, ok := auth.Resolve(outcome.Username(), outcome.Groups(), s.opts.ACL)
	if !ok {
		telemetry.AddEvent(span, "acl.denied")
		log.WithField("step", "acl").Info("No access control entry matches")
		return LoginResult{Outcome: auth.Failed(auth.Forbidden)}
	}
	log = log.WithField("service_account", sa.FQN())
	span.SetAttributes(attribute.String(telemetry.AttrServiceAccount, sa.FQN()))

	bearer, err := s.tokens.Token(ctx, sa)
	if err != nil {
		telemetry.RecordError(span, err)
		log.WithField("step", "token").WithError(err).Error("Service account token unavailable")
		return LoginResult{Outcome: auth.Failed(auth.Error)}
	}

	cookieToken, sess, err := s.openSession(ctx, outcome, sa, bearer)
	if err != nil {
		telemetry.RecordError(span, err)
		log.WithField("step", "session").WithError(err).Error("Session could not be created")
		return LoginResult{Outcome: auth.Failed(auth.Error)}
	}

	log.Info("Login succeeded")
	return LoginResult{Outcome: outcome, Session: sess, CookieToken: cookieToken}
}

func (s *Service) openSession(ctx context.Context, outcome auth.Outcome, sa auth.ServiceAccount, bearer string) (string, *session.Session, error) {
	cookieToken, err := session.NewToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}

	now := s.now()
	sess := &session.Session{
		TokenHash:      session.HashToken(cookieToken),
		Username:       outcome.Username(),
		Groups:         outcome.Groups(),
		ServiceAccount: sa,
		BearerToken:    bearer,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.SessionTTL),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return "", nil, err
	}
	return cookieToken, sess, nil
}

// Session returns the live session for a cookie token, or session.ErrNotFound.
func (s *Service) Session(ctx context.Context, cookieToken string) (*session.Session, error) {
	if cookieToken == "" {
		return nil, session.ErrNotFound
	}
	sess, err := s.store.GetByTokenHash(ctx, session.HashToken(cookieToken))
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// Logout ends the session for a cookie token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, cookieToken string) error {
	if cookieToken == "" {
		return nil
	}
	err := s.store.DeleteByTokenHash(ctx, session.HashToken(cookieToken))
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
