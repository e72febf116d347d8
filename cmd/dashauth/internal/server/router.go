package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	gwmiddleware "github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/middleware"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/authn"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/gateway"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/telemetry"
)

// Gateway is the session state machine behind /login, /logout and the gate.
// *gateway.Service implements it.
type Gateway interface {
	gwmiddleware.SessionLookup
	Login(ctx context.Context, creds authn.Credentials) gateway.LoginResult
	Logout(ctx context.Context, cookieToken string) error
}

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name string
	// Secure forces the Secure attribute; it is also set on any TLS request.
	Secure bool
}

// RouterOptions controls the construction of the gateway HTTP router.
type RouterOptions struct {
	Gateway Gateway
	// Static answers anonymous requests.
	Static http.Handler
	// Upstream receives authenticated requests.
	Upstream http.Handler
	Cookie   CookieOptions

	// CORSOptions enables CORS for cross-origin login pages. Nil disables it.
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	Metrics       *telemetry.ServerMetrics
	Logger        logrus.FieldLogger
}

// DefaultCORSOptions returns the policy for a login page served from one of origins.
func DefaultCORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{OTPHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// HealthHandler answers kubelet liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// NewRouter assembles the gateway: /login, /logout and /healthz are answered
// locally and every other request passes the session gate.
func NewRouter(opts RouterOptions) chi.Router {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(gwmiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(gwmiddleware.Tracing)
	r.Use(gwmiddleware.Metrics(opts.Metrics))

	if opts.CORSOptions != nil {
		r.Use(cors.Handler(*opts.CORSOptions))
	}
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	gate := gwmiddleware.SessionGate(gwmiddleware.GateOptions{
		Sessions:   opts.Gateway,
		CookieName: opts.Cookie.Name,
		Local:      opts.Static,
		Upstream:   opts.Upstream,
		Logger:     log,
	})

	health := opts.HealthHandler
	if health == nil {
		health = HealthHandler
	}

	h := &authHandlers{gateway: opts.Gateway, cookie: opts.Cookie, log: log}
	r.Post("/login", h.login)
	r.Get("/logout", h.logout)
	r.Get("/healthz", health)

	// Anything else, including other methods on the routes above, is gated.
	r.Handle("/*", gate)
	r.MethodNotAllowed(gate.ServeHTTP)

	return r
}
