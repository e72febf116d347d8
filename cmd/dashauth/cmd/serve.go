package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/bunx"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/proxy"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/repository"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/server"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/gateway"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/tokencache"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/static"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/telemetry"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/tlsutil"
)

const janitorInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Validates the configuration, then serves the login page to anonymous users and
proxies authenticated users to the dashboard. Configuration problems are listed
and the process exits before listening.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Validate everything before touching the network.
		registry := newRegistry()
		audit := config.Validate(cfg)
		if cfg.Auth.Provider != "" {
			for _, p := range registry.Validate(cfg.Auth.Provider) {
				audit.Errorf("%s", p)
			}
		}
		hostname, _ := os.Hostname()
		material, tlsAudit := tlsutil.Load(cfg.TLS, hostname)
		audit.Merge(tlsAudit)
		staticFS, err := static.FS(cfg.Static.Dir)
		if err != nil {
			audit.Errorf("Invalid static content: %v", err)
		}
		if err := reportAudit(audit); err != nil {
			return err
		}

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialise telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Telemetry shutdown failed")
			}
		}()

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("create server metrics: %w", err)
		}
		loginMetrics, err := telemetry.NewLoginMetrics()
		if err != nil {
			return fmt.Errorf("create login metrics: %w", err)
		}
		cacheMetrics, err := telemetry.NewTokenCacheMetrics()
		if err != nil {
			return fmt.Errorf("create token cache metrics: %w", err)
		}

		client, err := tokencache.NewClient(cfg.API)
		if err != nil {
			return fmt.Errorf("failed to create Kubernetes client: %w", err)
		}
		tokens := tokencache.New(client, tokencache.Options{
			Timeout: cfg.API.Timeout,
			TTL:     cfg.API.TokenTTL,
			Logger:  logger.WithField("component", "tokencache"),
			Metrics: cacheMetrics,
		})

		store, closeStore, err := openSessionStore(ctx, cfg.Session)
		if err != nil {
			return err
		}
		defer closeStore()
		go session.RunJanitor(ctx, store, janitorInterval, logger.WithField("component", "janitor"))

		svc := gateway.NewService(registry, tokens, store, gateway.Options{
			Provider:    cfg.Auth.Provider,
			ACL:         cfg.Auth.ACL,
			AuthTimeout: cfg.Auth.Timeout,
			SessionTTL:  cfg.Session.TTL,
			Logger:      logger.WithField("component", "gateway"),
			Metrics:     loginMetrics,
		})

		upstream, err := proxy.New(proxy.Options{
			Upstream: cfg.Upstream,
			Insecure: cfg.UpstreamInsecure,
			Logger:   logger.WithField("component", "proxy"),
		})
		if err != nil {
			return fmt.Errorf("configure upstream: %w", err)
		}

		routerOpts := server.RouterOptions{
			Gateway:  svc,
			Static:   static.Handler(staticFS),
			Upstream: upstream,
			Cookie: server.CookieOptions{
				Name:   cfg.Session.CookieName,
				Secure: cfg.TLS.Enabled,
			},
			Metrics: serverMetrics,
			Logger:  logger.WithField("component", "http"),
		}
		if len(cfg.CORS.AllowedOrigins) > 0 {
			corsOpts := server.DefaultCORSOptions(cfg.CORS.AllowedOrigins)
			routerOpts.CORSOptions = &corsOpts
		}
		router := server.NewRouter(routerOpts)

		logger.WithFields(logrus.Fields{
			"provider": cfg.Auth.Provider,
			"upstream": cfg.Upstream,
			"sessions": cfg.Session.Store,
			"tls":      cfg.TLS.Enabled,
		}).Info("Starting dashauth")

		return server.Run(ctx, server.NewServers(cfg, router, material), logger)
	},
}

// reportAudit logs warnings and fails when the audit holds errors.
func reportAudit(audit config.Audit) error {
	for _, w := range audit.Warnings {
		logger.Warn(w)
	}
	if audit.OK() {
		return nil
	}
	for _, e := range audit.Errors {
		logger.Error(e)
	}
	return fmt.Errorf("configuration has %d problem(s)", len(audit.Errors))
}

// openSessionStore returns the configured store and a function releasing it.
func openSessionStore(ctx context.Context, sc config.SessionConfig) (session.Store, func(), error) {
	switch sc.Store {
	case "database":
	case "redis":
		repo, err := repository.NewRedisSessionRepository(ctx, sc.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to session redis: %w", err)
		}
		logger.Info("Connected to session redis")
		return repo, func() {
			if err := repo.Close(); err != nil {
				logger.WithError(err).Warn("Closing session redis failed")
			}
		}, nil
	default:
		return session.NewMemoryStore(sc.MaxEntries, sc.TTL), func() {}, nil
	}

	db, err := bunx.NewDB(sc.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to session database: %w", err)
	}
	if err := checkMigrations(ctx, db); err != nil {
		_ = bunx.Close(db)
		return nil, nil, err
	}
	logger.WithField("database", string(bunx.DetectDatabaseType(sc.DatabaseURL))).Info("Connected to session database")

	return repository.NewBunSessionRepository(db), func() {
		if err := bunx.Close(db); err != nil {
			logger.WithError(err).Warn("Closing session database failed")
		}
	}, nil
}

var errPendingMigrations = errors.New("session database has pending migrations; run 'dashauth db migrate'")

func checkMigrations(ctx context.Context, db *bun.DB) error {
	ms, err := newMigrator(db).MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	if len(ms.Unapplied()) > 0 {
		return errPendingMigrations
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
