package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/bunx"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/migrations"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/repository"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Session database management commands",
	Long: `Commands for managing the schema of the SQL session store
(session.store: database). The in-memory store needs none of these.`,
}

func newMigrator(db *bun.DB) *migrate.Migrator {
	return migrate.NewMigrator(db, migrations.Migrations)
}

// openSessionDB connects to session.database_url.
func openSessionDB() (*bun.DB, error) {
	if cfg.Session.DatabaseURL == "" {
		return nil, errors.New("session.database_url is not set (flag --db-url, env DASHAUTH_SESSION_DATABASE_URL)")
	}
	db, err := bunx.NewDB(cfg.Session.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openSessionRepository opens the configured persistent session store.
func openSessionRepository(ctx context.Context) (repository.SessionRepository, func(), error) {
	if cfg.Session.Store == "redis" {
		repo, err := repository.NewRedisSessionRepository(ctx, cfg.Session.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}
	db, err := openSessionDB()
	if err != nil {
		return nil, nil, err
	}
	return repository.NewBunSessionRepository(db), func() { _ = bunx.Close(db) }, nil
}

// withMigrator opens the session database, runs fn and closes it. With lock
// set, fn runs under the migration lock.
func withMigrator(ctx context.Context, lock bool, fn func(context.Context, *migrate.Migrator) error) error {
	db, err := openSessionDB()
	if err != nil {
		return err
	}
	defer bunx.Close(db)

	m := newMigrator(db)
	if lock {
		if err := m.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if err := m.Unlock(ctx); err != nil {
				logger.WithError(err).Warn("Failed to release migration lock")
			}
		}()
	}
	return fn(ctx, m)
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the migration bookkeeping tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize migrator: %w", err)
			}
			logger.Info("Migration tables initialized")
			return nil
		})
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the sessions schema",
	Long:  `Initializes the bookkeeping tables if needed, then applies pending migrations under the migration lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Init must precede Lock: the lock table is created by Init.
		if err := withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			return m.Init(ctx)
		}); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}

		return withMigrator(cmd.Context(), true, func(ctx context.Context, m *migrate.Migrator) error {
			group, err := m.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if group.IsZero() {
				logger.Info("Sessions schema is up to date")
				return nil
			}
			logger.WithFields(logrus.Fields{"group": group.ID, "migrations": len(group.Migrations)}).Info("Applied migration group")
			return nil
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			ms, err := m.MigrationsWithStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MIGRATION\tSTATUS")
			for _, mig := range ms {
				status := "pending"
				if mig.GroupID > 0 {
					status = fmt.Sprintf("applied (group %d)", mig.GroupID)
				}
				fmt.Fprintf(tw, "%s\t%s\n", mig.Name, status)
			}
			return tw.Flush()
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last migration group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), true, func(ctx context.Context, m *migrate.Migrator) error {
			group, err := m.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if group.IsZero() {
				logger.Info("Nothing to roll back")
				return nil
			}
			logger.WithField("group", group.ID).Info("Rolled back migration group")
			return nil
		})
	},
}

var dbLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Hold the migration lock for maintenance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Lock(ctx); err != nil {
				return fmt.Errorf("failed to acquire migration lock: %w", err)
			}
			logger.Info("Migration lock held. Run 'dashauth db unlock' when finished.")
			return nil
		})
	},
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release a migration lock left by a crashed run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Unlock(ctx); err != nil {
				return fmt.Errorf("failed to release migration lock: %w", err)
			}
			logger.Info("Migration lock released")
			return nil
		})
	},
}

var dbSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Long: `Lists sessions in the SQL store, or in Redis when session.store is "redis",
newest first. Tokens are never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, release, err := openSessionRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		sessions, err := repo.List(cmd.Context())
		if err != nil {
			return err
		}

		now := time.Now()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSER\tSERVICE ACCOUNT\tCREATED\tEXPIRES\tSTATE")
		for _, s := range sessions {
			state := "active"
			if s.Expired(now) {
				state = "expired"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Username, s.ServiceAccount.FQN(),
				s.CreatedAt.Local().Format(time.RFC3339), s.ExpiresAt.Local().Format(time.RFC3339), state)
		}
		return tw.Flush()
	},
}

var dbPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, release, err := openSessionRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		n, err := repo.DeleteExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		logger.WithField("removed", n).Info("Expired sessions deleted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	dbCmd.AddCommand(dbLockCmd)
	dbCmd.AddCommand(dbUnlockCmd)
	dbCmd.AddCommand(dbSessionsCmd)
	dbCmd.AddCommand(dbPurgeCmd)
}
