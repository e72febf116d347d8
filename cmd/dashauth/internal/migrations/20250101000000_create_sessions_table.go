package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20250101000000, down_20250101000000)
}

// up_20250101000000 creates the sessions table
func up_20250101000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating sessions table...")
	_, err := db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	// Janitor deletes by expiry
	_, err = db.NewCreateIndex().
		Model((*models.Session)(nil)).
		Index("idx_sessions_expires_at").
		Column("expires_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index on expires_at: %w", err)
	}
	fmt.Println(" OK")

	if IsPostgreSQL(db) {
		// flag the credential column for operators inspecting the schema
		_, err = db.ExecContext(ctx, `COMMENT ON COLUMN sessions.bearer_token IS 'service account token, sensitive'`)
		if err != nil {
			return fmt.Errorf("failed to comment bearer_token column: %w", err)
		}
	}
	return nil
}

// down_20250101000000 drops the sessions table
func down_20250101000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sessions table...")
	_, err := db.NewDropTable().
		Model((*models.Session)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop sessions table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
