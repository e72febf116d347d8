// Package bunx opens the SQL session store with bun.
package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// DatabaseType names a supported SQL backend.
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgres"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
)

const pingTimeout = 5 * time.Second

// DetectDatabaseType picks the backend from a DSN. Anything that is not a
// PostgreSQL URL is treated as a SQLite path, including ":memory:".
func DetectDatabaseType(dsn string) DatabaseType {
	for _, prefix := range []string{"postgres://", "postgresql://", "unix://"} {
		if strings.HasPrefix(dsn, prefix) {
			return DatabaseTypePostgreSQL
		}
	}
	return DatabaseTypeSQLite
}

// NewDB connects to the session database and verifies it answers.
func NewDB(dsn string) (*bun.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}

	var db *bun.DB
	switch DetectDatabaseType(dsn) {
	case DatabaseTypePostgreSQL:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		// Session lookups are short point reads.
		sqldb.SetMaxOpenConns(10)
		sqldb.SetMaxIdleConns(10)
		sqldb.SetConnMaxIdleTime(5 * time.Minute)
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// One connection keeps ":memory:" databases shared and serialises writers.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
		if err := sqlitePragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func sqlitePragmas(db *bun.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes db. A nil db is ignored.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
