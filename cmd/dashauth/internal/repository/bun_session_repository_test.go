package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/bunx"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/migrations"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
)

// setupTestDB opens an in-memory SQLite database and applies all migrations.
// Set DASHAUTH_TEST_DATABASE_URL to run against PostgreSQL instead.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := ":memory:"
	if url := os.Getenv("DASHAUTH_TEST_DATABASE_URL"); url != "" {
		dsn = url
	}

	db, err := bunx.NewDB(dsn)
	if err != nil {
		t.Skipf("Database not available: %v", err)
	}
	t.Cleanup(func() { _ = bunx.Close(db) })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	_, err = db.NewDelete().Table("sessions").Where("1 = 1").Exec(ctx)
	require.NoError(t, err)
	return db
}

func testSession(token string, expires time.Time) *session.Session {
	return &session.Session{
		TokenHash:      session.HashToken(token),
		Username:       "alice",
		Groups:         []string{"CN=Ops,OU=Groups,DC=example,DC=com", "dev"},
		ServiceAccount: auth.MustParseServiceAccount("kube-system/viewer"),
		BearerToken:    "bearer-" + token,
		CreatedAt:      expires.Add(-time.Hour),
		ExpiresAt:      expires,
	}
}

func TestBunSessionRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunSessionRepository(db)
	ctx := context.Background()

	s := testSession("tok-1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, s))
	assert.NotEmpty(t, s.ID)

	got, err := repo.GetByTokenHash(ctx, session.HashToken("tok-1"))
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, s.Groups, got.Groups)
	assert.Equal(t, s.ServiceAccount, got.ServiceAccount)
	assert.Equal(t, "bearer-tok-1", got.BearerToken)
	assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Millisecond)

	require.NoError(t, repo.DeleteByTokenHash(ctx, session.HashToken("tok-1")))
	_, err = repo.GetByTokenHash(ctx, session.HashToken("tok-1"))
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestBunSessionRepository_NoGroups(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunSessionRepository(db)
	ctx := context.Background()

	s := testSession("tok-2", time.Now().Add(time.Hour))
	s.Groups = nil
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.GetByTokenHash(ctx, session.HashToken("tok-2"))
	require.NoError(t, err)
	assert.Nil(t, got.Groups)
}

func TestBunSessionRepository_DuplicateTokenHash(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunSessionRepository(db)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	require.NoError(t, repo.Create(ctx, testSession("dup", expires)))
	assert.Error(t, repo.Create(ctx, testSession("dup", expires)))
}

func TestBunSessionRepository_Expiry(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunSessionRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, testSession("expired", now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, testSession("live", now.Add(time.Minute))))

	_, err := repo.GetByTokenHash(ctx, session.HashToken("expired"))
	assert.ErrorIs(t, err, session.ErrNotFound)

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, session.HashToken("live"), all[0].TokenHash)
}
