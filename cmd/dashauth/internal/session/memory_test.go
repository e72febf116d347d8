package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
)

func newSession(token string, expires time.Time) *Session {
	return &Session{
		ID:             "id-" + token,
		TokenHash:      HashToken(token),
		Username:       "alice",
		Groups:         []string{"ops"},
		ServiceAccount: auth.MustParseServiceAccount("kube-system/viewer"),
		BearerToken:    "bearer",
		CreatedAt:      expires.Add(-time.Hour),
		ExpiresAt:      expires,
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour)

	s := newSession("tok", time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, s))

	got, err := store.GetByTokenHash(ctx, HashToken("tok"))
	require.NoError(t, err)
	assert.Equal(t, s, got)

	got.Groups[0] = "mutated"
	again, err := store.GetByTokenHash(ctx, HashToken("tok"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, again.Groups, "callers must not alias stored state")

	require.NoError(t, store.DeleteByTokenHash(ctx, HashToken("tok")))
	_, err = store.GetByTokenHash(ctx, HashToken("tok"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.DeleteByTokenHash(ctx, HashToken("tok")), "deleting twice is fine")
}

func TestMemoryStore_ExpiredSessionsAreNotReturned(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Create(ctx, newSession("old", now.Add(-time.Second))))
	require.NoError(t, store.Create(ctx, newSession("new", now.Add(time.Minute))))

	_, err := store.GetByTokenHash(ctx, HashToken("old"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetByTokenHash(ctx, HashToken("new"))
	assert.NoError(t, err)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour)
	now := time.Now()

	require.NoError(t, store.Create(ctx, newSession("a", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newSession("b", now.Add(-time.Second))))
	require.NoError(t, store.Create(ctx, newSession("c", now.Add(time.Minute))))

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, time.Hour)
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.Create(ctx, newSession("a", expires)))
	require.NoError(t, store.Create(ctx, newSession("b", expires)))
	require.NoError(t, store.Create(ctx, newSession("c", expires)))

	_, err := store.GetByTokenHash(ctx, HashToken("a"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, store.Len())
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.Len(t, HashToken(a), 64)
	assert.Equal(t, HashToken(a), HashToken(a))
}
