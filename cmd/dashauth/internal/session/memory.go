package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart
// and evicted least-recently-used once MaxEntries is reached.
type MemoryStore struct {
	cache *expirable.LRU[string, *Session]
	now   func() time.Time
}

// NewMemoryStore returns a store holding at most maxEntries sessions, each for
// at most ttl regardless of its own expiry.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, *Session](maxEntries, nil, ttl),
		now:   time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	stored := *s
	stored.Groups = append([]string(nil), s.Groups...)
	m.cache.Add(s.TokenHash, &stored)
	return nil
}

func (m *MemoryStore) GetByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	s, ok := m.cache.Get(tokenHash)
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(m.now()) {
		m.cache.Remove(tokenHash)
		return nil, ErrNotFound
	}
	out := *s
	out.Groups = append([]string(nil), s.Groups...)
	return &out, nil
}

func (m *MemoryStore) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	m.cache.Remove(tokenHash)
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, key := range m.cache.Keys() {
		if s, ok := m.cache.Peek(key); ok && s.Expired(now) {
			if m.cache.Remove(key) {
				removed++
			}
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions, including expired ones not yet removed.
func (m *MemoryStore) Len() int { return m.cache.Len() }
