package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/bunx"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
)

const redisKeyPrefix = "dashauth:session:"

// RedisSessionRepository keeps sessions in Redis so several gateway replicas
// share them. Keys carry a TTL matching the session expiry, so Redis evicts
// expired sessions itself.
type RedisSessionRepository struct {
	client *redis.Client
	now    func() time.Time
}

var _ SessionRepository = (*RedisSessionRepository)(nil)

// NewRedisSessionRepository connects to rawURL (redis://[:password@]host:port/db)
// and checks that the server answers.
func NewRedisSessionRepository(ctx context.Context, rawURL string) (*RedisSessionRepository, error) {
	if rawURL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSessionRepository{client: client, now: time.Now}, nil
}

type redisRecord struct {
	ID             string    `json:"id"`
	TokenHash      string    `json:"token_hash"`
	Username       string    `json:"username"`
	Groups         []string  `json:"groups,omitempty"`
	ServiceAccount string    `json:"service_account"`
	BearerToken    string    `json:"bearer_token"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func redisKey(tokenHash string) string {
	return redisKeyPrefix + tokenHash
}

// Create stores s with a TTL ending at s.ExpiresAt.
func (r *RedisSessionRepository) Create(ctx context.Context, s *session.Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("create session: already expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	if s.ID == "" {
		s.ID = bunx.NewUUIDv7()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	payload, err := encodeRecord(s)
	if err != nil {
		return err
	}
	created, err := r.client.SetNX(ctx, redisKey(s.TokenHash), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		return errors.New("create session: token hash already in use")
	}
	return nil
}

// GetByTokenHash returns the live session stored under tokenHash.
func (r *RedisSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	payload, err := r.client.Get(ctx, redisKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	s, err := decodeRecord(payload)
	if err != nil {
		return nil, err
	}
	if s.Expired(r.now()) {
		return nil, session.ErrNotFound
	}
	return s, nil
}

// DeleteByTokenHash removes a session (logout)
func (r *RedisSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if err := r.client.Del(ctx, redisKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires the keys.
func (r *RedisSessionRepository) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// List scans every session key, newest first.
func (r *RedisSessionRepository) List(ctx context.Context) ([]*session.Session, error) {
	var out []*session.Session
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		s, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Close releases the client's connections.
func (r *RedisSessionRepository) Close() error {
	return r.client.Close()
}

func encodeRecord(s *session.Session) ([]byte, error) {
	payload, err := json.Marshal(redisRecord{
		ID:             s.ID,
		TokenHash:      s.TokenHash,
		Username:       s.Username,
		Groups:         s.Groups,
		ServiceAccount: s.ServiceAccount.Namespace + "/" + s.ServiceAccount.Name,
		BearerToken:    s.BearerToken,
		CreatedAt:      s.CreatedAt.UTC(),
		ExpiresAt:      s.ExpiresAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return payload, nil
}

func decodeRecord(payload []byte) (*session.Session, error) {
	var rec redisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sa, err := auth.ParseServiceAccount(rec.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", rec.ID, err)
	}
	return &session.Session{
		ID:             rec.ID,
		TokenHash:      rec.TokenHash,
		Username:       rec.Username,
		Groups:         rec.Groups,
		ServiceAccount: sa,
		BearerToken:    rec.BearerToken,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
	}, nil
}
