package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/auth"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/bunx"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/db/models"
	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
)

// BunSessionRepository implements session.Store using Bun ORM
type BunSessionRepository struct {
	db  *bun.DB
	now func() time.Time
}

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB) *BunSessionRepository {
	return &BunSessionRepository{db: db, now: time.Now}
}

var _ SessionRepository = (*BunSessionRepository)(nil)

// Create inserts a new session
func (r *BunSessionRepository) Create(ctx context.Context, s *session.Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.ID = row.ID
	return nil
}

// GetByTokenHash retrieves a live session by its token hash.
// This is the lookup performed on every gated request.
func (r *BunSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := new(models.Session)
	err := r.db.NewSelect().
		Model(row).
		Where("token_hash = ?", tokenHash).
		Where("expires_at > ?", r.now().UTC()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return fromRow(row)
}

// DeleteByTokenHash removes a session (logout)
func (r *BunSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("token_hash = ?", tokenHash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired deletes all sessions that expired before now.
// Run periodically by the session janitor.
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired sessions: %w", err)
	}
	return int(n), nil
}

// List retrieves all sessions, newest first (admin operation)
func (r *BunSessionRepository) List(ctx context.Context) ([]*session.Session, error) {
	var rows []models.Session
	err := r.db.NewSelect().
		Model(&rows).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*session.Session, 0, len(rows))
	for i := range rows {
		s, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toRow(s *session.Session) (*models.Session, error) {
	groups := s.Groups
	if groups == nil {
		groups = []string{}
	}
	encoded, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("encode session groups: %w", err)
	}

	id := s.ID
	if id == "" {
		id = bunx.NewUUIDv7()
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &models.Session{
		ID:                      id,
		TokenHash:               s.TokenHash,
		Username:                s.Username,
		Groups:                  string(encoded),
		ServiceAccountNamespace: s.ServiceAccount.Namespace,
		ServiceAccountName:      s.ServiceAccount.Name,
		BearerToken:             s.BearerToken,
		CreatedAt:               createdAt.UTC(),
		ExpiresAt:               s.ExpiresAt.UTC(),
	}, nil
}

func fromRow(row *models.Session) (*session.Session, error) {
	var groups []string
	if err := json.Unmarshal([]byte(row.Groups), &groups); err != nil {
		return nil, fmt.Errorf("decode session groups: %w", err)
	}
	if len(groups) == 0 {
		groups = nil
	}
	return &session.Session{
		ID:        row.ID,
		TokenHash: row.TokenHash,
		Username:  row.Username,
		Groups:    groups,
		ServiceAccount: auth.ServiceAccount{
			Namespace: row.ServiceAccountNamespace,
			Name:      row.ServiceAccountName,
		},
		BearerToken: row.BearerToken,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}
