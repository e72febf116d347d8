package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Session is the persisted form of a browser session.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID                      string    `bun:"id,pk"`                     // UUIDv7
	TokenHash               string    `bun:"token_hash,notnull,unique"` // SHA256 hash of the cookie token
	Username                string    `bun:"username,notnull"`
	Groups                  string    `bun:"groups,type:text,notnull"` // JSON array
	ServiceAccountNamespace string    `bun:"sa_namespace,notnull"`
	ServiceAccountName      string    `bun:"sa_name,notnull"`
	BearerToken             string    `bun:"bearer_token,type:text,notnull"`
	CreatedAt               time.Time `bun:"created_at,notnull,default:current_timestamp"`
	ExpiresAt               time.Time `bun:"expires_at,notnull"`
}
