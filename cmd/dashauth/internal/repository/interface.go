package repository

import (
	"context"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/session"
)

// SessionRepository is a session.Store that can also enumerate its contents
// for operators.
type SessionRepository interface {
	session.Store

	// List returns every stored session, newest first, including expired ones.
	List(ctx context.Context) ([]*session.Session, error)
}
