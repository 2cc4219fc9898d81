package impersonation

import (
	"context"
	"time"

	id "warden/pkg/domain"
)

// Store persists impersonation sessions. Create must enforce the one-active-
// session-per-admin invariant atomically: a second Create for the same admin
// while an unexpired active session exists returns sentinel.ErrConflict.
type Store interface {
	Create(ctx context.Context, session *Session) error

	FindByID(ctx context.Context, sessionID id.SessionID) (*Session, error)

	// ActiveForAdmin returns the admin's unexpired active session, or
	// sentinel.ErrNotFound when there is none.
	ActiveForAdmin(ctx context.Context, adminID id.AdminID) (*Session, error)

	// End transitions active -> ended. Returns sentinel.ErrNotFound for an
	// unknown session and sentinel.ErrConflict when it was already ended.
	End(ctx context.Context, sessionID id.SessionID, endedAt time.Time) (*Session, error)

	// ListByAdmin returns the admin's recent sessions, newest first.
	ListByAdmin(ctx context.Context, adminID id.AdminID, limit int) ([]*Session, error)
}
