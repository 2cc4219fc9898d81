package approval

import (
	"context"
	"time"

	id "warden/pkg/domain"
)

// Store persists approval requests. The Decide and MarkExpired operations are
// the system's one true critical section: implementations must perform the
// pending -> terminal transition as a single atomic compare-and-set keyed on
// (id, status=pending), so a losing concurrent caller observes
// sentinel.ErrConflict rather than silently overwriting a decision.
type Store interface {
	Create(ctx context.Context, request *Request) error

	// Decide atomically transitions the request from pending to the terminal
	// status for outcome, stamping decider and decision time. Returns the
	// updated request on success, sentinel.ErrNotFound for an unknown id, and
	// sentinel.ErrConflict when the request was no longer pending.
	Decide(ctx context.Context, requestID id.ApprovalID, deciderID id.AdminID, outcome id.DecisionOutcome, notes string, decidedAt time.Time) (*Request, error)

	// MarkExpired atomically transitions pending -> expired. Same conflict
	// semantics as Decide.
	MarkExpired(ctx context.Context, requestID id.ApprovalID, at time.Time) (*Request, error)

	FindByID(ctx context.Context, requestID id.ApprovalID) (*Request, error)

	// ListPending returns pending requests ordered oldest first, including
	// overdue ones; the service resolves those to expired before callers see
	// them.
	ListPending(ctx context.Context, limit int) ([]*Request, error)

	// ListOverdue returns pending requests whose deadline passed before now.
	// Used by the background sweep.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Request, error)
}
