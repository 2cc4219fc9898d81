// Package approval manages the lifecycle of deferred privileged actions.
// A request is created pending, decided exactly once by a different admin
// than its requester, and becomes immutable at its first terminal status.
package approval

import (
	"time"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Status is the lifecycle state of an approval request. Transitions are
// monotonic and single-shot: pending -> {approved, rejected, expired}, never
// reversed, never re-decided.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Request is a deferred privileged action awaiting a second principal's
// decision.
type Request struct {
	ID          id.ApprovalID
	Descriptor  id.ActionDescriptor
	RequestedBy id.AdminID
	Status      Status
	// Severity and Rule record what the policy registry decided at creation
	// time, for reviewer context.
	Severity string
	Rule     string

	CreatedAt time.Time
	ExpiresAt time.Time

	DecidedBy     *id.AdminID
	DecidedAt     *time.Time
	DecisionNotes string
}

// IsExpiredAt reports whether the request's deadline has passed. Pure time
// comparison; callers supply "now" so expiry is consistent within a request.
func (r *Request) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CanDecide validates that a decision by deciderID at now is permissible.
// It checks the separation-of-duties and liveness invariants but not the
// atomic status transition; the store owns that.
func (r *Request) CanDecide(deciderID id.AdminID, now time.Time) error {
	if r.Status != StatusPending {
		return dErrors.Newf(dErrors.CodeAlreadyDecided, "request is already %s", r.Status)
	}
	if r.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeExpired, "request expired before a decision was made")
	}
	if deciderID == r.RequestedBy {
		return dErrors.New(dErrors.CodeSelfApproval, "requester cannot decide their own request")
	}
	return nil
}
