// Package audit is the append-only system of record for privileged actions.
// Entries are immutable once appended; nothing in this package or its stores
// exposes an update or delete.
package audit

import (
	"time"

	id "warden/pkg/domain"
)

// Entry is one appended fact: who did what to which entity, when, and under
// which approval or impersonation session if any.
type Entry struct {
	ID         id.EntryID
	Actor      id.AdminID
	Action     string
	EntityType string
	// EntityID is empty for batch-level entries; the Changes snapshot then
	// carries the full target list.
	EntityID string
	// Changes is the structured before/after or parameter snapshot needed to
	// reconstruct what the action did.
	Changes map[string]any
	// ApprovalID links the entry to the approval that authorized it, when the
	// action went through dual control.
	ApprovalID *id.ApprovalID
	// ImpersonationSessionID is set when the actor had an active
	// impersonation session at the decision instant.
	ImpersonationSessionID *id.SessionID
	SourceIP               string
	RequestID              string
	CreatedAt              time.Time
}

// Filter narrows a query. Zero values mean "no constraint".
type Filter struct {
	Actor            *id.AdminID
	EntityType       string
	ApprovalID       *id.ApprovalID
	ImpersonatedOnly bool
	From             time.Time
	To               time.Time
	Limit            int
}

// Actions recorded by the core itself, alongside the gated action tags.
const (
	ActionApprovalRejected = "approval_rejected"
	ActionApprovalExpired  = "approval_expired"

	ActionImpersonationStarted = "impersonation_started"
	ActionImpersonationEnded   = "impersonation_ended"
)
