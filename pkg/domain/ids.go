// Package domain holds shared value objects for the dual-control core: typed
// identifiers, action descriptors, and decision outcomes. Typed UUIDs make
// cross-entity assignment a compile error at every service boundary.
package domain

import (
	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// AdminID identifies an authenticated admin operator (a Principal).
type AdminID uuid.UUID

// UserID identifies a marketplace end user, e.g. an impersonation target.
type UserID uuid.UUID

// ApprovalID identifies a deferred privileged action awaiting decision.
type ApprovalID uuid.UUID

// SessionID identifies an impersonation session.
type SessionID uuid.UUID

// EntryID identifies an audit log entry.
type EntryID uuid.UUID

func (id AdminID) String() string    { return uuid.UUID(id).String() }
func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id EntryID) String() string    { return uuid.UUID(id).String() }

func (id AdminID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Construct typed IDs via the Parse functions at trust
// boundaries; direct casting bypasses validation.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", kind)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", kind)
	}
	return parsed, nil
}

// ParseAdminID constructs an AdminID from external input.
func ParseAdminID(s string) (AdminID, error) {
	parsed, err := parseUUID(s, "admin id")
	return AdminID(parsed), err
}

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	parsed, err := parseUUID(s, "user id")
	return UserID(parsed), err
}

// ParseApprovalID constructs an ApprovalID from external input.
func ParseApprovalID(s string) (ApprovalID, error) {
	parsed, err := parseUUID(s, "approval id")
	return ApprovalID(parsed), err
}

// ParseSessionID constructs a SessionID from external input.
func ParseSessionID(s string) (SessionID, error) {
	parsed, err := parseUUID(s, "session id")
	return SessionID(parsed), err
}

// ParseEntryID constructs an EntryID from external input.
func ParseEntryID(s string) (EntryID, error) {
	parsed, err := parseUUID(s, "entry id")
	return EntryID(parsed), err
}
