package domain

import (
	"strings"

	dErrors "warden/pkg/domain-errors"
)

// ActionType is a namespaced tag identifying a privileged operation. Unknown
// types are legal at parse time; the risk policy registry fails closed on
// anything it has no rule for, so validation here only rejects garbage.
type ActionType string

// Action types with built-in policy rules and executors.
const (
	ActionPayoutBatchCreate ActionType = "payout_batch_create"
	ActionRefundIssue       ActionType = "refund_issue"
	ActionUserSuspend       ActionType = "user_suspend"
	ActionUserDelete        ActionType = "user_delete"
	ActionFeatureFlagToggle ActionType = "feature_flag_toggle"
	ActionImpersonateUser   ActionType = "impersonate_user"
)

// ParseActionType constructs an ActionType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or contains
// whitespace; unknown-but-well-formed types pass so new actions can be gated
// (fail closed) before code ships a rule for them.
func ParseActionType(s string) (ActionType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "action type cannot be empty")
	}
	if strings.ContainsAny(s, " \t\n") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "action type cannot contain whitespace")
	}
	return ActionType(s), nil
}

func (a ActionType) String() string { return string(a) }

// Payload carries the structured data needed to re-execute an action after a
// deferred approval. The shape per action type is declared in the policy
// registry and checked at the boundary, never trusted blindly.
type Payload map[string]any

// ActionDescriptor is the unit the gateway, policy registry, approval store,
// and audit log all agree on. A bulk operation is one descriptor whose
// EntityIDs enumerate the targets, so the whole batch is one logical action.
type ActionDescriptor struct {
	Type       ActionType
	EntityType string
	EntityIDs  []string
	Payload    Payload
	Reason     string
}

// EntityID returns the single target for non-bulk descriptors and the empty
// string when the descriptor targets a batch.
func (d ActionDescriptor) EntityID() string {
	if len(d.EntityIDs) == 1 {
		return d.EntityIDs[0]
	}
	return ""
}

// IsBulk reports whether the descriptor targets more than one entity.
func (d ActionDescriptor) IsBulk() bool { return len(d.EntityIDs) > 1 }

// Validate enforces the descriptor invariants shared by every entry path:
// a parseable action type, at least one target, and a non-empty reason for
// the audit trail.
func (d ActionDescriptor) Validate() error {
	if _, err := ParseActionType(string(d.Type)); err != nil {
		return err
	}
	if d.EntityType == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "entity type is required")
	}
	if len(d.EntityIDs) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one entity id is required")
	}
	for _, id := range d.EntityIDs {
		if id == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "entity ids cannot be empty")
		}
	}
	if strings.TrimSpace(d.Reason) == "" {
		return dErrors.New(dErrors.CodeInvalidReason, "a reason is required for privileged actions")
	}
	return nil
}

// DecisionOutcome is the verdict a second principal renders on a pending
// approval request.
type DecisionOutcome string

const (
	OutcomeApprove DecisionOutcome = "approve"
	OutcomeReject  DecisionOutcome = "reject"
)

// ParseDecisionOutcome constructs a DecisionOutcome from external input.
func ParseDecisionOutcome(s string) (DecisionOutcome, error) {
	switch DecisionOutcome(s) {
	case OutcomeApprove, OutcomeReject:
		return DecisionOutcome(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "outcome must be approve or reject")
	}
}
