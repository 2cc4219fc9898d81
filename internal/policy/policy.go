// Package policy is the risk policy registry: pure rules mapping an action
// type and its payload to whether dual control is required and how severe the
// action is. Rules perform no I/O so the gateway can evaluate them inside the
// same transaction boundary as request creation.
package policy

import (
	"time"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Severity tiers an action for alerting and review prioritization.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

// Decision is the outcome of evaluating a rule against a payload.
type Decision struct {
	RequiresApproval bool
	Severity         Severity
	// Rule names the rule that produced the decision, for audit context.
	Rule string
	// TTLOverride, when non-zero, replaces the default approval window.
	TTLOverride time.Duration
}

// Rule evaluates a payload. Rules must be pure: deterministic, side-effect
// free, no storage or network access.
type Rule func(payload id.Payload) Decision

// Schema lists the payload fields an action type must carry. Payload shape is
// checked at the boundary rather than trusted blindly.
type Schema struct {
	Required []string
	// Numeric names fields that must carry a numeric value when present.
	// Mistyped numerics are rejected at the boundary, never read as zero.
	Numeric []string
}

// Thresholds are the configured limits the built-in rules evaluate against.
// Amounts are in currency minor units.
type Thresholds struct {
	PayoutApprovalAmount int64
	RefundApprovalAmount int64
	BulkSuspendCount     int
}

// Registry maps action types to rules and payload schemas. Unknown action
// types fail closed: approval required, severity unknown.
type Registry struct {
	rules   map[id.ActionType]Rule
	schemas map[id.ActionType]Schema
}

// NewRegistry returns an empty registry. Most callers want NewDefaultRegistry.
func NewRegistry() *Registry {
	return &Registry{
		rules:   make(map[id.ActionType]Rule),
		schemas: make(map[id.ActionType]Schema),
	}
}

// Register binds a rule and payload schema to an action type, replacing any
// previous binding. Rules are versioned by deployment, not persisted.
func (r *Registry) Register(actionType id.ActionType, schema Schema, rule Rule) {
	r.rules[actionType] = rule
	r.schemas[actionType] = schema
}

// Evaluate applies the registered rule for the action type. Unknown action
// types require approval (fail closed) so an unreviewed new action can never
// slip past dual control by omission.
func (r *Registry) Evaluate(actionType id.ActionType, payload id.Payload) Decision {
	rule, ok := r.rules[actionType]
	if !ok {
		return Decision{
			RequiresApproval: true,
			Severity:         SeverityUnknown,
			Rule:             "unregistered_action_fails_closed",
		}
	}
	return rule(payload)
}

// ValidatePayload checks the payload against the registered schema. Unknown
// action types pass validation; they are gated by Evaluate instead.
func (r *Registry) ValidatePayload(actionType id.ActionType, payload id.Payload) error {
	schema, ok := r.schemas[actionType]
	if !ok {
		return nil
	}
	for _, field := range schema.Required {
		if _, present := payload[field]; !present {
			return dErrors.Newf(dErrors.CodeInvalidInput, "payload for %s requires field %q", actionType, field)
		}
	}
	for _, field := range schema.Numeric {
		value, present := payload[field]
		if !present {
			continue
		}
		if !isNumeric(value) {
			return dErrors.Newf(dErrors.CodeInvalidInput, "payload field %q for %s must be numeric", field, actionType)
		}
	}
	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// Known reports whether the action type has a registered rule.
func (r *Registry) Known(actionType id.ActionType) bool {
	_, ok := r.rules[actionType]
	return ok
}
