package policy

import id "warden/pkg/domain"

// Payload field names shared by the built-in rules and the bulk coordinator.
const (
	FieldEntityIDs   = "entity_ids"
	FieldTargetCount = "target_count"
	FieldTotalAmount = "total_amount_cents"
	FieldCurrency    = "currency"
	FieldFlagName    = "flag_name"
	FieldFlagValue   = "flag_value"
	FieldTargetUser  = "target_user_id"
	FieldEscalated   = "escalated"
)

// NewDefaultRegistry builds the registry with the marketplace's built-in
// rules bound to the configured thresholds.
func NewDefaultRegistry(t Thresholds) *Registry {
	r := NewRegistry()

	r.Register(id.ActionPayoutBatchCreate,
		Schema{
			Required: []string{FieldEntityIDs, FieldTotalAmount, FieldCurrency},
			Numeric:  []string{FieldTotalAmount},
		},
		amountRule("payout_amount_threshold", t.PayoutApprovalAmount, SeverityCritical))

	r.Register(id.ActionRefundIssue,
		Schema{
			Required: []string{FieldTotalAmount, FieldCurrency},
			Numeric:  []string{FieldTotalAmount},
		},
		amountRule("refund_amount_threshold", t.RefundApprovalAmount, SeverityHigh))

	r.Register(id.ActionUserSuspend,
		Schema{
			Required: []string{FieldTargetCount},
			Numeric:  []string{FieldTargetCount},
		},
		countRule("bulk_suspend_threshold", t.BulkSuspendCount, SeverityHigh))

	// Deletion is destructive; one target is already enough to gate.
	r.Register(id.ActionUserDelete,
		Schema{
			Required: []string{FieldTargetCount},
			Numeric:  []string{FieldTargetCount},
		},
		alwaysRule("user_delete_always_gated", SeverityCritical))

	r.Register(id.ActionFeatureFlagToggle,
		Schema{Required: []string{FieldFlagName, FieldFlagValue}},
		alwaysRule("config_change_always_gated", SeverityMedium))

	// Impersonation is gated only when the caller flags it for escalation;
	// routine support impersonation is audited but immediate.
	r.Register(id.ActionImpersonateUser,
		Schema{Required: []string{FieldTargetUser}},
		func(payload id.Payload) Decision {
			if escalated, _ := payload[FieldEscalated].(bool); escalated {
				return Decision{RequiresApproval: true, Severity: SeverityHigh, Rule: "impersonation_escalated"}
			}
			return Decision{RequiresApproval: false, Severity: SeverityMedium, Rule: "impersonation_routine"}
		})

	return r
}

// amountRule gates when the payload's aggregate amount exceeds the threshold.
// A missing or malformed amount gates too: an aggregate the rule cannot read
// must not pass as zero.
func amountRule(name string, threshold int64, severity Severity) Rule {
	return func(payload id.Payload) Decision {
		amount, ok := AmountOf(payload)
		if !ok || amount > threshold {
			return Decision{RequiresApproval: true, Severity: severity, Rule: name}
		}
		return Decision{RequiresApproval: false, Severity: SeverityLow, Rule: name}
	}
}

// countRule gates when the payload targets more entities than the threshold,
// and on an unreadable count for the same reason as amountRule.
func countRule(name string, threshold int, severity Severity) Rule {
	return func(payload id.Payload) Decision {
		count, ok := CountOf(payload)
		if !ok || count > threshold {
			return Decision{RequiresApproval: true, Severity: severity, Rule: name}
		}
		return Decision{RequiresApproval: false, Severity: SeverityLow, Rule: name}
	}
}

func alwaysRule(name string, severity Severity) Rule {
	return func(id.Payload) Decision {
		return Decision{RequiresApproval: true, Severity: severity, Rule: name}
	}
}

// AmountOf reads the aggregate amount from a payload, tolerating the numeric
// types JSON decoding produces. The second return reports whether a usable
// amount was found; callers decide what an unreadable amount means.
func AmountOf(payload id.Payload) (int64, bool) {
	switch v := payload[FieldTotalAmount].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// CountOf reads the target count from a payload, falling back to the length
// of the entity id list when no explicit count is present. The second return
// reports whether a usable count was found.
func CountOf(payload id.Payload) (int, bool) {
	switch v := payload[FieldTargetCount].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	if ids, ok := payload[FieldEntityIDs].([]string); ok {
		return len(ids), true
	}
	if ids, ok := payload[FieldEntityIDs].([]any); ok {
		return len(ids), true
	}
	return 0, false
}
