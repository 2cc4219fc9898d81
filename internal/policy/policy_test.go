package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

func testThresholds() Thresholds {
	return Thresholds{
		PayoutApprovalAmount: 100_000, // EUR 1000.00
		RefundApprovalAmount: 50_000,
		BulkSuspendCount:     1,
	}
}

func TestEvaluate_PayoutThreshold(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())

	t.Run("above threshold requires approval", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionPayoutBatchCreate, id.Payload{
			FieldTotalAmount: int64(150_000), // EUR 1500
			FieldCurrency:    "EUR",
		})
		assert.True(t, decision.RequiresApproval)
		assert.Equal(t, SeverityCritical, decision.Severity)
	})

	t.Run("below threshold executes immediately", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionPayoutBatchCreate, id.Payload{
			FieldTotalAmount: int64(20_000), // EUR 200
			FieldCurrency:    "EUR",
		})
		assert.False(t, decision.RequiresApproval)
	})

	t.Run("exactly at threshold executes immediately", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionPayoutBatchCreate, id.Payload{
			FieldTotalAmount: int64(100_000),
		})
		assert.False(t, decision.RequiresApproval)
	})

	t.Run("tolerates JSON float64 amounts", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionPayoutBatchCreate, id.Payload{
			FieldTotalAmount: float64(150_000),
		})
		assert.True(t, decision.RequiresApproval)
	})

	// A string amount must never read as zero and slip under the threshold.
	t.Run("unreadable amount requires approval", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionPayoutBatchCreate, id.Payload{
			FieldTotalAmount: "99999999",
			FieldCurrency:    "EUR",
		})
		assert.True(t, decision.RequiresApproval)
		assert.Equal(t, SeverityCritical, decision.Severity)
	})

	t.Run("missing amount requires approval", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionPayoutBatchCreate, id.Payload{
			FieldCurrency: "EUR",
		})
		assert.True(t, decision.RequiresApproval)
	})
}

func TestEvaluate_BulkSuspend(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())

	t.Run("single target executes immediately", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionUserSuspend, id.Payload{FieldTargetCount: 1})
		assert.False(t, decision.RequiresApproval)
	})

	t.Run("multiple targets require approval", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionUserSuspend, id.Payload{FieldTargetCount: 2})
		assert.True(t, decision.RequiresApproval)
		assert.Equal(t, SeverityHigh, decision.Severity)
	})

	t.Run("count falls back to entity id list length", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionUserSuspend, id.Payload{
			FieldEntityIDs: []string{"u1", "u2", "u3"},
		})
		assert.True(t, decision.RequiresApproval)
	})

	t.Run("unreadable count requires approval", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionUserSuspend, id.Payload{
			FieldTargetCount: "3",
		})
		assert.True(t, decision.RequiresApproval)
	})
}

func TestEvaluate_AlwaysGated(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())

	decision := registry.Evaluate(id.ActionUserDelete, id.Payload{FieldTargetCount: 1})
	assert.True(t, decision.RequiresApproval)
	assert.Equal(t, SeverityCritical, decision.Severity)

	decision = registry.Evaluate(id.ActionFeatureFlagToggle, id.Payload{
		FieldFlagName:  "instant_booking",
		FieldFlagValue: true,
	})
	assert.True(t, decision.RequiresApproval)
}

func TestEvaluate_Impersonation(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())

	t.Run("routine impersonation is immediate", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionImpersonateUser, id.Payload{
			FieldTargetUser: "user-1",
		})
		assert.False(t, decision.RequiresApproval)
	})

	t.Run("escalated impersonation is gated", func(t *testing.T) {
		decision := registry.Evaluate(id.ActionImpersonateUser, id.Payload{
			FieldTargetUser: "user-1",
			FieldEscalated:  true,
		})
		assert.True(t, decision.RequiresApproval)
	})
}

// TestEvaluate_UnknownActionFailsClosed covers the core policy invariant:
// an action nobody wrote a rule for must require approval.
func TestEvaluate_UnknownActionFailsClosed(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())

	decision := registry.Evaluate("billing_plan_migrate", id.Payload{})
	assert.True(t, decision.RequiresApproval)
	assert.Equal(t, SeverityUnknown, decision.Severity)
}

func TestValidatePayload(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())

	t.Run("rejects missing required fields", func(t *testing.T) {
		err := registry.ValidatePayload(id.ActionPayoutBatchCreate, id.Payload{
			FieldTotalAmount: int64(1),
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts complete payloads", func(t *testing.T) {
		err := registry.ValidatePayload(id.ActionPayoutBatchCreate, id.Payload{
			FieldEntityIDs:   []string{"p1"},
			FieldTotalAmount: int64(1),
			FieldCurrency:    "EUR",
		})
		require.NoError(t, err)
	})

	t.Run("rejects non-numeric amounts", func(t *testing.T) {
		err := registry.ValidatePayload(id.ActionPayoutBatchCreate, id.Payload{
			FieldEntityIDs:   []string{"p1"},
			FieldTotalAmount: "99999999",
			FieldCurrency:    "EUR",
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects non-numeric counts", func(t *testing.T) {
		err := registry.ValidatePayload(id.ActionUserSuspend, id.Payload{
			FieldTargetCount: "3",
		})
		require.Error(t, err)
	})

	t.Run("unknown action types pass validation", func(t *testing.T) {
		require.NoError(t, registry.ValidatePayload("billing_plan_migrate", id.Payload{}))
	})
}

// TestRulesArePure pins determinism: the same inputs always produce the same
// decision.
func TestRulesArePure(t *testing.T) {
	registry := NewDefaultRegistry(testThresholds())
	payload := id.Payload{FieldTotalAmount: int64(150_000)}

	first := registry.Evaluate(id.ActionPayoutBatchCreate, payload)
	for range 10 {
		assert.Equal(t, first, registry.Evaluate(id.ActionPayoutBatchCreate, payload))
	}
}
