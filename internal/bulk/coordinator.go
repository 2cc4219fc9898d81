// Package bulk folds N-target administrative actions into a single action
// descriptor, so one approval request and one audit entry cover the whole
// batch and risk thresholds apply to the batch aggregate rather than to
// items individually.
package bulk

import (
	"context"
	"log/slog"
	"strings"

	"warden/internal/gateway"
	"warden/internal/policy"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Submitter is the gateway surface the coordinator needs. Satisfied by
// *gateway.Gateway.
type Submitter interface {
	Submit(ctx context.Context, req gateway.SubmitRequest) (*gateway.Result, error)
}

// Batch is one bulk invocation before packing.
type Batch struct {
	ActionType id.ActionType
	EntityType string
	EntityIDs  []string
	// AmountsCents, when present, must align with EntityIDs one-to-one; the
	// coordinator sums them into the payload aggregate for threshold rules.
	AmountsCents []int64
	Currency     string
	Reason       string
}

// Coordinator packs batches and pushes them through the gateway.
type Coordinator struct {
	submitter Submitter
	logger    *slog.Logger
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func NewCoordinator(submitter Submitter, opts ...Option) *Coordinator {
	c := &Coordinator{submitter: submitter, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare packs the batch into one descriptor. Target ids are de-duplicated
// preserving first occurrence; the payload carries the full id list, the
// target count, and (when amounts are supplied) the summed amount, so the
// policy registry evaluates the batch as a whole.
func Prepare(batch Batch) (id.ActionDescriptor, error) {
	actionType, err := id.ParseActionType(string(batch.ActionType))
	if err != nil {
		return id.ActionDescriptor{}, err
	}
	if strings.TrimSpace(batch.EntityType) == "" {
		return id.ActionDescriptor{}, dErrors.New(dErrors.CodeInvalidInput, "entity type is required")
	}
	if len(batch.EntityIDs) == 0 {
		return id.ActionDescriptor{}, dErrors.New(dErrors.CodeInvalidInput, "a bulk action requires at least one target")
	}
	if len(batch.AmountsCents) > 0 && len(batch.AmountsCents) != len(batch.EntityIDs) {
		return id.ActionDescriptor{}, dErrors.Newf(dErrors.CodeInvalidInput,
			"amounts and targets disagree: %d amounts for %d targets", len(batch.AmountsCents), len(batch.EntityIDs))
	}

	seen := make(map[string]struct{}, len(batch.EntityIDs))
	ids := make([]string, 0, len(batch.EntityIDs))
	var total int64
	for i, entityID := range batch.EntityIDs {
		entityID = strings.TrimSpace(entityID)
		if entityID == "" {
			return id.ActionDescriptor{}, dErrors.New(dErrors.CodeInvalidInput, "target ids cannot be blank")
		}
		if _, dup := seen[entityID]; dup {
			continue
		}
		seen[entityID] = struct{}{}
		ids = append(ids, entityID)
		if len(batch.AmountsCents) > 0 {
			total += batch.AmountsCents[i]
		}
	}

	payload := id.Payload{
		policy.FieldEntityIDs:   ids,
		policy.FieldTargetCount: len(ids),
	}
	if len(batch.AmountsCents) > 0 {
		payload[policy.FieldTotalAmount] = total
		payload[policy.FieldCurrency] = batch.Currency
	}

	descriptor := id.ActionDescriptor{
		Type:       actionType,
		EntityType: batch.EntityType,
		EntityIDs:  ids,
		Payload:    payload,
		Reason:     batch.Reason,
	}
	if err := descriptor.Validate(); err != nil {
		return id.ActionDescriptor{}, err
	}
	return descriptor, nil
}

// SubmitOnce packs the batch and submits it exactly once. The idempotency key
// shields the invocation against transport-level replay: however many times
// the same key reaches the gateway, one approval request or one execution
// results.
func (c *Coordinator) SubmitOnce(ctx context.Context, requestedBy id.AdminID, batch Batch, idempotencyKey string) (*gateway.Result, error) {
	descriptor, err := Prepare(batch)
	if err != nil {
		return nil, err
	}

	result, err := c.submitter.Submit(ctx, gateway.SubmitRequest{
		Descriptor:     descriptor,
		RequestedBy:    requestedBy,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "bulk action submitted",
		"action_type", descriptor.Type,
		"entity_type", descriptor.EntityType,
		"target_count", len(descriptor.EntityIDs),
		"status", result.Status,
	)
	return result, nil
}
