// Package gateway is the dual-control choke point for privileged actions.
// Every privileged mutation enters through Submit; the risk policy decides
// whether it runs immediately or waits for a second admin, and in either case
// exactly one audit entry records the mutation when it happens.
package gateway

import (
	"context"
	"log/slog"

	"warden/internal/approval"
	"warden/internal/audit"
	gatewaymetrics "warden/internal/gateway/metrics"
	"warden/internal/impersonation"
	"warden/internal/policy"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

// ResultStatus says how a submission or resolution ended.
type ResultStatus string

const (
	StatusExecuted        ResultStatus = "executed"
	StatusPendingApproval ResultStatus = "pending_approval"
	StatusRejected        ResultStatus = "rejected"
)

// Result is the caller-visible outcome of Submit or Resolve.
type Result struct {
	Status     ResultStatus
	ApprovalID *id.ApprovalID
	EntryID    *id.EntryID
	// Replayed marks a result reconstructed from an earlier submission with
	// the same idempotency key; nothing was created or executed this time.
	Replayed bool
}

// SubmitRequest is one privileged action entering the gateway.
type SubmitRequest struct {
	Descriptor  id.ActionDescriptor
	RequestedBy id.AdminID
	// IdempotencyKey, when set, deduplicates resubmission of the same
	// logical action (a double click); the first outcome is replayed.
	IdempotencyKey string
}

// ResolveRequest is a second admin's decision on a pending request.
type ResolveRequest struct {
	ApprovalID id.ApprovalID
	DeciderID  id.AdminID
	Outcome    id.DecisionOutcome
	Notes      string
}

// SessionSource reports the acting admin's live impersonation session so it
// can be stamped on audit entries. Implemented by impersonation.Manager.
type SessionSource interface {
	ActiveSessionFor(ctx context.Context, adminID id.AdminID) (*impersonation.Session, error)
}

// Gateway wires policy, approvals, executors and the audit trail together.
type Gateway struct {
	policies  *policy.Registry
	approvals *approval.Service
	auditor   *audit.Recorder
	executors *ExecutorRegistry
	sessions  SessionSource
	guard     IdempotencyGuard
	logger    *slog.Logger
	metrics   *gatewaymetrics.Metrics
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *gatewaymetrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSessionSource attaches impersonation stamping.
func WithSessionSource(sessions SessionSource) Option {
	return func(g *Gateway) { g.sessions = sessions }
}

// WithIdempotencyGuard attaches submission deduplication.
func WithIdempotencyGuard(guard IdempotencyGuard) Option {
	return func(g *Gateway) { g.guard = guard }
}

func New(policies *policy.Registry, approvals *approval.Service, auditor *audit.Recorder, executors *ExecutorRegistry, opts ...Option) *Gateway {
	g := &Gateway{
		policies:  policies,
		approvals: approvals,
		auditor:   auditor,
		executors: executors,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit runs the action immediately when policy allows, or parks it behind
// an approval request when it does not. The executor is never invoked on the
// gated path; Resolve owns that.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if req.RequestedBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "requester is required")
	}
	if err := req.Descriptor.Validate(); err != nil {
		return nil, err
	}
	if err := g.policies.ValidatePayload(req.Descriptor.Type, req.Descriptor.Payload); err != nil {
		return nil, err
	}
	if _, err := g.executors.Get(req.Descriptor.Type); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "action type cannot be executed")
	}

	release, replay, err := g.claimKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		g.metrics.IncrementReplay()
		return replay, nil
	}

	decision := g.policies.Evaluate(req.Descriptor.Type, req.Descriptor.Payload)

	if decision.RequiresApproval {
		request, err := g.approvals.Create(ctx, req.RequestedBy, req.Descriptor,
			string(decision.Severity), decision.Rule, decision.TTLOverride)
		if err != nil {
			release(ctx)
			return nil, err
		}
		g.metrics.IncrementSubmission(string(req.Descriptor.Type), "gated")
		result := &Result{Status: StatusPendingApproval, ApprovalID: &request.ID}
		g.recordKey(ctx, req.IdempotencyKey, result)
		return result, nil
	}

	entryID, err := g.execute(ctx, req.RequestedBy, req.Descriptor, nil, "")
	if err != nil {
		release(ctx)
		return nil, err
	}
	g.metrics.IncrementSubmission(string(req.Descriptor.Type), "immediate")
	result := &Result{Status: StatusExecuted, EntryID: entryID}
	g.recordKey(ctx, req.IdempotencyKey, result)
	return result, nil
}

// Resolve applies a decision to a pending request. On approval the stored
// action runs exactly once: the store's atomic pending-to-approved transition
// admits a single winner, and only the winner reaches the executor. On
// rejection no executor call occurs and a terminal audit entry records the
// outcome.
//
// An executor failure after approval leaves the request approved and is not
// retried; re-running a financial mutation automatically is worse than a
// stalled approved-but-unexecuted record, which operations can re-submit
// deliberately.
func (g *Gateway) Resolve(ctx context.Context, req ResolveRequest) (*Result, error) {
	decided, err := g.approvals.Decide(ctx, req.DeciderID, req.ApprovalID, req.Outcome, req.Notes)
	if err != nil {
		return nil, err
	}

	if decided.Status == approval.StatusRejected {
		entryID, err := g.auditor.Append(ctx, audit.Entry{
			Actor:                  req.DeciderID,
			Action:                 audit.ActionApprovalRejected,
			EntityType:             decided.Descriptor.EntityType,
			EntityID:               decided.Descriptor.EntityID(),
			ApprovalID:             &decided.ID,
			ImpersonationSessionID: g.activeSessionID(ctx, req.DeciderID),
			Changes: map[string]any{
				"action_type":    string(decided.Descriptor.Type),
				"requested_by":   decided.RequestedBy.String(),
				"decision_notes": req.Notes,
			},
		})
		if err != nil {
			return nil, err
		}
		g.metrics.IncrementResolution("rejected")
		return &Result{Status: StatusRejected, ApprovalID: &decided.ID, EntryID: &entryID}, nil
	}

	entryID, err := g.execute(ctx, req.DeciderID, decided.Descriptor, &decided.ID, req.Notes)
	if err != nil {
		return nil, err
	}
	g.metrics.IncrementResolution("approved")
	return &Result{Status: StatusExecuted, ApprovalID: &decided.ID, EntryID: entryID}, nil
}

// execute runs the action and then appends its audit entry. The ordering is
// deliberate and fail-closed: a mutation whose entry cannot be appended is
// reported as failed even though the executor succeeded, because an
// unaccounted-for privileged action is the worse outcome.
func (g *Gateway) execute(ctx context.Context, actor id.AdminID, descriptor id.ActionDescriptor, approvalID *id.ApprovalID, notes string) (*id.EntryID, error) {
	executor, err := g.executors.Get(descriptor.Type)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "action type cannot be executed")
	}

	start := requestcontext.Now(ctx)
	changes, err := executor.Execute(ctx, descriptor)
	g.metrics.ObserveExecuteLatency(string(descriptor.Type), requestcontext.Now(ctx).Sub(start).Seconds())
	if err != nil {
		g.metrics.IncrementExecution(string(descriptor.Type), "failure")
		g.logger.ErrorContext(ctx, "executor failed",
			"action_type", descriptor.Type,
			"actor_id", actor,
			"approval_id", approvalID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeExecutorFailed, "privileged action failed to execute")
	}
	g.metrics.IncrementExecution(string(descriptor.Type), "success")

	if changes == nil {
		changes = map[string]any{}
	}
	changes["reason"] = descriptor.Reason
	if notes != "" {
		changes["decision_notes"] = notes
	}
	if descriptor.IsBulk() {
		changes["target_count"] = len(descriptor.EntityIDs)
		changes["entity_ids"] = descriptor.EntityIDs
	}

	entryID, err := g.auditor.Append(ctx, audit.Entry{
		Actor:                  actor,
		Action:                 string(descriptor.Type),
		EntityType:             descriptor.EntityType,
		EntityID:               descriptor.EntityID(),
		Changes:                changes,
		ApprovalID:             approvalID,
		ImpersonationSessionID: g.activeSessionID(ctx, actor),
	})
	if err != nil {
		return nil, err
	}
	return &entryID, nil
}

// activeSessionID returns the actor's live impersonation session id, if any.
// Lookup failures are logged and treated as no session rather than blocking
// the action.
func (g *Gateway) activeSessionID(ctx context.Context, adminID id.AdminID) *id.SessionID {
	if g.sessions == nil {
		return nil
	}
	session, err := g.sessions.ActiveSessionFor(ctx, adminID)
	if err != nil {
		g.logger.WarnContext(ctx, "failed to resolve active impersonation session",
			"admin_id", adminID, "error", err)
		return nil
	}
	if session == nil {
		return nil
	}
	return &session.ID
}

// claimKey claims the idempotency key. It returns a release func for the
// failure path and, when the key was already held with a recorded outcome,
// the replayed result.
func (g *Gateway) claimKey(ctx context.Context, key string) (func(context.Context), *Result, error) {
	noop := func(context.Context) {}
	if g.guard == nil || key == "" {
		return noop, nil, nil
	}

	ref, claimed, err := g.guard.Claim(ctx, key)
	if err != nil {
		return noop, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check idempotency key")
	}
	if claimed {
		release := func(ctx context.Context) {
			if err := g.guard.Release(ctx, key); err != nil {
				g.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
			}
		}
		return release, nil, nil
	}
	if ref == nil {
		// Held by an in-flight submission whose outcome is not yet recorded.
		return noop, nil, dErrors.New(dErrors.CodeConflict, "a submission with this idempotency key is in progress")
	}

	result := &Result{Status: ref.Status, Replayed: true}
	if ref.ApprovalID != "" {
		approvalID, err := id.ParseApprovalID(ref.ApprovalID)
		if err == nil {
			result.ApprovalID = &approvalID
		}
	}
	if ref.EntryID != "" {
		if entryUUID, err := id.ParseEntryID(ref.EntryID); err == nil {
			result.EntryID = &entryUUID
		}
	}
	return noop, result, nil
}

func (g *Gateway) recordKey(ctx context.Context, key string, result *Result) {
	if g.guard == nil || key == "" {
		return
	}
	ref := SubmissionRef{Status: result.Status}
	if result.ApprovalID != nil {
		ref.ApprovalID = result.ApprovalID.String()
	}
	if result.EntryID != nil {
		ref.EntryID = result.EntryID.String()
	}
	if err := g.guard.Record(ctx, key, ref); err != nil {
		g.logger.WarnContext(ctx, "failed to record idempotency outcome", "error", err)
	}
}
