package gateway

//go:generate mockgen -destination=mocks/mocks.go -package=mocks warden/internal/gateway Executor,SessionSource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/approval"
	approvalmemory "warden/internal/approval/store/memory"
	"warden/internal/audit"
	auditmemory "warden/internal/audit/store/memory"
	"warden/internal/gateway/mocks"
	"warden/internal/impersonation"
	impersonationmemory "warden/internal/impersonation/store/memory"
	"warden/internal/policy"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/testutil"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type GatewaySuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	mockExecutor *mocks.MockExecutor
	auditStore   *auditmemory.Store
	recorder     *audit.Recorder
	approvals    *approval.Service
	sessions     *impersonation.Manager
	gateway      *Gateway
	ctx          context.Context

	requester id.AdminID
	approver  id.AdminID
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockExecutor = mocks.NewMockExecutor(s.ctrl)
	s.auditStore = auditmemory.New()
	s.recorder = audit.NewRecorder(s.auditStore)
	s.approvals = approval.NewService(approvalmemory.New(), s.recorder)
	s.sessions = impersonation.NewManager(impersonationmemory.New(), s.recorder)

	registry := NewExecutorRegistry()
	registry.Register(id.ActionPayoutBatchCreate, s.mockExecutor)
	registry.Register(id.ActionRefundIssue, s.mockExecutor)
	registry.Register(id.ActionUserSuspend, s.mockExecutor)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.gateway = New(
		policy.NewDefaultRegistry(policy.Thresholds{
			PayoutApprovalAmount: 100_000,
			RefundApprovalAmount: 50_000,
			BulkSuspendCount:     1,
		}),
		s.approvals,
		s.recorder,
		registry,
		WithLogger(logger),
		WithSessionSource(s.sessions),
		WithIdempotencyGuard(NewMemoryIdempotencyGuard(time.Hour)),
	)
	s.ctx = testutil.ContextAt(baseTime)
	s.requester = id.AdminID(uuid.New())
	s.approver = id.AdminID(uuid.New())
}

func (s *GatewaySuite) TearDownTest() {
	s.ctrl.Finish()
}

func payoutDescriptor(amountCents int64) id.ActionDescriptor {
	return id.ActionDescriptor{
		Type:       id.ActionPayoutBatchCreate,
		EntityType: "payout_batch",
		EntityIDs:  []string{"batch-41"},
		Payload: id.Payload{
			policy.FieldEntityIDs:   []string{"batch-41"},
			policy.FieldTotalAmount: amountCents,
			policy.FieldCurrency:    "EUR",
		},
		Reason: "weekly seller payout run",
	}
}

func (s *GatewaySuite) auditEntries() []audit.Entry {
	entries, err := s.recorder.Query(s.ctx, audit.Filter{Limit: 100})
	s.Require().NoError(err)
	return entries
}

// Below the threshold the gateway executes synchronously: no approval request
// is created and exactly one audit entry is appended.
func (s *GatewaySuite) TestSubmit_BelowThresholdExecutesImmediately() {
	descriptor := payoutDescriptor(20_000)
	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(map[string]any{"batch_id": "batch-41"}, nil)

	result, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.Require().NoError(err)

	s.Equal(StatusExecuted, result.Status)
	s.Nil(result.ApprovalID)
	s.Require().NotNil(result.EntryID)

	pending, err := s.approvals.ListPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(string(id.ActionPayoutBatchCreate), entries[0].Action)
	s.Equal(s.requester, entries[0].Actor)
	s.Nil(entries[0].ApprovalID)
	s.Equal("batch-41", entries[0].Changes["batch_id"])
	s.Equal("weekly seller payout run", entries[0].Changes["reason"])
}

// Above the threshold the gateway defers: the executor must not run and the
// submission comes back pending.
func (s *GatewaySuite) TestSubmit_AboveThresholdDefers() {
	result, err := s.gateway.Submit(s.ctx, SubmitRequest{
		Descriptor:  payoutDescriptor(150_000),
		RequestedBy: s.requester,
	})
	s.Require().NoError(err)

	s.Equal(StatusPendingApproval, result.Status)
	s.Require().NotNil(result.ApprovalID)
	s.Nil(result.EntryID)

	request, err := s.approvals.Get(s.ctx, *result.ApprovalID)
	s.Require().NoError(err)
	s.Equal(approval.StatusPending, request.Status)
	s.Equal("payout_amount_threshold", request.Rule)

	// No mutation happened, so no audit entry yet.
	s.Empty(s.auditEntries())
}

func (s *GatewaySuite) TestSubmit_ExecutorFailureAppendsNothing() {
	descriptor := payoutDescriptor(20_000)
	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(nil, errors.New("payment provider unavailable"))

	_, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.True(dErrors.HasCode(err, dErrors.CodeExecutorFailed))
	s.Empty(s.auditEntries())
}

func (s *GatewaySuite) TestSubmit_UnknownActionFailsClosed() {
	descriptor := id.ActionDescriptor{
		Type:       id.ActionType("warehouse_purge"),
		EntityType: "warehouse",
		EntityIDs:  []string{"wh-1"},
		Reason:     "cleanup",
	}

	_, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	// Nothing is registered to execute an unknown action type; it can never
	// slip through as an immediate execution.
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *GatewaySuite) TestSubmit_PayloadSchemaEnforced() {
	descriptor := payoutDescriptor(20_000)
	delete(descriptor.Payload, policy.FieldCurrency)

	_, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *GatewaySuite) TestSubmit_MissingReason() {
	descriptor := payoutDescriptor(20_000)
	descriptor.Reason = ""

	_, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidReason))
}

// Approving runs the executor exactly once and the audit entry references the
// approval id.
func (s *GatewaySuite) TestResolve_ApproveExecutesOnce() {
	descriptor := payoutDescriptor(150_000)
	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.Require().NoError(err)

	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(map[string]any{"batch_id": "batch-41"}, nil).
		Times(1)

	result, err := s.gateway.Resolve(s.ctx, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  s.approver,
		Outcome:    id.OutcomeApprove,
		Notes:      "amounts verified",
	})
	s.Require().NoError(err)

	s.Equal(StatusExecuted, result.Status)

	request, err := s.approvals.Get(s.ctx, *submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal(approval.StatusApproved, request.Status)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(string(id.ActionPayoutBatchCreate), entries[0].Action)
	s.Equal(s.approver, entries[0].Actor)
	s.Require().NotNil(entries[0].ApprovalID)
	s.Equal(*submitted.ApprovalID, *entries[0].ApprovalID)
	s.Equal("amounts verified", entries[0].Changes["decision_notes"])
}

func (s *GatewaySuite) TestResolve_RejectNeverExecutes() {
	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{
		Descriptor:  payoutDescriptor(150_000),
		RequestedBy: s.requester,
	})
	s.Require().NoError(err)

	result, err := s.gateway.Resolve(s.ctx, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  s.approver,
		Outcome:    id.OutcomeReject,
		Notes:      "batch total disagrees with the ledger",
	})
	s.Require().NoError(err)

	s.Equal(StatusRejected, result.Status)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionApprovalRejected, entries[0].Action)
	s.Require().NotNil(entries[0].ApprovalID)
}

func (s *GatewaySuite) TestResolve_SelfApprovalBlocked() {
	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{
		Descriptor:  payoutDescriptor(150_000),
		RequestedBy: s.requester,
	})
	s.Require().NoError(err)

	_, err = s.gateway.Resolve(s.ctx, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  s.requester,
		Outcome:    id.OutcomeApprove,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeSelfApproval))

	request, err := s.approvals.Get(s.ctx, *submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal(approval.StatusPending, request.Status)
}

// An executor failure after approval leaves the request approved and is not
// retried; a second Resolve attempt sees AlreadyDecided, never a second run.
func (s *GatewaySuite) TestResolve_ExecutorFailureLeavesRequestApproved() {
	descriptor := payoutDescriptor(150_000)
	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.Require().NoError(err)

	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(nil, errors.New("payment provider unavailable")).
		Times(1)

	_, err = s.gateway.Resolve(s.ctx, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  s.approver,
		Outcome:    id.OutcomeApprove,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeExecutorFailed))

	request, err := s.approvals.Get(s.ctx, *submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal(approval.StatusApproved, request.Status)

	_, err = s.gateway.Resolve(s.ctx, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  id.AdminID(uuid.New()),
		Outcome:    id.OutcomeApprove,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyDecided))
}

func (s *GatewaySuite) TestResolve_ExpiredRequest() {
	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{
		Descriptor:  payoutDescriptor(150_000),
		RequestedBy: s.requester,
	})
	s.Require().NoError(err)

	late := testutil.ContextAt(baseTime.Add(approval.DefaultTTL + time.Minute))
	_, err = s.gateway.Resolve(late, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  s.approver,
		Outcome:    id.OutcomeApprove,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionApprovalExpired, entries[0].Action)
}

// Concurrent resolvers on the same request: exactly one wins and the executor
// side effect exists exactly once.
func (s *GatewaySuite) TestResolve_ConcurrentDecidersExecuteOnce() {
	descriptor := payoutDescriptor(150_000)
	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.Require().NoError(err)

	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(map[string]any{"batch_id": "batch-41"}, nil).
		Times(1)

	const resolvers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.gateway.Resolve(s.ctx, ResolveRequest{
				ApprovalID: *submitted.ApprovalID,
				DeciderID:  id.AdminID(uuid.New()),
				Outcome:    id.OutcomeApprove,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case dErrors.HasCode(err, dErrors.CodeAlreadyDecided):
				conflicts++
			default:
				s.T().Errorf("unexpected resolve error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(1, wins)
	s.Equal(resolvers-1, conflicts)
	s.Len(s.auditEntries(), 1)
}

// A resubmission with the same idempotency key replays the first outcome
// instead of creating a duplicate request.
func (s *GatewaySuite) TestSubmit_IdempotencyKeyDeduplicates() {
	req := SubmitRequest{
		Descriptor:     payoutDescriptor(150_000),
		RequestedBy:    s.requester,
		IdempotencyKey: "payout-run-2026-03-14",
	}

	first, err := s.gateway.Submit(s.ctx, req)
	s.Require().NoError(err)
	s.False(first.Replayed)

	second, err := s.gateway.Submit(s.ctx, req)
	s.Require().NoError(err)
	s.True(second.Replayed)
	s.Equal(StatusPendingApproval, second.Status)
	s.Require().NotNil(second.ApprovalID)
	s.Equal(*first.ApprovalID, *second.ApprovalID)

	pending, err := s.approvals.ListPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

// A failed submission releases its key so a corrected retry is possible.
func (s *GatewaySuite) TestSubmit_FailedSubmissionReleasesKey() {
	descriptor := payoutDescriptor(20_000)
	gomock.InOrder(
		s.mockExecutor.EXPECT().
			Execute(gomock.Any(), descriptor).
			Return(nil, errors.New("payment provider unavailable")),
		s.mockExecutor.EXPECT().
			Execute(gomock.Any(), descriptor).
			Return(map[string]any{"batch_id": "batch-41"}, nil),
	)

	req := SubmitRequest{
		Descriptor:     descriptor,
		RequestedBy:    s.requester,
		IdempotencyKey: "payout-run-2026-03-14",
	}

	_, err := s.gateway.Submit(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeExecutorFailed))

	result, err := s.gateway.Submit(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(StatusExecuted, result.Status)
	s.False(result.Replayed)
}

// Actions performed while the actor impersonates a user carry the session id.
func (s *GatewaySuite) TestSubmit_StampsActiveImpersonationSession() {
	session, err := s.sessions.Start(s.ctx, s.requester, id.UserID(uuid.New()), "support ticket 8812")
	s.Require().NoError(err)

	descriptor := payoutDescriptor(20_000)
	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(nil, nil)

	result, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.Require().NoError(err)

	entries, err := s.recorder.Query(s.ctx, audit.Filter{ImpersonatedOnly: true, Limit: 10})
	s.Require().NoError(err)

	var found bool
	for _, entry := range entries {
		if entry.ID == *result.EntryID {
			found = true
			s.Require().NotNil(entry.ImpersonationSessionID)
			s.Equal(session.ID, *entry.ImpersonationSessionID)
		}
	}
	s.True(found, "executed action should carry the active session id")
}

// A bulk action over N entities produces one audit entry, not N.
func (s *GatewaySuite) TestSubmit_BulkActionProducesOneEntry() {
	descriptor := id.ActionDescriptor{
		Type:       id.ActionUserSuspend,
		EntityType: "user",
		EntityIDs:  []string{"u-1", "u-2", "u-3"},
		Payload: id.Payload{
			policy.FieldEntityIDs:   []string{"u-1", "u-2", "u-3"},
			policy.FieldTargetCount: 3,
		},
		Reason: "coordinated fraud ring takedown",
	}

	submitted, err := s.gateway.Submit(s.ctx, SubmitRequest{Descriptor: descriptor, RequestedBy: s.requester})
	s.Require().NoError(err)
	s.Equal(StatusPendingApproval, submitted.Status)

	s.mockExecutor.EXPECT().
		Execute(gomock.Any(), descriptor).
		Return(nil, nil).
		Times(1)

	_, err = s.gateway.Resolve(s.ctx, ResolveRequest{
		ApprovalID: *submitted.ApprovalID,
		DeciderID:  s.approver,
		Outcome:    id.OutcomeApprove,
	})
	s.Require().NoError(err)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(3, entries[0].Changes["target_count"])
	s.Empty(entries[0].EntityID)
}

type unavailableAuditStore struct{}

func (unavailableAuditStore) Append(context.Context, audit.Entry) error {
	return errors.New("storage unavailable")
}

func (unavailableAuditStore) Query(context.Context, audit.Filter) ([]audit.Entry, error) {
	return nil, errors.New("storage unavailable")
}

// An action that cannot be audited must not be reported as complete, even
// when the executor itself succeeded.
func TestSubmit_AuditFailureFailsOperation(t *testing.T) {
	registry := NewExecutorRegistry()
	registry.Register(id.ActionPayoutBatchCreate, ExecutorFunc(
		func(context.Context, id.ActionDescriptor) (map[string]any, error) {
			return map[string]any{"batch_id": "batch-41"}, nil
		}))

	gw := New(
		policy.NewDefaultRegistry(policy.Thresholds{
			PayoutApprovalAmount: 100_000,
			RefundApprovalAmount: 50_000,
			BulkSuspendCount:     1,
		}),
		approval.NewService(approvalmemory.New(), audit.NewRecorder(unavailableAuditStore{})),
		audit.NewRecorder(unavailableAuditStore{}),
		registry,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err := gw.Submit(testutil.ContextAt(baseTime), SubmitRequest{
		Descriptor:  payoutDescriptor(20_000),
		RequestedBy: id.AdminID(uuid.New()),
	})
	if err == nil {
		t.Fatal("expected submit to fail when the audit append fails")
	}
	if !dErrors.HasCode(err, dErrors.CodeAuditWriteFailed) {
		t.Fatalf("expected audit_write_failed, got %v", err)
	}
}
