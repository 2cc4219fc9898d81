package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	approvalmetrics "warden/internal/approval/metrics"
	"warden/internal/audit"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

const (
	// DefaultTTL bounds how long a request may sit pending before it can no
	// longer be decided.
	DefaultTTL = 24 * time.Hour

	sweepBatchSize = 50
)

// Service owns the approval request lifecycle. It never executes the deferred
// action itself; callers observe the terminal status and act on it.
type Service struct {
	store   Store
	auditor *audit.Recorder
	logger  *slog.Logger
	metrics *approvalmetrics.Metrics

	defaultTTL time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *approvalmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultTTL overrides the default approval window.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

func NewService(store Store, auditor *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:      store,
		auditor:    auditor,
		logger:     slog.Default(),
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a new pending request for descriptor on behalf of
// requestedBy. ttlOverride, when positive, replaces the default window;
// policy rules use it to shorten the deadline for critical actions.
//
// Errors: CodeInvalidInput / CodeInvalidReason for an unusable descriptor.
func (s *Service) Create(ctx context.Context, requestedBy id.AdminID, descriptor id.ActionDescriptor, severity, rule string, ttlOverride time.Duration) (*Request, error) {
	if requestedBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "requester is required")
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}

	ttl := s.defaultTTL
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	now := requestcontext.Now(ctx)
	request := &Request{
		ID:          id.ApprovalID(uuid.New()),
		Descriptor:  descriptor,
		RequestedBy: requestedBy,
		Status:      StatusPending,
		Severity:    severity,
		Rule:        rule,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.store.Create(ctx, request); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval request")
	}

	s.metrics.IncrementCreated(string(descriptor.Type))
	s.logger.InfoContext(ctx, "approval request created",
		"approval_id", request.ID,
		"action_type", descriptor.Type,
		"requested_by", requestedBy,
		"severity", severity,
		"expires_at", request.ExpiresAt,
	)
	return request, nil
}

// Decide moves the request to its terminal status for outcome. The store's
// compare-and-set guarantees at most one caller ever wins; everyone else gets
// AlreadyDecided. An overdue request is expired here rather than decided, so
// a stale deadline can never be approved past.
//
// Errors: CodeNotFound, CodeAlreadyDecided, CodeExpired, CodeSelfApproval.
func (s *Service) Decide(ctx context.Context, deciderID id.AdminID, requestID id.ApprovalID, outcome id.DecisionOutcome, notes string) (*Request, error) {
	if deciderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "decider is required")
	}

	request, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if request.Status == StatusPending && request.IsExpiredAt(now) {
		if _, expireErr := s.expire(ctx, request, now); expireErr != nil {
			return nil, expireErr
		}
		return nil, dErrors.New(dErrors.CodeExpired, "request expired before a decision was made")
	}
	if err := request.CanDecide(deciderID, now); err != nil {
		return nil, err
	}

	decided, err := s.store.Decide(ctx, requestID, deciderID, outcome, notes, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncrementConflict()
			return nil, dErrors.New(dErrors.CodeAlreadyDecided, "request was decided concurrently")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decide approval request")
		}
	}

	s.metrics.IncrementDecided(string(decided.Status))
	s.metrics.ObservePendingAge(now.Sub(decided.CreatedAt).Seconds())
	s.logger.InfoContext(ctx, "approval request decided",
		"approval_id", decided.ID,
		"status", decided.Status,
		"decided_by", deciderID,
	)
	return decided, nil
}

// Get returns the request by id. A pending request past its deadline is
// transitioned to expired before being returned, so readers never observe a
// decidable-looking request that is actually dead.
func (s *Service) Get(ctx context.Context, requestID id.ApprovalID) (*Request, error) {
	request, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if request.Status == StatusPending && request.IsExpiredAt(now) {
		return s.expire(ctx, request, now)
	}
	return request, nil
}

// ListPending returns the decidable queue, oldest first. Overdue requests are
// resolved to expired and excluded.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	if limit <= 0 || limit > sweepBatchSize {
		limit = sweepBatchSize
	}
	requests, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending approval requests")
	}

	now := requestcontext.Now(ctx)
	live := make([]*Request, 0, len(requests))
	for _, request := range requests {
		if request.IsExpiredAt(now) {
			if _, err := s.expire(ctx, request, now); err != nil {
				return nil, err
			}
			continue
		}
		live = append(live, request)
	}
	return live, nil
}

// SweepExpired expires every overdue pending request, in batches. Expiry is
// otherwise lazy at read time; the sweep bounds how long an untouched request
// can linger. Returns how many were expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	expired := 0
	for {
		overdue, err := s.store.ListOverdue(ctx, now, sweepBatchSize)
		if err != nil {
			return expired, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overdue approval requests")
		}
		if len(overdue) == 0 {
			return expired, nil
		}
		for _, request := range overdue {
			if _, err := s.expire(ctx, request, now); err != nil {
				return expired, err
			}
			expired++
		}
		if len(overdue) < sweepBatchSize {
			return expired, nil
		}
	}
}

func (s *Service) get(ctx context.Context, requestID id.ApprovalID) (*Request, error) {
	request, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
	}
	return request, nil
}

// expire performs the pending -> expired transition and records it on the
// audit trail. Losing the transition race to a concurrent decider is fine:
// the winner's terminal status stands and is returned.
func (s *Service) expire(ctx context.Context, request *Request, now time.Time) (*Request, error) {
	expired, err := s.store.MarkExpired(ctx, request.ID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.get(ctx, request.ID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire approval request")
	}

	s.metrics.IncrementExpired()
	if _, err := s.auditor.Append(ctx, audit.Entry{
		Actor:      expired.RequestedBy,
		Action:     audit.ActionApprovalExpired,
		EntityType: expired.Descriptor.EntityType,
		EntityID:   expired.Descriptor.EntityID(),
		ApprovalID: &expired.ID,
		Changes: map[string]any{
			"action_type": string(expired.Descriptor.Type),
			"expired_at":  now,
		},
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "approval request expired",
		"approval_id", expired.ID,
		"action_type", expired.Descriptor.Type,
	)
	return expired, nil
}
