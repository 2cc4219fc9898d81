package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	auditmetrics "warden/internal/audit/metrics"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

// defaultQueryLimit caps unbounded queries so the admin surface cannot pull
// the whole trail in one call.
const defaultQueryLimit = 100

// Recorder is the only write path into the audit log. Append is fail-closed:
// an action that cannot be audited must not be considered complete, so every
// caller treats an Append error as fatal to the enclosing operation.
type Recorder struct {
	store   Store
	mirror  *Mirror
	logger  *slog.Logger
	metrics *auditmetrics.Metrics
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for append failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMirror attaches the Kafka mirror fan-out.
func WithMirror(mirror *Mirror) Option {
	return func(r *Recorder) { r.mirror = mirror }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append records one entry and returns its id. Missing metadata (timestamp,
// source address, request id) is filled from the request context so entries
// are stamped consistently with the rest of the request.
//
// Errors: CodeInvalidInput for an unusable entry; CodeAuditWriteFailed when
// the store rejects the write. The latter is loud: it means a privileged
// action was attempted that cannot be accounted for.
func (r *Recorder) Append(ctx context.Context, entry Entry) (id.EntryID, error) {
	if entry.Actor.IsNil() {
		return id.EntryID{}, dErrors.New(dErrors.CodeInvalidInput, "audit entry requires an actor")
	}
	if entry.Action == "" {
		return id.EntryID{}, dErrors.New(dErrors.CodeInvalidInput, "audit entry requires an action")
	}

	if entry.ID.IsNil() {
		entry.ID = id.EntryID(uuid.New())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	if entry.SourceIP == "" {
		entry.SourceIP = requestcontext.ClientIP(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	if err := r.store.Append(ctx, entry); err != nil {
		r.metrics.IncrementAppendFailure()
		r.logger.ErrorContext(ctx, "audit append failed; failing the enclosing operation",
			"action", entry.Action,
			"actor_id", entry.Actor,
			"entity_type", entry.EntityType,
			"request_id", entry.RequestID,
			"error", err,
		)
		return id.EntryID{}, dErrors.Wrap(err, dErrors.CodeAuditWriteFailed, "failed to record audit entry")
	}

	r.metrics.IncrementAppended(entry.Action)
	r.mirror.Enqueue(entry)
	return entry.ID, nil
}

// Query returns entries matching the filter, newest first. The limit is
// defaulted and never unbounded.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 || filter.Limit > defaultQueryLimit {
		filter.Limit = defaultQueryLimit
	}
	entries, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit entries")
	}
	return entries, nil
}
