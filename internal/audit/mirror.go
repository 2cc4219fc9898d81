package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	auditmetrics "warden/internal/audit/metrics"
)

// Publisher is the transport the mirror exports entries through. Satisfied by
// the platform Kafka producer.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// mirrorRecord is the JSON shape published to the export topic.
type mirrorRecord struct {
	ID                     string         `json:"id"`
	ActorID                string         `json:"actor_id"`
	Action                 string         `json:"action"`
	EntityType             string         `json:"entity_type"`
	EntityID               string         `json:"entity_id,omitempty"`
	Changes                map[string]any `json:"changes,omitempty"`
	ApprovalID             string         `json:"approval_id,omitempty"`
	ImpersonationSessionID string         `json:"impersonation_session_id,omitempty"`
	SourceIP               string         `json:"source_ip,omitempty"`
	RequestID              string         `json:"request_id,omitempty"`
	CreatedAt              string         `json:"created_at"`
}

// Mirror fans appended entries out to an export topic for SIEM consumption.
// The relational store is the system of record: a full buffer drops the
// record (counted and logged) instead of blocking or failing the source
// operation.
type Mirror struct {
	publisher Publisher
	inbox     chan Entry
	logger    *slog.Logger
	metrics   *auditmetrics.Metrics
}

// NewMirror creates a mirror with the given buffer size. A nil publisher
// disables mirroring; Enqueue becomes a no-op.
func NewMirror(publisher Publisher, buffer int, logger *slog.Logger, metrics *auditmetrics.Metrics) *Mirror {
	if publisher == nil {
		return nil
	}
	return &Mirror{
		publisher: publisher,
		inbox:     make(chan Entry, buffer),
		logger:    logger,
		metrics:   metrics,
	}
}

// Enqueue hands an entry to the mirror without blocking the caller.
func (m *Mirror) Enqueue(entry Entry) {
	if m == nil {
		return
	}
	select {
	case m.inbox <- entry:
	default:
		m.metrics.IncrementMirrorDropped()
		m.logger.Warn("audit mirror buffer full, dropping record",
			"entry_id", entry.ID,
			"action", entry.Action,
		)
	}
}

// Run consumes the inbox and publishes until ctx is cancelled. Publish
// failures are logged and the record is dropped; the store already holds it.
func (m *Mirror) Run(ctx context.Context) error {
	if m == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-m.inbox:
			m.publish(ctx, entry)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, entry Entry) {
	record := mirrorRecord{
		ID:         entry.ID.String(),
		ActorID:    entry.Actor.String(),
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Changes:    entry.Changes,
		SourceIP:   entry.SourceIP,
		RequestID:  entry.RequestID,
		CreatedAt:  entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if entry.ApprovalID != nil {
		record.ApprovalID = entry.ApprovalID.String()
	}
	if entry.ImpersonationSessionID != nil {
		record.ImpersonationSessionID = entry.ImpersonationSessionID.String()
	}

	value, err := json.Marshal(record)
	if err != nil {
		m.logger.ErrorContext(ctx, "audit mirror marshal failed", "entry_id", entry.ID, "error", err)
		return
	}

	// Keyed by actor so one admin's trail stays ordered per partition.
	if err := m.publisher.Publish(ctx, []byte(entry.Actor.String()), value); err != nil {
		m.logger.ErrorContext(ctx, "audit mirror publish failed", "entry_id", entry.ID, "error", err)
		return
	}
	m.metrics.IncrementMirrorPublished()
}
