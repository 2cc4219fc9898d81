// Package postgres persists approval requests. The decide path is a single
// conditional UPDATE keyed on (id, status='pending'); the database is the
// arbiter of the race between concurrent deciders.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warden/internal/approval"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	txcontext "warden/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const requestColumns = `
	id, action_type, entity_type, entity_ids, payload, reason,
	requested_by, status, severity, rule,
	created_at, expires_at, decided_by, decided_at, decision_notes
`

func (s *Store) Create(ctx context.Context, request *approval.Request) error {
	entityIDs, err := json.Marshal(request.Descriptor.EntityIDs)
	if err != nil {
		return fmt.Errorf("marshal entity ids: %w", err)
	}
	payload, err := json.Marshal(request.Descriptor.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO approval_requests (
			id, action_type, entity_type, entity_ids, payload, reason,
			requested_by, status, severity, rule, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(request.ID),
		string(request.Descriptor.Type),
		request.Descriptor.EntityType,
		entityIDs,
		payload,
		request.Descriptor.Reason,
		uuid.UUID(request.RequestedBy),
		string(request.Status),
		request.Severity,
		request.Rule,
		request.CreatedAt,
		request.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// Decide performs the critical compare-and-set. Exactly one concurrent caller
// can win the UPDATE; everyone else falls through to the conflict probe.
func (s *Store) Decide(ctx context.Context, requestID id.ApprovalID, deciderID id.AdminID, outcome id.DecisionOutcome, notes string, decidedAt time.Time) (*approval.Request, error) {
	status := approval.StatusRejected
	if outcome == id.OutcomeApprove {
		status = approval.StatusApproved
	}

	query := `
		UPDATE approval_requests
		SET status = $2, decided_by = $3, decided_at = $4, decision_notes = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + requestColumns

	row := s.querier(ctx).QueryRowContext(ctx, query,
		uuid.UUID(requestID), string(status), uuid.UUID(deciderID), decidedAt, notes)

	request, err := scanRequest(row)
	if err == nil {
		return request, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decide approval request: %w", err)
	}
	return nil, s.classifyMiss(ctx, requestID)
}

func (s *Store) MarkExpired(ctx context.Context, requestID id.ApprovalID, at time.Time) (*approval.Request, error) {
	query := `
		UPDATE approval_requests
		SET status = 'expired', decided_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + requestColumns

	row := s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID), at)

	request, err := scanRequest(row)
	if err == nil {
		return request, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expire approval request: %w", err)
	}
	return nil, s.classifyMiss(ctx, requestID)
}

// classifyMiss distinguishes "no such request" from "lost the race": the
// conditional UPDATE matched no row either because the id is unknown or
// because another caller already moved it out of pending.
func (s *Store) classifyMiss(ctx context.Context, requestID id.ApprovalID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`,
		uuid.UUID(requestID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("probe approval request: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *Store) FindByID(ctx context.Context, requestID id.ApprovalID) (*approval.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return request, nil
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]*approval.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`
	return s.list(ctx, query, limit)
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue approval requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) list(ctx context.Context, query string, limit int) ([]*approval.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*approval.Request, error) {
	var (
		request    approval.Request
		requestID  uuid.UUID
		actionType string
		entityIDs  []byte
		payload    []byte
		requestor  uuid.UUID
		status     string
		decidedBy  *uuid.UUID
		decidedAt  *time.Time
		notes      sql.NullString
	)
	err := row.Scan(
		&requestID,
		&actionType,
		&request.Descriptor.EntityType,
		&entityIDs,
		&payload,
		&request.Descriptor.Reason,
		&requestor,
		&status,
		&request.Severity,
		&request.Rule,
		&request.CreatedAt,
		&request.ExpiresAt,
		&decidedBy,
		&decidedAt,
		&notes,
	)
	if err != nil {
		return nil, err
	}

	request.ID = id.ApprovalID(requestID)
	request.Descriptor.Type = id.ActionType(actionType)
	request.RequestedBy = id.AdminID(requestor)
	request.Status = approval.Status(status)
	if err := json.Unmarshal(entityIDs, &request.Descriptor.EntityIDs); err != nil {
		return nil, fmt.Errorf("unmarshal entity ids: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &request.Descriptor.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if decidedBy != nil {
		d := id.AdminID(*decidedBy)
		request.DecidedBy = &d
	}
	request.DecidedAt = decidedAt
	if notes.Valid {
		request.DecisionNotes = notes.String
	}
	return &request, nil
}

func scanRequests(rows *sql.Rows) ([]*approval.Request, error) {
	var requests []*approval.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return requests, nil
}
