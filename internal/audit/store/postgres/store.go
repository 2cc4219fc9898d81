// Package postgres persists audit entries in the audit_entries table. The
// table grants INSERT and SELECT only; this store mirrors that by never
// issuing UPDATE or DELETE.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"warden/internal/audit"
	id "warden/pkg/domain"
	txcontext "warden/pkg/platform/tx"
)

// Store implements audit.Store on PostgreSQL via database/sql.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	var changes []byte
	if entry.Changes != nil {
		var err error
		changes, err = json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("marshal audit changes: %w", err)
		}
	}

	var approvalID, sessionID *uuid.UUID
	if entry.ApprovalID != nil {
		u := uuid.UUID(*entry.ApprovalID)
		approvalID = &u
	}
	if entry.ImpersonationSessionID != nil {
		u := uuid.UUID(*entry.ImpersonationSessionID)
		sessionID = &u
	}

	var entityID *string
	if entry.EntityID != "" {
		entityID = &entry.EntityID
	}

	query := `
		INSERT INTO audit_entries (
			id, actor_id, action, entity_type, entity_id, changes,
			approval_id, impersonation_session_id, source_ip, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.Actor),
		entry.Action,
		entry.EntityType,
		entityID,
		changes,
		approvalID,
		sessionID,
		entry.SourceIP,
		entry.RequestID,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Actor != nil {
		conditions = append(conditions, "actor_id = "+arg(uuid.UUID(*filter.Actor)))
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = "+arg(filter.EntityType))
	}
	if filter.ApprovalID != nil {
		conditions = append(conditions, "approval_id = "+arg(uuid.UUID(*filter.ApprovalID)))
	}
	if filter.ImpersonatedOnly {
		conditions = append(conditions, "impersonation_session_id IS NOT NULL")
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "created_at <= "+arg(filter.To))
	}

	query := `
		SELECT id, actor_id, action, entity_type, entity_id, changes,
		       approval_id, impersonation_session_id, source_ip, request_id, created_at
		FROM audit_entries
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			entry      audit.Entry
			entryID    uuid.UUID
			actorID    uuid.UUID
			entityID   sql.NullString
			changes    []byte
			approvalID *uuid.UUID
			sessionID  *uuid.UUID
		)
		err := rows.Scan(
			&entryID,
			&actorID,
			&entry.Action,
			&entry.EntityType,
			&entityID,
			&changes,
			&approvalID,
			&sessionID,
			&entry.SourceIP,
			&entry.RequestID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		entry.ID = id.EntryID(entryID)
		entry.Actor = id.AdminID(actorID)
		if entityID.Valid {
			entry.EntityID = entityID.String
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal audit changes: %w", err)
			}
		}
		if approvalID != nil {
			a := id.ApprovalID(*approvalID)
			entry.ApprovalID = &a
		}
		if sessionID != nil {
			s := id.SessionID(*sessionID)
			entry.ImpersonationSessionID = &s
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
