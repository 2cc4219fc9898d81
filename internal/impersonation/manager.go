package impersonation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/audit"
	impersonationmetrics "warden/internal/impersonation/metrics"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Manager owns the session lifecycle. Start and End are themselves audited
// actions: a session that cannot be recorded on the trail is not started.
type Manager struct {
	store   Store
	auditor *audit.Recorder
	logger  *slog.Logger
	metrics *impersonationmetrics.Metrics

	ttl time.Duration
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *impersonationmetrics.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTTL overrides the session window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func NewManager(store Store, auditor *audit.Recorder, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		auditor: auditor,
		logger:  slog.Default(),
		ttl:     SessionTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session for adminID acting as targetUserID. An admin holds at
// most one active session at a time; a second start while one is live fails
// with ActiveSessionExists.
func (m *Manager) Start(ctx context.Context, adminID id.AdminID, targetUserID id.UserID, reason string) (*Session, error) {
	if adminID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "admin id is required")
	}
	if targetUserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "target user id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidReason, "a non-empty reason is required to impersonate a user")
	}

	now := requestcontext.Now(ctx)
	session := &Session{
		ID:           id.SessionID(uuid.New()),
		AdminID:      adminID,
		TargetUserID: targetUserID,
		Reason:       reason,
		StartedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		Status:       StatusActive,
	}

	if err := m.store.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			m.metrics.IncrementStartConflict()
			return nil, dErrors.New(dErrors.CodeActiveSessionExists, "admin already has an active impersonation session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start impersonation session")
	}

	if _, err := m.auditor.Append(ctx, audit.Entry{
		Actor:                  adminID,
		Action:                 audit.ActionImpersonationStarted,
		EntityType:             "user",
		EntityID:               targetUserID.String(),
		ImpersonationSessionID: &session.ID,
		Changes: map[string]any{
			"reason":     reason,
			"expires_at": session.ExpiresAt,
		},
	}); err != nil {
		// The trail rejected the start; close the slot so the admin is not
		// left holding an unaccounted-for session.
		if _, endErr := m.store.End(ctx, session.ID, now); endErr != nil {
			m.logger.ErrorContext(ctx, "failed to roll back unaudited impersonation session",
				"session_id", session.ID, "error", endErr)
		}
		return nil, err
	}

	m.metrics.IncrementStarted()
	m.logger.InfoContext(ctx, "impersonation session started",
		"session_id", session.ID,
		"admin_id", adminID,
		"target_user_id", targetUserID,
		"expires_at", session.ExpiresAt,
	)
	return session, nil
}

// End closes the session explicitly. Ending a session past its deadline is
// permitted and reported as ended; ending one that was already explicitly
// ended is a conflict.
func (m *Manager) End(ctx context.Context, adminID id.AdminID, sessionID id.SessionID) (*Session, error) {
	session, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AdminID != adminID {
		return nil, dErrors.New(dErrors.CodeForbidden, "session belongs to a different admin")
	}

	now := requestcontext.Now(ctx)
	cause := "explicit"
	if session.IsExpiredAt(now) {
		cause = "expired"
	}

	ended, err := m.store.End(ctx, sessionID, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "impersonation session not found")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "impersonation session already ended")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to end impersonation session")
		}
	}

	if _, err := m.auditor.Append(ctx, audit.Entry{
		Actor:                  adminID,
		Action:                 audit.ActionImpersonationEnded,
		EntityType:             "user",
		EntityID:               ended.TargetUserID.String(),
		ImpersonationSessionID: &ended.ID,
		Changes:                map[string]any{"cause": cause},
	}); err != nil {
		return nil, err
	}

	m.metrics.IncrementEnded(cause)
	if cause == "explicit" {
		m.metrics.ObserveSessionDuration(now.Sub(ended.StartedAt).Seconds())
	}
	m.logger.InfoContext(ctx, "impersonation session ended",
		"session_id", ended.ID,
		"admin_id", adminID,
		"cause", cause,
	)
	return ended.normalizedAt(now), nil
}

// ActiveSessionFor returns the admin's live session, or nil when there is
// none. The gateway and audit paths call this to stamp the session id on
// every action performed while impersonating; a session past its deadline is
// never returned.
func (m *Manager) ActiveSessionFor(ctx context.Context, adminID id.AdminID) (*Session, error) {
	session, err := m.store.ActiveForAdmin(ctx, adminID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up active impersonation session")
	}
	if session.IsExpiredAt(requestcontext.Now(ctx)) {
		return nil, nil
	}
	return session, nil
}

// Get returns the session by id, normalized for passive expiry.
func (m *Manager) Get(ctx context.Context, sessionID id.SessionID) (*Session, error) {
	session, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.normalizedAt(requestcontext.Now(ctx)), nil
}

// List returns the admin's recent sessions, newest first, normalized for
// passive expiry.
func (m *Manager) List(ctx context.Context, adminID id.AdminID, limit int) ([]*Session, error) {
	sessions, err := m.store.ListByAdmin(ctx, adminID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list impersonation sessions")
	}
	now := requestcontext.Now(ctx)
	for i, session := range sessions {
		sessions[i] = session.normalizedAt(now)
	}
	return sessions, nil
}

func (m *Manager) get(ctx context.Context, sessionID id.SessionID) (*Session, error) {
	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "impersonation session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load impersonation session")
	}
	return session, nil
}
