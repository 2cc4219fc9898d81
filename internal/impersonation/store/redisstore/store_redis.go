// Package redisstore is the Redis-backed impersonation store. The active-
// session pointer is a SET NX key whose TTL is the session window, so the
// one-active-session-per-admin invariant and passive expiry both fall out of
// Redis key semantics.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"warden/internal/impersonation"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

const (
	// activeKeyPrefix holds the admin's current session id; expires with the
	// session window.
	activeKeyPrefix = "impersonation:admin:"
	// sessionKeyPrefix holds the session record itself, retained past expiry
	// for the history surface.
	sessionKeyPrefix = "impersonation:session:"
	// historyKeyPrefix is a per-admin list of recent session ids.
	historyKeyPrefix = "impersonation:history:"

	historyLength = 50
	retention     = 7 * 24 * time.Hour
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// sessionRecord is the stored shape; ids are strings so the layout survives
// domain type changes.
type sessionRecord struct {
	ID           string     `json:"id"`
	AdminID      string     `json:"admin_id"`
	TargetUserID string     `json:"target_user_id"`
	Reason       string     `json:"reason"`
	StartedAt    time.Time  `json:"started_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Status       string     `json:"status"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func toRecord(session *impersonation.Session) sessionRecord {
	return sessionRecord{
		ID:           session.ID.String(),
		AdminID:      session.AdminID.String(),
		TargetUserID: session.TargetUserID.String(),
		Reason:       session.Reason,
		StartedAt:    session.StartedAt,
		ExpiresAt:    session.ExpiresAt,
		Status:       string(session.Status),
		EndedAt:      session.EndedAt,
	}
}

func fromRecord(record sessionRecord) (*impersonation.Session, error) {
	sessionID, err := id.ParseSessionID(record.ID)
	if err != nil {
		return nil, fmt.Errorf("stored session id: %w", err)
	}
	adminID, err := id.ParseAdminID(record.AdminID)
	if err != nil {
		return nil, fmt.Errorf("stored admin id: %w", err)
	}
	userID, err := id.ParseUserID(record.TargetUserID)
	if err != nil {
		return nil, fmt.Errorf("stored target user id: %w", err)
	}
	return &impersonation.Session{
		ID:           sessionID,
		AdminID:      adminID,
		TargetUserID: userID,
		Reason:       record.Reason,
		StartedAt:    record.StartedAt,
		ExpiresAt:    record.ExpiresAt,
		Status:       impersonation.Status(record.Status),
		EndedAt:      record.EndedAt,
	}, nil
}

func (s *Store) Create(ctx context.Context, session *impersonation.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already past its deadline")
	}

	// SET NX is the atomic claim on the per-admin slot. The key's TTL matches
	// the session window, so a stale claim can never outlive its session.
	claimed, err := s.client.SetNX(ctx, activeKeyPrefix+session.AdminID.String(), session.ID.String(), ttl).Result()
	if err != nil {
		return fmt.Errorf("claim active session slot: %w", err)
	}
	if !claimed {
		return sentinel.ErrConflict
	}

	payload, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID.String(), payload, retention)
	historyKey := historyKeyPrefix + session.AdminID.String()
	pipe.LPush(ctx, historyKey, session.ID.String())
	pipe.LTrim(ctx, historyKey, 0, historyLength-1)
	pipe.Expire(ctx, historyKey, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, sessionID id.SessionID) (*impersonation.Session, error) {
	return s.load(ctx, sessionID.String())
}

func (s *Store) ActiveForAdmin(ctx context.Context, adminID id.AdminID) (*impersonation.Session, error) {
	sessionID, err := s.client.Get(ctx, activeKeyPrefix+adminID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read active session slot: %w", err)
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != impersonation.StatusActive {
		return nil, sentinel.ErrNotFound
	}
	return session, nil
}

func (s *Store) End(ctx context.Context, sessionID id.SessionID, endedAt time.Time) (*impersonation.Session, error) {
	session, err := s.load(ctx, sessionID.String())
	if err != nil {
		return nil, err
	}
	if session.Status != impersonation.StatusActive {
		return nil, sentinel.ErrConflict
	}

	session.Status = impersonation.StatusEnded
	session.EndedAt = &endedAt

	payload, err := json.Marshal(toRecord(session))
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sessionID.String(), payload, redis.KeepTTL).Err(); err != nil {
		return nil, fmt.Errorf("store ended session: %w", err)
	}

	// Release the per-admin slot only if it still refers to this session.
	// Sessions per admin are serialized, so the slot can only have moved on
	// after this session's window lapsed and the key expired anyway.
	activeKey := activeKeyPrefix + session.AdminID.String()
	current, err := s.client.Get(ctx, activeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read active session slot: %w", err)
	}
	if current == sessionID.String() {
		if err := s.client.Del(ctx, activeKey).Err(); err != nil {
			return nil, fmt.Errorf("release active session slot: %w", err)
		}
	}
	return session, nil
}

func (s *Store) ListByAdmin(ctx context.Context, adminID id.AdminID, limit int) ([]*impersonation.Session, error) {
	if limit <= 0 || limit > historyLength {
		limit = historyLength
	}
	ids, err := s.client.LRange(ctx, historyKeyPrefix+adminID.String(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read session history: %w", err)
	}

	sessions := make([]*impersonation.Session, 0, len(ids))
	for _, raw := range ids {
		if _, err := uuid.Parse(raw); err != nil {
			continue
		}
		session, err := s.load(ctx, raw)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Record aged out of retention; the history entry is just stale.
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) load(ctx context.Context, sessionID string) (*impersonation.Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return fromRecord(record)
}
