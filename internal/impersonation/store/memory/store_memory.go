// Package memory provides the in-memory impersonation store used by tests and
// single-process development mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden/internal/impersonation"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.Mutex
	sessions map[id.SessionID]*impersonation.Session
	// active maps admin id to their current active session, if any. Checked
	// and claimed under the same lock that writes the session, which is what
	// makes Create's uniqueness guarantee hold.
	active map[id.AdminID]id.SessionID
}

func New() *Store {
	return &Store{
		sessions: make(map[id.SessionID]*impersonation.Session),
		active:   make(map[id.AdminID]id.SessionID),
	}
}

func (s *Store) Create(_ context.Context, session *impersonation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.active[session.AdminID]; ok {
		existing := s.sessions[current]
		if existing != nil && existing.Status == impersonation.StatusActive && !existing.IsExpiredAt(session.StartedAt) {
			return sentinel.ErrConflict
		}
		delete(s.active, session.AdminID)
	}

	copied := *session
	s.sessions[session.ID] = &copied
	s.active[session.AdminID] = session.ID
	return nil
}

func (s *Store) FindByID(_ context.Context, sessionID id.SessionID) (*impersonation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *Store) ActiveForAdmin(_ context.Context, adminID id.AdminID) (*impersonation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, ok := s.active[adminID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	session := s.sessions[sessionID]
	if session == nil || session.Status != impersonation.StatusActive {
		return nil, sentinel.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *Store) End(_ context.Context, sessionID id.SessionID, endedAt time.Time) (*impersonation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if session.Status != impersonation.StatusActive {
		return nil, sentinel.ErrConflict
	}

	session.Status = impersonation.StatusEnded
	session.EndedAt = &endedAt
	if s.active[session.AdminID] == sessionID {
		delete(s.active, session.AdminID)
	}

	copied := *session
	return &copied, nil
}

func (s *Store) ListByAdmin(_ context.Context, adminID id.AdminID, limit int) ([]*impersonation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []*impersonation.Session
	for _, session := range s.sessions {
		if session.AdminID == adminID {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
