// Package memory provides the in-memory audit store used by tests and
// single-process development mode.
package memory

import (
	"context"
	"sync"

	"warden/internal/audit"
)

// Store keeps entries in an append-only slice guarded by a mutex. Query
// returns copies so callers can never mutate recorded history.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	// Newest first, matching the postgres store's ORDER BY created_at DESC.
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if !matches(entry, filter) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(entry audit.Entry, filter audit.Filter) bool {
	if filter.Actor != nil && entry.Actor != *filter.Actor {
		return false
	}
	if filter.EntityType != "" && entry.EntityType != filter.EntityType {
		return false
	}
	if filter.ApprovalID != nil {
		if entry.ApprovalID == nil || *entry.ApprovalID != *filter.ApprovalID {
			return false
		}
	}
	if filter.ImpersonatedOnly && entry.ImpersonationSessionID == nil {
		return false
	}
	if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.CreatedAt.After(filter.To) {
		return false
	}
	return true
}

// Len reports the number of recorded entries. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
