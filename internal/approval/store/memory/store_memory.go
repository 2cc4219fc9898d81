// Package memory provides the in-memory approval store used by tests and
// single-process development mode. The mutex held across the read-check-write
// in Decide gives the same atomicity the postgres store gets from its
// conditional UPDATE.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden/internal/approval"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.Mutex
	requests map[id.ApprovalID]*approval.Request
}

func New() *Store {
	return &Store{requests: make(map[id.ApprovalID]*approval.Request)}
}

func (s *Store) Create(_ context.Context, request *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *request
	s.requests[request.ID] = &copied
	return nil
}

func (s *Store) Decide(_ context.Context, requestID id.ApprovalID, deciderID id.AdminID, outcome id.DecisionOutcome, notes string, decidedAt time.Time) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if request.Status != approval.StatusPending {
		return nil, sentinel.ErrConflict
	}

	if outcome == id.OutcomeApprove {
		request.Status = approval.StatusApproved
	} else {
		request.Status = approval.StatusRejected
	}
	request.DecidedBy = &deciderID
	request.DecidedAt = &decidedAt
	request.DecisionNotes = notes

	copied := *request
	return &copied, nil
}

func (s *Store) MarkExpired(_ context.Context, requestID id.ApprovalID, at time.Time) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if request.Status != approval.StatusPending {
		return nil, sentinel.ErrConflict
	}

	request.Status = approval.StatusExpired
	request.DecidedAt = &at

	copied := *request
	return &copied, nil
}

func (s *Store) FindByID(_ context.Context, requestID id.ApprovalID) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *request
	return &copied, nil
}

func (s *Store) ListPending(_ context.Context, limit int) ([]*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*approval.Request
	for _, request := range s.requests {
		if request.Status == approval.StatusPending {
			copied := *request
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListOverdue(_ context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*approval.Request
	for _, request := range s.requests {
		if request.Status == approval.StatusPending && request.IsExpiredAt(now) {
			copied := *request
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
