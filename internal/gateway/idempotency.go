package gateway

import (
	"context"
	"sync"
	"time"
)

// SubmissionRef is what an idempotency key resolves to after its first
// submission: enough to re-report the earlier outcome without redoing it.
type SubmissionRef struct {
	Status     ResultStatus `json:"status"`
	ApprovalID string       `json:"approval_id,omitempty"`
	EntryID    string       `json:"entry_id,omitempty"`
}

// IdempotencyGuard deduplicates submissions by caller-supplied key. Claim is
// the atomic first-writer-wins step; Record fills in the outcome once the
// winning submission finishes. A key claimed but never recorded (crash mid-
// submission) ages out with the guard's TTL.
type IdempotencyGuard interface {
	// Claim returns (nil, true) when the caller is first with this key, and
	// (ref, false) when a previous submission already holds it. ref may be
	// nil for a held key whose outcome was never recorded.
	Claim(ctx context.Context, key string) (*SubmissionRef, bool, error)

	// Record stores the outcome against a previously claimed key.
	Record(ctx context.Context, key string, ref SubmissionRef) error

	// Release frees a claimed key after a failed submission so the caller
	// can retry it.
	Release(ctx context.Context, key string) error
}

// MemoryIdempotencyGuard is the in-process guard for tests and single-node
// development mode.
type MemoryIdempotencyGuard struct {
	mu      sync.Mutex
	entries map[string]*memoryClaim
	ttl     time.Duration
}

type memoryClaim struct {
	ref       *SubmissionRef
	claimedAt time.Time
}

func NewMemoryIdempotencyGuard(ttl time.Duration) *MemoryIdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyGuard{
		entries: make(map[string]*memoryClaim),
		ttl:     ttl,
	}
}

func (g *MemoryIdempotencyGuard) Claim(_ context.Context, key string) (*SubmissionRef, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if claim, ok := g.entries[key]; ok && now.Sub(claim.claimedAt) < g.ttl {
		return claim.ref, false, nil
	}
	g.entries[key] = &memoryClaim{claimedAt: now}
	return nil, true, nil
}

func (g *MemoryIdempotencyGuard) Record(_ context.Context, key string, ref SubmissionRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if claim, ok := g.entries[key]; ok {
		claim.ref = &ref
	}
	return nil
}

func (g *MemoryIdempotencyGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}
