//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/approval"
	"warden/internal/approval/store/postgres"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil/containers"
)

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	pc := containers.GetManager().GetPostgres(t)
	require.NoError(t, pc.TruncateTables(context.Background(), "approval_requests"))
	return postgres.New(pc.DB)
}

func seedRequest(t *testing.T, store *postgres.Store, createdAt time.Time, ttl time.Duration) *approval.Request {
	t.Helper()
	request := &approval.Request{
		ID: id.ApprovalID(uuid.New()),
		Descriptor: id.ActionDescriptor{
			Type:       id.ActionPayoutBatchCreate,
			EntityType: "payout_batch",
			EntityIDs:  []string{"batch-7", "batch-8"},
			Payload:    id.Payload{"total_amount_cents": float64(250_000), "currency": "EUR"},
			Reason:     "weekly seller payout run",
		},
		RequestedBy: id.AdminID(uuid.New()),
		Status:      approval.StatusPending,
		Severity:    "high",
		Rule:        "amount_threshold",
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(ttl),
	}
	require.NoError(t, store.Create(context.Background(), request))
	return request
}

func TestStore_CreateAndFind(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	created := seedRequest(t, store, now, 24*time.Hour)

	found, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.Descriptor.Type, found.Descriptor.Type)
	assert.Equal(t, created.Descriptor.EntityIDs, found.Descriptor.EntityIDs)
	assert.Equal(t, created.Descriptor.Payload, found.Descriptor.Payload)
	assert.Equal(t, created.RequestedBy, found.RequestedBy)
	assert.Equal(t, approval.StatusPending, found.Status)
	assert.WithinDuration(t, created.ExpiresAt, found.ExpiresAt, time.Millisecond)
	assert.Nil(t, found.DecidedBy)
}

func TestStore_FindByID_NotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.FindByID(context.Background(), id.ApprovalID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStore_Decide(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	request := seedRequest(t, store, now, 24*time.Hour)
	decider := id.AdminID(uuid.New())

	decided, err := store.Decide(ctx, request.ID, decider, id.OutcomeApprove, "checked against the ledger", now)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, decider, *decided.DecidedBy)
	assert.Equal(t, "checked against the ledger", decided.DecisionNotes)

	// A second transition attempt must observe the conflict, not overwrite.
	_, err = store.Decide(ctx, request.ID, id.AdminID(uuid.New()), id.OutcomeReject, "", now)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	_, err = store.MarkExpired(ctx, request.ID, now)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	_, err = store.Decide(ctx, id.ApprovalID(uuid.New()), decider, id.OutcomeApprove, "", now)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

// The conditional UPDATE is the arbiter: under real database concurrency,
// exactly one of many simultaneous deciders wins.
func TestStore_Decide_Concurrent(t *testing.T) {
	store := setupStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	request := seedRequest(t, store, now, 24*time.Hour)

	const deciders = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Decide(context.Background(), request.ID, id.AdminID(uuid.New()), id.OutcomeApprove, "", now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, sentinel.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected decide error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, deciders-1, conflicts)
}

func TestStore_MarkExpired(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	request := seedRequest(t, store, now.Add(-2*time.Hour), time.Hour)

	expired, err := store.MarkExpired(ctx, request.ID, now)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, expired.Status)
	require.NotNil(t, expired.DecidedAt)
	assert.Nil(t, expired.DecidedBy)
}

func TestStore_ListPendingAndOverdue(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	oldest := seedRequest(t, store, now.Add(-3*time.Hour), time.Hour)
	middle := seedRequest(t, store, now.Add(-2*time.Hour), 24*time.Hour)
	newest := seedRequest(t, store, now.Add(-1*time.Hour), 24*time.Hour)

	decided := seedRequest(t, store, now.Add(-4*time.Hour), 24*time.Hour)
	_, err := store.Decide(ctx, decided.ID, id.AdminID(uuid.New()), id.OutcomeReject, "", now)
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, oldest.ID, pending[0].ID)
	assert.Equal(t, middle.ID, pending[1].ID)
	assert.Equal(t, newest.ID, pending[2].ID)

	overdue, err := store.ListOverdue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, oldest.ID, overdue[0].ID)
}
