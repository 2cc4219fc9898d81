package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/audit"
	"warden/internal/audit/store/memory"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/testutil"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Entry) error {
	return errors.New("storage unavailable")
}

func (failingStore) Query(context.Context, audit.Filter) ([]audit.Entry, error) {
	return nil, errors.New("storage unavailable")
}

func TestAppend_StampsRequestMetadata(t *testing.T) {
	store := memory.New()
	recorder := audit.NewRecorder(store)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ctx := testutil.ContextWithRequest("req-123", "203.0.113.9", now)
	actor := id.AdminID(uuid.New())

	entryID, err := recorder.Append(ctx, audit.Entry{
		Actor:      actor,
		Action:     "user_suspend",
		EntityType: "user",
		EntityID:   "user-1",
	})
	require.NoError(t, err)
	assert.False(t, entryID.IsNil())

	entries, err := recorder.Query(ctx, audit.Filter{Actor: &actor})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].RequestID)
	assert.Equal(t, "203.0.113.9", entries[0].SourceIP)
	assert.Equal(t, now, entries[0].CreatedAt)
}

func TestAppend_Validation(t *testing.T) {
	recorder := audit.NewRecorder(memory.New())
	ctx := context.Background()

	t.Run("requires an actor", func(t *testing.T) {
		_, err := recorder.Append(ctx, audit.Entry{Action: "user_suspend"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("requires an action", func(t *testing.T) {
		_, err := recorder.Append(ctx, audit.Entry{Actor: id.AdminID(uuid.New())})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestAppend_FailClosed pins the accountability invariant: a store failure is
// surfaced as CodeAuditWriteFailed so the caller fails the whole operation.
func TestAppend_FailClosed(t *testing.T) {
	recorder := audit.NewRecorder(failingStore{})

	_, err := recorder.Append(context.Background(), audit.Entry{
		Actor:  id.AdminID(uuid.New()),
		Action: "payout_batch_create",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuditWriteFailed))
}

func TestQuery_Filters(t *testing.T) {
	store := memory.New()
	recorder := audit.NewRecorder(store)
	ctx := context.Background()

	actorA := id.AdminID(uuid.New())
	actorB := id.AdminID(uuid.New())
	session := id.SessionID(uuid.New())

	_, err := recorder.Append(ctx, audit.Entry{Actor: actorA, Action: "user_suspend", EntityType: "user"})
	require.NoError(t, err)
	_, err = recorder.Append(ctx, audit.Entry{Actor: actorB, Action: "refund_issue", EntityType: "booking"})
	require.NoError(t, err)
	_, err = recorder.Append(ctx, audit.Entry{
		Actor: actorB, Action: "user_suspend", EntityType: "user",
		ImpersonationSessionID: &session,
	})
	require.NoError(t, err)

	t.Run("by actor", func(t *testing.T) {
		entries, err := recorder.Query(ctx, audit.Filter{Actor: &actorA})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, actorA, entries[0].Actor)
	})

	t.Run("by entity type", func(t *testing.T) {
		entries, err := recorder.Query(ctx, audit.Filter{EntityType: "booking"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("impersonated only", func(t *testing.T) {
		entries, err := recorder.Query(ctx, audit.Filter{ImpersonatedOnly: true})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].ImpersonationSessionID)
		assert.Equal(t, session, *entries[0].ImpersonationSessionID)
	})

	t.Run("limit caps results newest first", func(t *testing.T) {
		entries, err := recorder.Query(ctx, audit.Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}
