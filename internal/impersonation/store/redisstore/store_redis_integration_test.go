//go:build integration

package redisstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/impersonation"
	"warden/internal/impersonation/store/redisstore"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil/containers"
)

func setupStore(t *testing.T) *redisstore.Store {
	t.Helper()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(context.Background()))
	return redisstore.New(rc.Client)
}

func newSession(admin id.AdminID, ttl time.Duration) *impersonation.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &impersonation.Session{
		ID:           id.SessionID(uuid.New()),
		AdminID:      admin,
		TargetUserID: id.UserID(uuid.New()),
		Reason:       "integration check",
		StartedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Status:       impersonation.StatusActive,
	}
}

func TestStore_CreateAndRead(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	admin := id.AdminID(uuid.New())

	session := newSession(admin, time.Hour)
	require.NoError(t, store.Create(ctx, session))

	found, err := store.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)
	assert.Equal(t, session.TargetUserID, found.TargetUserID)
	assert.Equal(t, session.Reason, found.Reason)
	assert.Equal(t, impersonation.StatusActive, found.Status)

	active, err := store.ActiveForAdmin(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, session.ID, active.ID)
}

func TestStore_Create_SecondActiveConflicts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	admin := id.AdminID(uuid.New())

	require.NoError(t, store.Create(ctx, newSession(admin, time.Hour)))

	err := store.Create(ctx, newSession(admin, time.Hour))
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	// A different admin is unaffected.
	assert.NoError(t, store.Create(ctx, newSession(id.AdminID(uuid.New()), time.Hour)))
}

func TestStore_ActiveSlotExpiresWithSession(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	admin := id.AdminID(uuid.New())

	require.NoError(t, store.Create(ctx, newSession(admin, 150*time.Millisecond)))

	require.Eventually(t, func() bool {
		_, err := store.ActiveForAdmin(ctx, admin)
		return errors.Is(err, sentinel.ErrNotFound)
	}, 2*time.Second, 50*time.Millisecond)

	// With the slot key expired, the admin can start a new session.
	assert.NoError(t, store.Create(ctx, newSession(admin, time.Hour)))
}

func TestStore_End(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	admin := id.AdminID(uuid.New())

	session := newSession(admin, time.Hour)
	require.NoError(t, store.Create(ctx, session))

	endedAt := time.Now().UTC().Truncate(time.Millisecond)
	ended, err := store.End(ctx, session.ID, endedAt)
	require.NoError(t, err)
	assert.Equal(t, impersonation.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	_, err = store.ActiveForAdmin(ctx, admin)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = store.End(ctx, session.ID, endedAt)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	_, err = store.End(ctx, id.SessionID(uuid.New()), endedAt)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStore_ListByAdmin(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	admin := id.AdminID(uuid.New())

	first := newSession(admin, time.Hour)
	require.NoError(t, store.Create(ctx, first))
	_, err := store.End(ctx, first.ID, time.Now().UTC())
	require.NoError(t, err)

	second := newSession(admin, time.Hour)
	require.NoError(t, store.Create(ctx, second))

	sessions, err := store.ListByAdmin(ctx, admin, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)
	assert.Equal(t, impersonation.StatusEnded, sessions[1].Status)
}
