package audit_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/audit"
	"warden/internal/platform/logger"
	id "warden/pkg/domain"
)

type capturePublisher struct {
	mu      sync.Mutex
	records [][]byte
	keys    [][]byte
}

func (c *capturePublisher) Publish(_ context.Context, key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	c.records = append(c.records, value)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestMirror_PublishesEnqueuedEntries(t *testing.T) {
	publisher := &capturePublisher{}
	mirror := audit.NewMirror(publisher, 8, logger.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = mirror.Run(ctx)
		close(done)
	}()

	actor := id.AdminID(uuid.New())
	approval := id.ApprovalID(uuid.New())
	mirror.Enqueue(audit.Entry{
		ID:         id.EntryID(uuid.New()),
		Actor:      actor,
		Action:     "payout_batch_create",
		EntityType: "payout_batch",
		ApprovalID: &approval,
		CreatedAt:  time.Now(),
	})

	require.Eventually(t, func() bool { return publisher.count() == 1 },
		time.Second, 10*time.Millisecond)

	var record map[string]any
	require.NoError(t, json.Unmarshal(publisher.records[0], &record))
	assert.Equal(t, "payout_batch_create", record["action"])
	assert.Equal(t, approval.String(), record["approval_id"])
	assert.Equal(t, actor.String(), string(publisher.keys[0]))

	cancel()
	<-done
}

func TestMirror_NilMirrorIsNoop(t *testing.T) {
	var mirror *audit.Mirror
	// Must not panic.
	mirror.Enqueue(audit.Entry{})
}
