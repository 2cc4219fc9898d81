package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "gateway:idempotency:"

	// claimedMarker occupies the key between Claim and Record; a reader that
	// finds it knows the key is held but the outcome is not yet known.
	claimedMarker = "claimed"
)

// RedisIdempotencyGuard is the shared guard for multi-instance deployments.
// Claim is a single SET NX, so two instances racing the same key resolve the
// winner in Redis.
type RedisIdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyGuard(client *redis.Client, ttl time.Duration) *RedisIdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyGuard{client: client, ttl: ttl}
}

func (g *RedisIdempotencyGuard) Claim(ctx context.Context, key string) (*SubmissionRef, bool, error) {
	redisKey := idempotencyKeyPrefix + key

	claimed, err := g.client.SetNX(ctx, redisKey, claimedMarker, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return nil, true, nil
	}

	raw, err := g.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Key expired between SET NX and GET; treat as held with unknown
		// outcome rather than re-claiming mid-flight.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency key: %w", err)
	}
	if string(raw) == claimedMarker {
		return nil, false, nil
	}

	var ref SubmissionRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &ref, false, nil
}

func (g *RedisIdempotencyGuard) Record(ctx context.Context, key string, ref SubmissionRef) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := g.client.Set(ctx, idempotencyKeyPrefix+key, payload, g.ttl).Err(); err != nil {
		return fmt.Errorf("record idempotency outcome: %w", err)
	}
	return nil
}

func (g *RedisIdempotencyGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
