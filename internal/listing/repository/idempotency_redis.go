package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/foodshare/internal/listing/domain"
)

const defaultIdempotencyPrefix = "idem:publish:"

// RedisIdempotencyRepo shares idempotency keys across service replicas.
// Claims and responses expire after ttl; the first claimant wins (SET NX).
type RedisIdempotencyRepo struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyRepo constructs the repository.
func NewRedisIdempotencyRepo(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyRepo {
	if prefix == "" {
		prefix = defaultIdempotencyPrefix
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyRepo{client: client, prefix: prefix, ttl: ttl}
}

// pendingMarker is held by a claimed key until its response is stored.
// Responses are JSON, so they never collide with it.
const pendingMarker = "\x00pending"

const releaseScript = `if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end return 0`

// Claim sets the pending marker when the key is free (SET NX).
func (r *RedisIdempotencyRepo) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, pendingMarker, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis setnx: %w", domain.ErrStorageUnavailable, err)
	}
	return ok, nil
}

// GetResponse returns the cached payload for key, if any.
func (r *RedisIdempotencyRepo) GetResponse(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get: %w", domain.ErrStorageUnavailable, err)
	}
	if string(payload) == pendingMarker {
		return nil, false, nil
	}
	return payload, true, nil
}

// PutResponse replaces the holder's pending marker with payload.
func (r *RedisIdempotencyRepo) PutResponse(ctx context.Context, key string, payload []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Release deletes the key only while it still holds the pending marker.
func (r *RedisIdempotencyRepo) Release(ctx context.Context, key string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, pendingMarker).Err(); err != nil {
		return fmt.Errorf("%w: redis release: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}
