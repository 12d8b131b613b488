package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisDeduper stores Idempotency-Key claims in Redis. A claimed key holds a pending
// marker until the task it created is recorded.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID int, key string) string {
	return fmt.Sprintf("idempotency:%d:%s", userID, key)
}

// Claim records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Claim(ctx context.Context, userID int, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingMarker, r.ttl).Result()
}

// Complete binds the key to the created task.
func (r *RedisDeduper) Complete(ctx context.Context, userID int, key string, taskID int) error {
	return r.client.Set(ctx, r.key(userID, key), strconv.Itoa(taskID), r.ttl).Err()
}

// Lookup returns the task recorded for key.
func (r *RedisDeduper) Lookup(ctx context.Context, userID int, key string) (int, bool, error) {
	val, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if val == pendingMarker {
		return 0, false, nil
	}
	id, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency record %q: %w", val, err)
	}
	return id, true, nil
}

// Release deletes a previously claimed key so the caller may retry.
func (r *RedisDeduper) Release(ctx context.Context, userID int, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
