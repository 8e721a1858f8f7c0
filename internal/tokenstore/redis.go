package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps values in Redis so several processes can share one session.
// Sharing relies on credentials.Store.Reload to pick up pairs rotated elsewhere.
// Values have no TTL; the platform decides when credentials expire.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// Compile-time check to ensure RedisStore implements Storage
var _ Storage = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore that stores key under "<prefix>:<key>".
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if prefix == "" {
		return nil, fmt.Errorf("redis key prefix cannot be empty")
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

// Get returns the value stored in Redis. Returns ErrNotFound if missing or empty.
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores value without expiry.
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. DEL on a missing key is a no-op in Redis.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) key(key string) string {
	return r.prefix + ":" + key
}
