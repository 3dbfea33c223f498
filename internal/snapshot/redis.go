package snapshot

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "schoolhub/internal/platform/redis"
)

// RedisStore persists snapshots in redis. The storage TTL doubles as an
// eviction hint so stale envelopes do not accumulate.
type RedisStore struct {
	client *platformredis.Client
}

// NewRedisStore wraps a connected redis client.
func NewRedisStore(client *platformredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the stored value. A missing key is not an error.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores the value with the given expiry.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}
