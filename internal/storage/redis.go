package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the key used when RedisTargetConfig.Key is empty.
const DefaultRedisKey = "docsync:state"

// RedisTarget keeps saved state under a single redis key.
type RedisTarget struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// RedisTargetConfig holds configuration for creating a redis target.
type RedisTargetConfig struct {
	Client redis.UniversalClient
	Key    string
	TTL    time.Duration // zero keeps the key forever
}

// NewRedisTarget creates a redis-backed target.
func NewRedisTarget(cfg RedisTargetConfig) *RedisTarget {
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisTarget{
		client: cfg.Client,
		key:    key,
		ttl:    cfg.TTL,
	}
}

// Load fetches the saved state. A missing key is not an error.
func (r *RedisTarget) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}

	return data, nil
}

// Save overwrites the saved state.
func (r *RedisTarget) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}

	return nil
}

// Ensure RedisTarget implements Target.
var _ Target = (*RedisTarget)(nil)
