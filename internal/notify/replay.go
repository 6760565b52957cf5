package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplayProtector implements ReplayProtector using Redis SETNX semantics.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

func (r RedisReplayProtector) key(key string) string {
	if r.Prefix == "" {
		return key
	}
	return r.Prefix + ":" + key
}

// Acquire attempts to claim the delivery key for the provided TTL.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, r.key(key), "1", ttl).Result()
}

// Release removes the replay guard key.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.key(key)).Err()
}
