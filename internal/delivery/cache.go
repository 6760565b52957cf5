package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps JSON snapshots of per-city pickup point lists in Redis.
type SnapshotCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache constructs a cache helper. A nil client disables caching.
func NewSnapshotCache(client *redis.Client, prefix string, ttl time.Duration) *SnapshotCache {
	if prefix == "" {
		prefix = "points"
	}
	return &SnapshotCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *SnapshotCache) key(cityCode string) string {
	return c.prefix + ":" + cityCode
}

// Get reports whether a snapshot for the city existed.
func (c *SnapshotCache) Get(ctx context.Context, cityCode string) ([]Point, bool, error) {
	if c == nil || c.client == nil || cityCode == "" {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, c.key(cityCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var points []Point
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, false, err
	}
	return points, true, nil
}

// Set stores the snapshot with the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, cityCode string, points []Point) error {
	if c == nil || c.client == nil || cityCode == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(points)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(cityCode), data, c.ttl).Err()
}
