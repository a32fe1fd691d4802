package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightdash/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache stores encoded snapshots in Redis under a key prefix so
// several dashboard processes can share one backend poll.
type SnapshotCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.SnapshotCache = (*SnapshotCache)(nil)

func NewSnapshotCache(client *redis.Client, prefix string, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *SnapshotCache) key(name string) string {
	return c.prefix + name
}

func (c *SnapshotCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot %s from Redis: %w", key, err)
	}
	return data, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot %s in Redis: %w", key, err)
	}
	return nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot %s from Redis: %w", key, err)
	}
	return nil
}

func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the repository factory.
func (c *SnapshotCache) Close() error {
	return nil
}
