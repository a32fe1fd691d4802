package memory

import (
	"context"
	"time"

	"freightdash/internal/core/ports"
	"freightdash/pkg/cache"
)

// SnapshotCache keeps encoded snapshots in process memory.
type SnapshotCache struct {
	cache *cache.Cache[[]byte]
}

var _ ports.SnapshotCache = (*SnapshotCache)(nil)

func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{cache: cache.New[[]byte](ttl)}
}

func (c *SnapshotCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	c.cache.Set(key, stored)
	return nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

func (c *SnapshotCache) Ping(ctx context.Context) error {
	return nil
}

func (c *SnapshotCache) Close() error {
	c.cache.Stop()
	return nil
}
