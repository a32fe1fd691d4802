package repositories

import (
	"context"
	"errors"
	"sync"

	"freightdash/internal/core/ports"
	"freightdash/internal/infrastructure/repositories/memory"
	redisrepo "freightdash/internal/infrastructure/repositories/redis"
	"freightdash/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates the snapshot cache, falling back to memory when
// Redis is configured but unreachable.
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger

	mu     sync.Mutex
	caches []ports.SnapshotCache
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Cache.Backend == config.CacheBackendRedis,
		logger:   logger,
	}

	if factory.useRedis {
		client, err := redisrepo.NewRedisClient(redisrepo.Options{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory snapshot cache",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis snapshot cache")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory snapshot cache")
	}

	return factory, nil
}

// UsingRedis reports whether snapshots go to Redis.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// CreateSnapshotCache creates the snapshot cache (Redis or memory with
// fallback). The factory owns it and closes it in Close.
func (f *RepositoryFactory) CreateSnapshotCache() ports.SnapshotCache {
	var c ports.SnapshotCache
	if f.UsingRedis() {
		c = redisrepo.NewSnapshotCache(f.redisClient, f.cfg.Redis.KeyPrefix, f.cfg.Cache.TTL)
	} else {
		c = memory.NewSnapshotCache(f.cfg.Cache.TTL)
	}

	f.mu.Lock()
	f.caches = append(f.caches, c)
	f.mu.Unlock()
	return c
}

// Close closes every cache the factory created, then the Redis connection.
func (f *RepositoryFactory) Close() error {
	f.mu.Lock()
	caches := f.caches
	f.caches = nil
	f.mu.Unlock()

	var errs []error
	for _, c := range caches {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck checks the snapshot cache backend. The memory cache is always
// healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
