package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CurrentFormatVersion is the encoding version of cached snapshots. Bump
// it when a cached payload can no longer be decoded by this build.
const CurrentFormatVersion = 1

func formatVersionKey(prefix string) string {
	return prefix + "format:version"
}

// Migrate purges snapshots written in an older format and records the
// current format version under prefix.
func Migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	current, err := getFormatVersion(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to get format version: %w", err)
	}

	if current >= CurrentFormatVersion {
		if logger != nil {
			logger.Debugw("snapshot format is up to date", "version", current)
		}
		return nil
	}

	purged, err := purgeSnapshots(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to purge snapshots: %w", err)
	}

	if err := client.Set(ctx, formatVersionKey(prefix), CurrentFormatVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to set format version: %w", err)
	}

	if logger != nil {
		logger.Infow("snapshot format migrated",
			"from_version", current,
			"to_version", CurrentFormatVersion,
			"purged_keys", purged,
		)
	}
	return nil
}

func getFormatVersion(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	val, err := client.Get(ctx, formatVersionKey(prefix)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func purgeSnapshots(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	purged := 0
	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == formatVersionKey(prefix) {
			continue
		}
		if err := client.Del(ctx, key).Err(); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, iter.Err()
}
