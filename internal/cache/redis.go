package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/validation"
)

// SnapshotCache defines the L2 cache operations used by the decision path
// and the invalidation worker.
type SnapshotCache interface {
	// GetSnapshot returns the cached snapshot, or (nil, false, nil) on miss.
	GetSnapshot(ctx context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, bool, error)

	// SetSnapshot stores a snapshot under the configured TTL.
	SetSnapshot(ctx context.Context, projectKey, flagKey, envKey string, snap *engine.FlagSnapshot) error

	// GetBootstrap returns the cached project-environment snapshot list.
	GetBootstrap(ctx context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, bool, error)

	// SetBootstrap stores the project-environment snapshot list.
	SetBootstrap(ctx context.Context, projectKey, envKey string, snaps []engine.FlagSnapshot) error

	// Invalidate deletes the given keys. Best-effort: the TTL is the net.
	Invalidate(ctx context.Context, keys ...string) error

	// HealthCheck pings the backing server.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Compile-time check.
var _ SnapshotCache = (*RedisCache)(nil)

// RedisCache implements SnapshotCache on go-redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl is the soft snapshot TTL; the
// cache is authoritative within it.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	validation.AssertNotNil(client, "redis client")
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

// GetSnapshot fetches and decodes one flag snapshot.
func (c *RedisCache) GetSnapshot(ctx context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, bool, error) {
	key := SnapshotKey(projectKey, flagKey, envKey)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get snapshot %q: %w", key, err)
	}

	var snap engine.FlagSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt entry is treated as a miss; the loader will overwrite it.
		return nil, false, nil
	}
	return &snap, true, nil
}

// SetSnapshot encodes and stores one flag snapshot.
func (c *RedisCache) SetSnapshot(ctx context.Context, projectKey, flagKey, envKey string, snap *engine.FlagSnapshot) error {
	key := SnapshotKey(projectKey, flagKey, envKey)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %q: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot %q: %w", key, err)
	}
	return nil
}

// GetBootstrap fetches the snapshot list for SDK bootstrap.
func (c *RedisCache) GetBootstrap(ctx context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, bool, error) {
	key := BootstrapKey(projectKey, envKey)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get bootstrap %q: %w", key, err)
	}

	var snaps []engine.FlagSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, false, nil
	}
	return snaps, true, nil
}

// SetBootstrap stores the snapshot list for SDK bootstrap.
func (c *RedisCache) SetBootstrap(ctx context.Context, projectKey, envKey string, snaps []engine.FlagSnapshot) error {
	key := BootstrapKey(projectKey, envKey)

	data, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("failed to encode bootstrap %q: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set bootstrap %q: %w", key, err)
	}
	return nil
}

// Invalidate deletes the given keys.
func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate %d keys: %w", len(keys), err)
	}
	return nil
}

// HealthCheck verifies the connection to the Redis server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
