package testsupport

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer holds the running container and a ready client.
type RedisContainer struct {
	Container testcontainers.Container
	Client    *goredis.Client
	Addr      string
}

// Terminate stops and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer spins up a redis:7-alpine container.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping test redis: %w", err)
	}

	return &RedisContainer{Container: container, Client: client, Addr: endpoint}, nil
}

// SkipIfNoDocker reports whether Docker is reachable; integration tests call
// this to skip cleanly on machines without a daemon.
func SkipIfNoDocker(ctx context.Context) (skip bool) {
	// The provider constructor panics when no Docker host can be located at
	// all; that counts as unavailable too.
	defer func() {
		if recover() != nil {
			skip = true
		}
	}()
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return true
	}
	defer func() { _ = provider.Close() }()
	if _, err := provider.DaemonHost(ctx); err != nil {
		return true
	}
	return false
}
