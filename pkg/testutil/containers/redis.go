//go:build integration

package containers

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"custody/internal/platform/config"
	"custody/internal/platform/redis"
)

// RedisContainer is a throwaway Redis for lock and rate limit tests. The
// client is built the same way the server builds it.
type RedisContainer struct {
	URL    string
	Client *goredis.Client
	health func(context.Context) error
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err, "redis connection string")

	client, err := redis.New(ctx, config.RedisConfig{URL: url, PoolSize: 4})
	require.NoError(t, err, "connect to redis")
	t.Cleanup(func() { _ = client.Close() })

	return &RedisContainer{URL: url, Client: client.Client, health: client.Health}
}

// Health pings through the platform client wrapper.
func (r *RedisContainer) Health(ctx context.Context) error {
	return r.health(ctx)
}

// FlushAll clears every key between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
