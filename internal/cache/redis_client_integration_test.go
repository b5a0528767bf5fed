//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

func TestRedisClient_SetGetExpire(t *testing.T) {
	client, err := NewRedisClient(RedisConfig{URL: startRedis(t), Prefix: "test:"})
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	_, err = client.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, client.Set(ctx, "k", []byte("v1"), time.Hour))
	require.NoError(t, client.Set(ctx, "k", []byte("v2"), time.Hour))
	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	ttl, err := client.Redis().TTL(ctx, "test:k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, client.Delete(ctx, "k"))
	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisClient_PublishSubscribe(t *testing.T) {
	client, err := NewRedisClient(RedisConfig{URL: startRedis(t)})
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	msgs, unsubscribe, err := client.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, client.Publish(ctx, "events", map[string]int{"progress": 40}))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"progress":40}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
