package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/finpipe/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)

	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")
	cfg := PerMinute("alphavantage", 5)

	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 5, remaining)

	assert.NoError(t, limiter.For(cfg).Wait(context.Background()))
}

func TestLock_Disabled(t *testing.T) {
	lock := NewLock(disabledClient(t), "test")

	token, ok, err := lock.Acquire(context.Background(), "run:2024-03-01T06:00:00Z", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	assert.NoError(t, lock.Release(context.Background(), "run:2024-03-01T06:00:00Z", token))
}

func liveClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return NewFromRedis(rdb)
}

func TestLock_Exclusive(t *testing.T) {
	client := liveClient(t)
	lock := NewLock(client, "finpipe-test")
	ctx := context.Background()
	key := "exclusive-" + time.Now().Format(time.RFC3339Nano)

	token, ok, err := lock.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	// A foreign token must not release the lock
	require.NoError(t, lock.Release(ctx, key, "not-the-owner"))
	_, ok, _ = lock.Acquire(ctx, key, 10*time.Second)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, key, token))
	_, ok, err = lock.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_Window(t *testing.T) {
	client := liveClient(t)
	limiter := NewRateLimiter(client, "finpipe-test")
	cfg := RateLimitConfig{Key: "window-" + time.Now().Format(time.RFC3339Nano), Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(context.Background(), cfg)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}
