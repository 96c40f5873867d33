package coordinator

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/config"
	"github.com/wonny/finpipe/pkg/logger"
	"github.com/wonny/finpipe/pkg/redis"
)

func TestRedisRegistry_Disabled(t *testing.T) {
	client, err := redis.New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)

	r := NewRedisRegistry(client, time.Minute, logger.Nop())

	release, err := r.Acquire(context.Background(), slot, "a")
	require.NoError(t, err)

	_, err = r.Acquire(context.Background(), slot, "b")
	assert.ErrorIs(t, err, contracts.ErrRunInProgress, "local exclusion still applies")

	release()
	assert.Empty(t, r.Running())
}

func TestRedisRegistry_AcrossProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()
	client := redis.NewFromRedis(rdb)

	// two registries stand in for two processes
	scheduler := NewRedisRegistry(client, time.Minute, logger.Nop())
	manual := NewRedisRegistry(client, time.Minute, logger.Nop())
	interval := time.Date(1990, 1, 1, 6, 0, 0, 0, time.UTC)

	release, err := scheduler.Acquire(context.Background(), interval, "a")
	require.NoError(t, err)

	_, err = manual.Acquire(context.Background(), interval, "b")
	assert.ErrorIs(t, err, contracts.ErrRunInProgress)
	assert.Empty(t, manual.Running(), "failed acquire leaves no local claim")

	release()

	release, err = manual.Acquire(context.Background(), interval, "b")
	require.NoError(t, err)
	release()
}
