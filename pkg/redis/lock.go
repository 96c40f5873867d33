package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseIfOwner deletes the key only when it still holds our token
var releaseIfOwner = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Lock is a SET NX PX mutual-exclusion lock
// ⭐ SSOT: 프로세스 간 실행 잠금은 여기서만
type Lock struct {
	client *Client
	prefix string
}

// NewLock creates a lock helper namespaced by prefix
func NewLock(client *Client, prefix string) *Lock {
	return &Lock{client: client, prefix: prefix}
}

// Acquire tries to take key for ttl.
// Returns the ownership token and whether the lock was taken.
// With Redis disabled every call succeeds.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	if !l.client.Enabled() {
		return token, true, nil
	}

	ok, err := l.client.Redis().SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return token, ok, nil
}

// Release frees key if token still owns it
func (l *Lock) Release(ctx context.Context, key, token string) error {
	if !l.client.Enabled() {
		return nil
	}

	if err := releaseIfOwner.Run(ctx, l.client.Redis(), []string{l.key(key)}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}

	return nil
}

func (l *Lock) key(key string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, key)
}
