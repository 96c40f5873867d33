package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/logger"
	"github.com/wonny/finpipe/pkg/redis"
)

// Registry admits at most one RUNNING batch per scheduling interval.
// Acquire fails with contracts.ErrRunInProgress instead of queueing.
type Registry interface {
	Acquire(ctx context.Context, interval time.Time, batchID string) (release func(), err error)
	Running() map[string]string // interval -> batch id
}

func intervalKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// MemoryRegistry guards intervals within one process
type MemoryRegistry struct {
	mu      sync.Mutex
	running map[string]string
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{running: make(map[string]string)}
}

// Acquire claims interval for batchID
func (r *MemoryRegistry) Acquire(ctx context.Context, interval time.Time, batchID string) (func(), error) {
	key := intervalKey(interval)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.running[key]; ok {
		return nil, fmt.Errorf("%w: %s held by %s", contracts.ErrRunInProgress, key, owner)
	}
	r.running[key] = batchID

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.running[key] == batchID {
				delete(r.running, key)
			}
		})
	}, nil
}

// Running returns a snapshot of claimed intervals
func (r *MemoryRegistry) Running() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.running))
	for k, v := range r.running {
		out[k] = v
	}
	return out
}

// RedisRegistry adds a SET NX PX lock so that two processes (scheduler and
// a manual CLI run) cannot run the same interval at once.
type RedisRegistry struct {
	local  *MemoryRegistry
	lock   *redis.Lock
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisRegistry creates a registry backed by client. ttl bounds how long
// a crashed process can hold an interval.
func NewRedisRegistry(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisRegistry {
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	return &RedisRegistry{
		local:  NewMemoryRegistry(),
		lock:   redis.NewLock(client, "finpipe:run"),
		ttl:    ttl,
		logger: log.WithField("module", "registry"),
	}
}

// Acquire claims interval locally, then in Redis
func (r *RedisRegistry) Acquire(ctx context.Context, interval time.Time, batchID string) (func(), error) {
	releaseLocal, err := r.local.Acquire(ctx, interval, batchID)
	if err != nil {
		return nil, err
	}

	key := intervalKey(interval)
	token, ok, err := r.lock.Acquire(ctx, key, r.ttl)
	if err != nil {
		releaseLocal()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		releaseLocal()
		return nil, fmt.Errorf("%w: %s held by another process", contracts.ErrRunInProgress, key)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.lock.Release(ctx, key, token); err != nil {
			r.logger.WithError(err).WithField("interval", key).Warn("Failed to release run lock")
		}
		releaseLocal()
	}, nil
}

// Running returns intervals claimed by this process
func (r *RedisRegistry) Running() map[string]string {
	return r.local.Running()
}
