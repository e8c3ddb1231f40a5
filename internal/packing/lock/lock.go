// Package lock serializes packing work per manifest. At most one mark-packed
// or finish-packing call runs against a manifest at a time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"custody/pkg/platform/sentinel"
)

// Release gives the lock back. Safe to call more than once.
type Release func(ctx context.Context) error

// Locker acquires an exclusive lock on key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Memory is an in-process keyed lock. Acquire waits for the holder up to
// the context deadline.
type Memory struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]chan struct{})}
}

func (m *Memory) Acquire(ctx context.Context, key string) (Release, error) {
	for {
		m.mu.Lock()
		wait, busy := m.held[key]
		if !busy {
			done := make(chan struct{})
			m.held[key] = done
			m.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					m.mu.Lock()
					delete(m.held, key)
					m.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, sentinel.ErrLocked
		}
	}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a single-instance lock using SET NX PX with a random token.
// Locks expire after ttl so a crashed holder cannot wedge a manifest.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	retry  time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: "custody:lock:", retry: 25 * time.Millisecond}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	redisKey := r.prefix + key
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Join(sentinel.ErrUnavailable, err)
		}
		if ok {
			var once sync.Once
			return func(ctx context.Context) error {
				var relErr error
				once.Do(func() {
					relErr = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
					if errors.Is(relErr, redis.Nil) {
						relErr = nil
					}
				})
				return relErr
			}, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, sentinel.ErrLocked
		}
	}
}
