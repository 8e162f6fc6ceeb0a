// Package turnlock enforces one in-flight turn per key.
package turnlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out non-blocking per-key locks. ok is false when the key is
// already held; release must be called exactly once after a successful lock.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// releaseScript deletes the key only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 30 * time.Minute

// Redis is a Locker shared across processes.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a redis-backed locker.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// TryLock implements Locker.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	redisKey := fmt.Sprintf("turnkit:turn:%s", key)
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(relCtx, r.rdb, []string{redisKey}, token).Err()
		})
	}, true, nil
}
