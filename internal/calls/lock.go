package calls

import (
	"context"
	"sync"
	"time"

	"followup-caller/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Locker serializes initiation per (record, slot) across processes.
type Locker interface {
	// Acquire returns ok=false when another holder has the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker uses the shared concurrency-cap scripts with a limit of one.
// The TTL releases the key if the holder crashes mid-initiation.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "followup:initiate:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	full := l.prefix + key
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, full, 1, ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	release := func() {
		// Release must outlive a cancelled request context.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseConcurrencyCap(rctx, l.rdb, full)
	}
	return release, true, nil
}

// MemoryLocker is a process-local Locker for tests and single-instance runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return func() {}, false, nil
	}
	l.held[key] = now.Add(ttl)
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}
