package calls

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLocker(rdb, "")
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "rec-1:first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire, ok=%v err=%v", ok, err)
	}
	if !mr.Exists("followup:initiate:rec-1:first") {
		t.Fatalf("expected prefixed key in redis")
	}
	if _, ok, _ := l.Acquire(ctx, "rec-1:first", time.Minute); ok {
		t.Fatalf("expected second holder rejected")
	}
	if _, ok, _ := l.Acquire(ctx, "rec-1:second", time.Minute); !ok {
		t.Fatalf("expected other slot to be independent")
	}

	release()
	if mr.Exists("followup:initiate:rec-1:first") {
		t.Fatalf("expected key removed on release")
	}
	if _, ok, _ := l.Acquire(ctx, "rec-1:first", time.Minute); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestMemoryLocker_ExpiresAfterTTL(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	if _, ok, _ := l.Acquire(context.Background(), "k", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	if _, ok, _ := l.Acquire(context.Background(), "k", time.Second); ok {
		t.Fatalf("expected rejection while held")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := l.Acquire(context.Background(), "k", time.Second); !ok {
		t.Fatalf("expected acquire after ttl")
	}
}
