package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConcurrencyCap_SingleHolder(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	ok, err := AcquireConcurrencyCap(ctx, rdb, "k", 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	ok, err = AcquireConcurrencyCap(ctx, rdb, "k", 1, time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second acquire rejected, ok=%v err=%v", ok, err)
	}
	if err := ReleaseConcurrencyCap(ctx, rdb, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = AcquireConcurrencyCap(ctx, rdb, "k", 1, time.Minute)
	if !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestConcurrencyCap_TTLFreesLeakedKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	if ok, _ := AcquireConcurrencyCap(ctx, rdb, "leak", 1, time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := AcquireConcurrencyCap(ctx, rdb, "leak", 1, time.Second); !ok {
		t.Fatalf("expected acquire after ttl expiry")
	}
}

func TestConcurrencyCap_RejectsBadInput(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	if _, err := AcquireConcurrencyCap(ctx, rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedis_SelectsDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Password: "secret", DB: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()
	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.DB(2).Get("k"); got != "v" {
		t.Fatalf("expected key in db 2, got %q", got)
	}
}

func TestOpenRedis_RejectsBadConfig(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")
	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Password: "wrong"}); err == nil {
		t.Fatalf("expected auth failure on ping")
	}
}
