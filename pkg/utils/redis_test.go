package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestAcquireSlot_SingleFlight(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	ok, err := AcquireSlot(ctx, rdb, "sync", 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ok, err = AcquireSlot(ctx, rdb, "sync", 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to be rejected")
	}

	if err := ReleaseSlot(ctx, rdb, "sync"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	ok, err = AcquireSlot(ctx, rdb, "sync", 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestAcquireSlot_ValidatesArgs(t *testing.T) {
	rdb := testRedis(t)
	if _, err := AcquireSlot(context.Background(), rdb, "", 1, time.Minute); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireSlot(context.Background(), rdb, "k", 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := AcquireSlot(context.Background(), rdb, "k", 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
