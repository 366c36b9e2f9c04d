package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis instance and clears rate-limit
// keys. Tests are skipped when Redis is not running.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	iter := client.Scan(ctx, 0, "rl:*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < rule.Limit; i++ {
		ok, err := l.Allow(ctx, "u1", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, err := l.Allow(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Error("request over the limit should be denied")
	}
}

func TestLimitIsPerIdentifier(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test2:", Limit: 1, Window: time.Minute}

	if ok, _ := l.Allow(ctx, "u1", rule); !ok {
		t.Fatal("first request for u1 should be allowed")
	}
	if ok, _ := l.Allow(ctx, "u1", rule); ok {
		t.Error("second request for u1 should be denied")
	}
	if ok, _ := l.Allow(ctx, "u2", rule); !ok {
		t.Error("u2 should not be affected by u1's counter")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test3:", Limit: 5, Window: time.Minute}

	if n, _ := l.Remaining(ctx, "u1", rule); n != 5 {
		t.Errorf("expected full limit before any request, got %d", n)
	}

	l.Allow(ctx, "u1", rule)
	l.Allow(ctx, "u1", rule)

	if n, _ := l.Remaining(ctx, "u1", rule); n != 3 {
		t.Errorf("expected 3 remaining after 2 requests, got %d", n)
	}
}
