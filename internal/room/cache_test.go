package room

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestCache connects to a local Redis instance and clears room cache
// keys. Tests are skipped when Redis is not running.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	iter := client.Scan(ctx, 0, ExistsPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	t.Cleanup(func() { client.Close() })
	return NewCache(client)
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if l := c.Get(ctx, 1001); l.Hit {
		t.Fatal("expected miss before Set")
	}

	c.Set(ctx, 1001, true)
	l := c.Get(ctx, 1001)
	if !l.Hit || !l.Exists {
		t.Errorf("expected hit with exists=true, got %+v", l)
	}

	c.Set(ctx, 1002, false)
	l = c.Get(ctx, 1002)
	if !l.Hit || l.Exists {
		t.Errorf("expected hit with exists=false, got %+v", l)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, 1003, true)
	c.Invalidate(ctx, 1003)
	if l := c.Get(ctx, 1003); l.Hit {
		t.Error("expected miss after Invalidate")
	}
}
