package room

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ExistsPrefix is the Redis key prefix for room existence flags.
	ExistsPrefix = "room:exists:"

	// ExistsTTL bounds how long a stale existence answer can live. Rooms
	// are created and deleted rarely, so a short TTL is enough.
	ExistsTTL = 60 * time.Second
)

// Lookup is the result of a cache read. A miss is an ordinary value, not an
// error; Redis failures also surface as misses so the caller falls through
// to the database (fail open).
type Lookup struct {
	Hit    bool
	Exists bool
}

// Cache is a Redis-backed existence cache for rooms.
type Cache struct {
	client *redis.Client
}

// NewCache creates a Cache using the provided Redis client. A nil client
// disables caching: every lookup is a miss and every set is a no-op.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get looks up a room's cached existence flag.
func (c *Cache) Get(ctx context.Context, roomID int64) Lookup {
	if c.client == nil {
		return Lookup{}
	}

	key := ExistsPrefix + strconv.FormatInt(roomID, 10)
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Lookup{}
	}
	if err != nil {
		log.Printf("[room-cache] redis GET error key=%s: %v (treating as miss)", key, err)
		return Lookup{}
	}
	return Lookup{Hit: true, Exists: val == "1"}
}

// Set stores a room's existence flag with a TTL. Errors are logged and
// swallowed; the cache is an optimization, never a source of truth.
func (c *Cache) Set(ctx context.Context, roomID int64, exists bool) {
	if c.client == nil {
		return
	}

	key := ExistsPrefix + strconv.FormatInt(roomID, 10)
	val := "0"
	if exists {
		val = "1"
	}
	if err := c.client.Set(ctx, key, val, ExistsTTL).Err(); err != nil {
		log.Printf("[room-cache] redis SET error key=%s: %v", key, err)
	}
}

// Invalidate drops a room's cached flag, e.g. after administrative deletion.
func (c *Cache) Invalidate(ctx context.Context, roomID int64) {
	if c.client == nil {
		return
	}

	key := ExistsPrefix + strconv.FormatInt(roomID, 10)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Printf("[room-cache] redis DEL error key=%s: %v", key, err)
	}
}
