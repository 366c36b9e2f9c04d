// Package room answers "does this room exist" and serves room metadata.
// Lookups go through a short-lived Redis existence cache in front of the
// durable store; the cache reports hits and misses as plain values so a
// miss is never confused with a storage failure.
package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/jack7141/Jasoseol/internal/store"
)

// RoomStore is the durable room table. *store.Store satisfies it.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID int64) (*store.Room, error)
	RoomExists(ctx context.Context, roomID int64) (bool, error)
}

// Directory resolves room existence and metadata.
type Directory struct {
	store RoomStore
	cache *Cache
}

// NewDirectory creates a Directory over the given store and cache.
func NewDirectory(s RoomStore, cache *Cache) *Directory {
	return &Directory{store: s, cache: cache}
}

// Exists reports whether the room exists. Cache first, store on a miss;
// a store failure is a retryable lookup error, not a "no".
func (d *Directory) Exists(ctx context.Context, roomID int64) (bool, error) {
	if l := d.cache.Get(ctx, roomID); l.Hit {
		return l.Exists, nil
	}

	exists, err := d.store.RoomExists(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("room: exists %d: %w", roomID, err)
	}
	d.cache.Set(ctx, roomID, exists)
	return exists, nil
}

// Get fetches room metadata from the store. Returns store.ErrNotFound
// (wrapped) when the room is missing; the existence flag is cached either way.
func (d *Directory) Get(ctx context.Context, roomID int64) (*store.Room, error) {
	r, err := d.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		d.cache.Set(ctx, roomID, false)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("room: get %d: %w", roomID, err)
	}
	d.cache.Set(ctx, roomID, true)
	return r, nil
}
