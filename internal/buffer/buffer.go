// Package buffer holds the per-room in-memory message queue. Recent messages
// stay hot for instant replay to newly joined clients; once a room's queue
// reaches capacity, the oldest entry is handed back to the caller for
// persistence so memory stays bounded.
package buffer

import (
	"sync"
	"time"
)

// DefaultCapacity is the per-room queue size used when no override is given.
const DefaultCapacity = 20

// Entry is one unflushed message. It carries everything the durable store
// needs so that a flush preserves the original author and timestamp.
type Entry struct {
	RoomID    int64
	UserID    string
	Username  string
	Content   string
	CreatedAt time.Time
}

// Buffer manages one FIFO queue per room. Each room has its own mutex, so
// a slow flush on one room never blocks appends on another; the outer lock
// only guards the map of queues.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[int64]*roomQueue
}

type roomQueue struct {
	mu         sync.Mutex
	entries    []Entry
	lastAppend time.Time
	removed    bool // set under mu when the queue leaves the map
}

// New creates a Buffer with the given per-room capacity. Non-positive
// values fall back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		rooms:    make(map[int64]*roomQueue),
	}
}

// Capacity returns the per-room capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// queue returns the room's queue, creating it on first activity.
func (b *Buffer) queue(roomID int64) *roomQueue {
	b.mu.RLock()
	q, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if ok {
		return q
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok = b.rooms[roomID]; ok {
		return q
	}
	q = &roomQueue{entries: make([]Entry, 0, b.capacity)}
	b.rooms[roomID] = q
	return q
}

// Append adds an entry to the room's queue. If the queue is already at
// capacity, the oldest entry is popped first and returned with didFlush=true;
// the caller is responsible for persisting it. Pop-and-append is a single
// step under the room lock, so no concurrent caller can observe the queue
// over capacity or see the popped entry again.
func (b *Buffer) Append(roomID int64, e Entry) (flushed Entry, didFlush bool) {
	for {
		q := b.queue(roomID)

		q.mu.Lock()
		// The queue may have been evicted between the map lookup and the
		// lock; appending to it would lose the entry. Fetch a fresh one.
		if q.removed {
			q.mu.Unlock()
			continue
		}

		if len(q.entries) >= b.capacity {
			flushed = q.entries[0]
			didFlush = true
			copy(q.entries, q.entries[1:])
			q.entries = q.entries[:len(q.entries)-1]
		}
		q.entries = append(q.entries, e)
		q.lastAppend = e.CreatedAt
		q.mu.Unlock()
		return flushed, didFlush
	}
}

// Snapshot returns a copy of the room's queue oldest-first for replay.
// An unknown room yields an empty slice.
func (b *Buffer) Snapshot(roomID int64) []Entry {
	b.mu.RLock()
	q, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return []Entry{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the current queue length for a room.
func (b *Buffer) Len(roomID int64) int {
	b.mu.RLock()
	q, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain removes and returns all entries for a room oldest-first. Used when
// a room shuts down or goes idle and its buffered messages should be
// persisted in one sweep.
func (b *Buffer) Drain(roomID int64) []Entry {
	b.mu.RLock()
	q, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = make([]Entry, 0, b.capacity)
	return out
}

// Remove drops a room's queue entirely. Any unflushed entries are lost, so
// callers should Drain first if they want them persisted.
func (b *Buffer) Remove(roomID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.rooms[roomID]
	if !ok {
		return
	}
	q.mu.Lock()
	q.removed = true
	q.mu.Unlock()
	delete(b.rooms, roomID)
}

// Evict drops a room's queue only if it is empty, so a message appended
// after the caller's Drain cannot be lost. Returns true when the room no
// longer has a queue.
func (b *Buffer) Evict(roomID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.rooms[roomID]
	if !ok {
		return true
	}

	q.mu.Lock()
	empty := len(q.entries) == 0
	if empty {
		q.removed = true
	}
	q.mu.Unlock()

	if empty {
		delete(b.rooms, roomID)
	}
	return empty
}

// IdleRooms returns the IDs of rooms whose last append is older than the
// cutoff. The janitor uses this to pick rooms to drain and evict.
func (b *Buffer) IdleRooms(cutoff time.Time) []int64 {
	b.mu.RLock()
	rooms := make([]*roomQueue, 0, len(b.rooms))
	ids := make([]int64, 0, len(b.rooms))
	for id, q := range b.rooms {
		rooms = append(rooms, q)
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	var idle []int64
	for i, q := range rooms {
		q.mu.Lock()
		if q.lastAppend.Before(cutoff) {
			idle = append(idle, ids[i])
		}
		q.mu.Unlock()
	}
	return idle
}
