package presence

import (
	"context"
	"testing"
	"time"
)

type rowKey struct {
	roomID int64
	userID string
}

// memStore is an in-memory ParticipantStore for tests.
type memStore struct {
	rows map[rowKey]time.Time // (room, user) -> last_active
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[rowKey]time.Time)}
}

func (m *memStore) UpsertParticipant(_ context.Context, roomID int64, userID string, now time.Time) error {
	m.rows[rowKey{roomID, userID}] = now
	return nil
}

func (m *memStore) TouchParticipant(_ context.Context, roomID int64, userID string, at time.Time) error {
	if _, ok := m.rows[rowKey{roomID, userID}]; ok {
		m.rows[rowKey{roomID, userID}] = at
	}
	return nil
}

func (m *memStore) DeleteParticipant(_ context.Context, roomID int64, userID string) error {
	delete(m.rows, rowKey{roomID, userID})
	return nil
}

func (m *memStore) CountParticipants(_ context.Context, roomID int64, since time.Time) (int, error) {
	count := 0
	for k, at := range m.rows {
		if k.roomID == roomID && !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func TestJoinThenLeave(t *testing.T) {
	tr := NewTracker(newMemStore(), 30*time.Minute)
	ctx := context.Background()
	now := time.Now()

	if err := tr.Join(ctx, 1, "alice", now); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	count, err := tr.ActiveCount(ctx, 1, now)
	if err != nil {
		t.Fatalf("ActiveCount() error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1 after join, got %d", count)
	}

	if err := tr.Leave(ctx, 1, "alice"); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	count, err = tr.ActiveCount(ctx, 1, now)
	if err != nil {
		t.Fatalf("ActiveCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0 after leave, got %d", count)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	tr := NewTracker(newMemStore(), 30*time.Minute)
	ctx := context.Background()

	if err := tr.Join(ctx, 1, "alice", time.Now()); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if err := tr.Leave(ctx, 1, "alice"); err != nil {
		t.Fatalf("first Leave() error: %v", err)
	}
	if err := tr.Leave(ctx, 1, "alice"); err != nil {
		t.Fatalf("second Leave() error: %v", err)
	}
}

func TestTouchMissingParticipantIsNoop(t *testing.T) {
	tr := NewTracker(newMemStore(), 30*time.Minute)
	ctx := context.Background()
	now := time.Now()

	if err := tr.Touch(ctx, 1, "ghost", now); err != nil {
		t.Fatalf("Touch() on missing participant errored: %v", err)
	}
	count, _ := tr.ActiveCount(ctx, 1, now)
	if count != 0 {
		t.Errorf("touch must not create a participant, got count %d", count)
	}
}

func TestActiveCountRespectsWindow(t *testing.T) {
	ms := newMemStore()
	tr := NewTracker(ms, 30*time.Minute)
	ctx := context.Background()
	now := time.Now()

	// One participant touched just now, one stale beyond the window, one
	// exactly at the boundary (still counts: last_active >= now - window).
	tr.Join(ctx, 1, "fresh", now)
	tr.Join(ctx, 1, "stale", now.Add(-31*time.Minute))
	tr.Join(ctx, 1, "edge", now.Add(-30*time.Minute))

	count, err := tr.ActiveCount(ctx, 1, now)
	if err != nil {
		t.Fatalf("ActiveCount() error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 active participants, got %d", count)
	}
}

func TestTouchBringsParticipantBack(t *testing.T) {
	tr := NewTracker(newMemStore(), 30*time.Minute)
	ctx := context.Background()
	now := time.Now()

	tr.Join(ctx, 1, "alice", now.Add(-time.Hour))
	if count, _ := tr.ActiveCount(ctx, 1, now); count != 0 {
		t.Fatalf("expected stale participant excluded, got %d", count)
	}

	if err := tr.Touch(ctx, 1, "alice", now); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if count, _ := tr.ActiveCount(ctx, 1, now); count != 1 {
		t.Errorf("expected touched participant counted, got %d", count)
	}
}

func TestHeartbeatIntervalBelowHalfWindow(t *testing.T) {
	cases := []time.Duration{30 * time.Minute, 10 * time.Minute, time.Minute}
	for _, window := range cases {
		tr := NewTracker(newMemStore(), window)
		if hb := tr.HeartbeatInterval(); hb > window/2 {
			t.Errorf("window %s: heartbeat %s exceeds half the window", window, hb)
		}
	}
}
