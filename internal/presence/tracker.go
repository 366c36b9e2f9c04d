// Package presence tracks which users count as active in a room. Presence
// is derived from the participant row's last_active timestamp rather than
// live socket state, so a crashed connection that never sent a clean
// disconnect silently ages out of the count once the window elapses.
package presence

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultWindow is the sliding interval within which a participant's
	// last_active must fall for them to count as active.
	DefaultWindow = 30 * time.Minute

	// DefaultHeartbeatInterval is how often an idle-but-connected session
	// should re-touch its participant row. It must stay below half the
	// window so one missed beat cannot drop a connected user from the count.
	DefaultHeartbeatInterval = 10 * time.Minute
)

// ParticipantStore is the durable participant table. *store.Store satisfies it.
type ParticipantStore interface {
	UpsertParticipant(ctx context.Context, roomID int64, userID string, now time.Time) error
	TouchParticipant(ctx context.Context, roomID int64, userID string, at time.Time) error
	DeleteParticipant(ctx context.Context, roomID int64, userID string) error
	CountParticipants(ctx context.Context, roomID int64, since time.Time) (int, error)
}

// Tracker computes time-windowed presence over a participant store.
type Tracker struct {
	store  ParticipantStore
	window time.Duration
}

// NewTracker creates a Tracker. A non-positive window falls back to
// DefaultWindow.
func NewTracker(store ParticipantStore, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{store: store, window: window}
}

// Window returns the configured presence window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// HeartbeatInterval returns how often sessions should touch their row to
// stay inside the window while idle.
func (t *Tracker) HeartbeatInterval() time.Duration {
	if t.window/3 < DefaultHeartbeatInterval {
		return t.window / 3
	}
	return DefaultHeartbeatInterval
}

// Join registers a user in a room, resetting joined_at and last_active.
// Rejoining is an upsert; two concurrent sessions of the same user share
// one participant row.
func (t *Tracker) Join(ctx context.Context, roomID int64, userID string, now time.Time) error {
	if err := t.store.UpsertParticipant(ctx, roomID, userID, now); err != nil {
		return fmt.Errorf("presence: join room=%d user=%s: %w", roomID, userID, err)
	}
	return nil
}

// Touch refreshes a participant's last_active. Touching a participant that
// already left is a no-op, not an error.
func (t *Tracker) Touch(ctx context.Context, roomID int64, userID string, now time.Time) error {
	if err := t.store.TouchParticipant(ctx, roomID, userID, now); err != nil {
		return fmt.Errorf("presence: touch room=%d user=%s: %w", roomID, userID, err)
	}
	return nil
}

// Leave removes a user's participant row. Idempotent.
func (t *Tracker) Leave(ctx context.Context, roomID int64, userID string) error {
	if err := t.store.DeleteParticipant(ctx, roomID, userID); err != nil {
		return fmt.Errorf("presence: leave room=%d user=%s: %w", roomID, userID, err)
	}
	return nil
}

// ActiveCount returns the number of participants whose last_active falls
// within the window ending at now.
func (t *Tracker) ActiveCount(ctx context.Context, roomID int64, now time.Time) (int, error) {
	count, err := t.store.CountParticipants(ctx, roomID, now.Add(-t.window))
	if err != nil {
		return 0, fmt.Errorf("presence: active count room=%d: %w", roomID, err)
	}
	return count, nil
}
