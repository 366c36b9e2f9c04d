// Package store provides PostgreSQL-backed durable storage for chat rooms,
// users, messages, and room participants. All queries go through database/sql
// with the lib/pq driver; schema management lives in migrate.go.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested room or user does not exist.
// Callers distinguish it from transient storage failures with errors.Is.
var ErrNotFound = errors.New("store: not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Room is a chat room row. Rooms are created administratively; the engine
// only reads them and touches last_message_at.
type Room struct {
	ID            int64
	Title         string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// User is a registered chat user.
type User struct {
	ID         string // UUID
	Username   string
	CreatedAt  time.Time
	LastActive time.Time
}

// Message is a durably stored chat message. IDs are assigned by the
// bigserial column and increase monotonically per insert order.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    string
	Username  string
	Content   string
	CreatedAt time.Time
}

// Participant is one (room, user) membership row. The (room_id, user_id)
// pair is the primary key, so a user appears at most once per room.
type Participant struct {
	RoomID     int64
	UserID     string
	JoinedAt   time.Time
	LastActive time.Time
}

// Store wraps a SQL database handle with chat-domain queries.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle for migration running and shutdown.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetRoom fetches a room by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	const query = `
		SELECT id, title, created_at, last_message_at
		FROM rooms
		WHERE id = $1`

	var r Room
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&r.ID, &r.Title, &r.CreatedAt, &r.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: room %d: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get room %d: %w", roomID, err)
	}
	return &r, nil
}

// RoomExists reports whether a room with the given ID exists.
func (s *Store) RoomExists(ctx context.Context, roomID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, roomID).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: room exists %d: %w", roomID, err)
	}
	return exists, nil
}

// TouchRoomLastMessage updates a room's last_message_at timestamp. Called
// once per accepted message; a missing room is silently ignored since the
// message itself was already validated against the room.
func (s *Store) TouchRoomLastMessage(ctx context.Context, roomID int64, at time.Time) error {
	const query = `UPDATE rooms SET last_message_at = $2 WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, roomID, at); err != nil {
		return fmt.Errorf("store: touch room %d: %w", roomID, err)
	}
	return nil
}

// GetUser fetches a user by UUID. Returns ErrNotFound if it does not exist.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	const query = `
		SELECT id, username, created_at, last_active
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", userID, err)
	}
	return &u, nil
}

// TouchUserLastActive updates a user's last_active timestamp.
func (s *Store) TouchUserLastActive(ctx context.Context, userID string, at time.Time) error {
	const query = `UPDATE users SET last_active = $2 WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("store: touch user %s: %w", userID, err)
	}
	return nil
}

// SaveMessage inserts a message with its original creation timestamp and
// returns the assigned monotonic ID. Messages arrive here either when a
// full buffer flushes its oldest entry or when a room buffer is drained.
func (s *Store) SaveMessage(ctx context.Context, roomID int64, userID, content string, createdAt time.Time) (int64, error) {
	const query = `
		INSERT INTO messages (room_id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, roomID, userID, content, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: save message room=%d: %w", roomID, err)
	}
	return id, nil
}

// GetRecentMessages returns up to limit messages for a room ordered
// newest-first. When beforeID is non-zero, only messages with a smaller ID
// are returned, which supports paging backwards through history.
func (s *Store) GetRecentMessages(ctx context.Context, roomID int64, beforeID int64, limit int) ([]Message, error) {
	const base = `
		SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1`

	var (
		rows *sql.Rows
		err  error
	)
	if beforeID > 0 {
		rows, err = s.db.QueryContext(ctx, base+` AND m.id < $2 ORDER BY m.id DESC LIMIT $3`, roomID, beforeID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY m.id DESC LIMIT $2`, roomID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: recent messages room=%d: %w", roomID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent messages room=%d: %w", roomID, err)
	}
	return msgs, nil
}

// UpsertParticipant inserts or refreshes a (room, user) participant row.
// Rejoining resets joined_at rather than duplicating the row; the ON
// CONFLICT update takes the row lock, so concurrent joins from two tabs
// cannot lose updates.
func (s *Store) UpsertParticipant(ctx context.Context, roomID int64, userID string, now time.Time) error {
	const query = `
		INSERT INTO participants (room_id, user_id, joined_at, last_active)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (room_id, user_id)
		DO UPDATE SET joined_at = EXCLUDED.joined_at, last_active = EXCLUDED.last_active`

	if _, err := s.db.ExecContext(ctx, query, roomID, userID, now); err != nil {
		return fmt.Errorf("store: upsert participant room=%d user=%s: %w", roomID, userID, err)
	}
	return nil
}

// TouchParticipant updates last_active for an existing participant. A
// missing row is not an error: the user may have already left while a
// heartbeat or message touch was in flight.
func (s *Store) TouchParticipant(ctx context.Context, roomID int64, userID string, at time.Time) error {
	const query = `
		UPDATE participants SET last_active = $3
		WHERE room_id = $1 AND user_id = $2`

	if _, err := s.db.ExecContext(ctx, query, roomID, userID, at); err != nil {
		return fmt.Errorf("store: touch participant room=%d user=%s: %w", roomID, userID, err)
	}
	return nil
}

// DeleteParticipant removes a participant row. Deleting an absent row is a
// no-op so that racing disconnect paths stay idempotent.
func (s *Store) DeleteParticipant(ctx context.Context, roomID int64, userID string) error {
	const query = `DELETE FROM participants WHERE room_id = $1 AND user_id = $2`

	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("store: delete participant room=%d user=%s: %w", roomID, userID, err)
	}
	return nil
}

// CountParticipants returns the number of participants in a room whose
// last_active is at or after since.
func (s *Store) CountParticipants(ctx context.Context, roomID int64, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM participants
		WHERE room_id = $1 AND last_active >= $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, roomID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count participants room=%d: %w", roomID, err)
	}
	return count, nil
}
