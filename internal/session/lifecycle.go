// Package session implements the per-connection chat session lifecycle:
// validate the room, register presence, subscribe to the room's broadcast
// feed, replay recent history, then relay inbound messages through the
// write-back buffer until disconnect.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jack7141/Jasoseol/internal/buffer"
	"github.com/jack7141/Jasoseol/internal/event"
	"github.com/jack7141/Jasoseol/internal/metrics"
	"github.com/jack7141/Jasoseol/internal/protocol"
	"github.com/jack7141/Jasoseol/internal/store"
)

// State is the session lifecycle state. Transitions only move forward:
// Connecting -> Joined -> Active -> Closed, with any state able to jump
// straight to Closed.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Directory answers room existence checks.
type Directory interface {
	Exists(ctx context.Context, roomID int64) (bool, error)
}

// Presence is the time-windowed participant tracker.
type Presence interface {
	Join(ctx context.Context, roomID int64, userID string, now time.Time) error
	Touch(ctx context.Context, roomID int64, userID string, now time.Time) error
	Leave(ctx context.Context, roomID int64, userID string) error
	ActiveCount(ctx context.Context, roomID int64, now time.Time) (int, error)
	HeartbeatInterval() time.Duration
}

// Buffer is the per-room write-back message queue.
type Buffer interface {
	Append(roomID int64, e buffer.Entry) (flushed buffer.Entry, didFlush bool)
	Snapshot(roomID int64) []buffer.Entry
}

// Broadcaster fans events out to every subscriber of a room.
type Broadcaster interface {
	Publish(roomID int64, ev event.RoomEvent) error
	Subscribe(roomID int64, sessionID string, handler func(event.RoomEvent)) error
	Unsubscribe(sessionID string) error
}

// Store is the slice of durable storage the lifecycle needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*store.User, error)
	SaveMessage(ctx context.Context, roomID int64, userID, content string, createdAt time.Time) (int64, error)
	GetRecentMessages(ctx context.Context, roomID int64, beforeID int64, limit int) ([]store.Message, error)
	TouchUserLastActive(ctx context.Context, userID string, at time.Time) error
	TouchRoomLastMessage(ctx context.Context, roomID int64, at time.Time) error
}

// Sink delivers encoded server messages to the client. *ws.Connection
// satisfies it.
type Sink interface {
	WriteMessage(data []byte) error
}

// Deps bundles the collaborators a session needs.
type Deps struct {
	Directory Directory
	Presence  Presence
	Buffer    Buffer
	Bus       Broadcaster
	Store     Store
}

// Config holds lifecycle tuning knobs.
type Config struct {
	ReplayLimit     int           // persisted messages replayed on join
	PersistAttempts int           // attempts to persist a flushed entry
	RetryDelay      time.Duration // pause between persistence attempts
	MaxMessageBytes int           // inbound content size cap
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ReplayLimit:     50,
		PersistAttempts: 3,
		RetryDelay:      100 * time.Millisecond,
		MaxMessageBytes: 4096,
	}
}

// Session is one live connection's room-scoped state. All exported methods
// are safe to call concurrently; Close may race an in-flight HandleInbound
// and both sides stay correct because every handler checks the state first
// and the teardown steps are idempotent.
type Session struct {
	ID     string
	RoomID int64
	UserID string

	deps Deps
	cfg  Config
	sink Sink

	username  string
	state     int32
	closeOnce sync.Once
	hbStop    chan struct{}
	now       func() time.Time
}

// New creates a Session in the Connecting state. It performs no I/O;
// call Connect to run the join sequence.
func New(id string, roomID int64, userID string, sink Sink, deps Deps, cfg Config) *Session {
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = DefaultConfig().ReplayLimit
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = DefaultConfig().PersistAttempts
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultConfig().MaxMessageBytes
	}
	return &Session{
		ID:     id,
		RoomID: roomID,
		UserID: userID,
		deps:   deps,
		cfg:    cfg,
		sink:   sink,
		state:  int32(StateConnecting),
		hbStop: make(chan struct{}),
		now:    time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Username returns the display name resolved during Connect.
func (s *Session) Username() string {
	return s.username
}

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

// Connect runs the join sequence. On any failure the session ends in
// Closed with an error event already delivered to the client and no
// lingering presence or subscription side effects.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return fmt.Errorf("session %s: connect in state %s", s.ID, s.State())
	}

	exists, err := s.deps.Directory.Exists(ctx, s.RoomID)
	if err != nil {
		s.abort("chat service unavailable")
		return fmt.Errorf("session %s: room lookup: %w", s.ID, err)
	}
	if !exists {
		s.abort("Chat room does not exist.")
		return fmt.Errorf("session %s: room %d: %w", s.ID, s.RoomID, store.ErrNotFound)
	}

	user, err := s.deps.Store.GetUser(ctx, s.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			s.abort("User does not exist.")
		} else {
			s.abort("chat service unavailable")
		}
		return fmt.Errorf("session %s: user lookup: %w", s.ID, err)
	}
	s.username = user.Username

	now := s.now()
	if err := s.deps.Presence.Join(ctx, s.RoomID, s.UserID, now); err != nil {
		s.abort("chat service unavailable")
		return fmt.Errorf("session %s: presence join: %w", s.ID, err)
	}

	if err := s.deps.Bus.Subscribe(s.RoomID, s.ID, s.onRoomEvent); err != nil {
		// Roll back the presence row so a failed join leaves no trace.
		if lerr := s.deps.Presence.Leave(ctx, s.RoomID, s.UserID); lerr != nil {
			log.Printf("session %s: rollback leave: %v", s.ID, lerr)
		}
		s.abort("chat service unavailable")
		return fmt.Errorf("session %s: subscribe: %w", s.ID, err)
	}
	s.setState(StateJoined)

	if err := s.replay(ctx); err != nil {
		s.sendError("chat service unavailable")
		s.Close(ctx)
		return fmt.Errorf("session %s: replay: %w", s.ID, err)
	}
	s.setState(StateActive)
	metrics.ActiveSessions.Inc()
	s.startHeartbeat()

	count, err := s.deps.Presence.ActiveCount(ctx, s.RoomID, now)
	if err != nil {
		log.Printf("session %s: active count: %v", s.ID, err)
	}
	if err := s.deps.Bus.Publish(s.RoomID, event.RoomEvent{
		Type:        event.TypeUserJoin,
		RoomID:      s.RoomID,
		UserID:      s.UserID,
		Username:    s.username,
		ActiveCount: count,
	}); err != nil {
		log.Printf("session %s: publish user_join: %v", s.ID, err)
	}

	log.Printf("session %s: user=%s joined room=%d (active=%d)", s.ID, s.username, s.RoomID, count)
	return nil
}

// abort delivers an error event and closes a session that never completed
// its join, so no presence or subscription teardown is needed.
func (s *Session) abort(msg string) {
	s.sendError(msg)
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.hbStop)
	})
}

// replay delivers recently persisted messages oldest-first, then the room's
// buffer snapshot. Flushed entries leave the buffer before they are
// persisted, so the two sequences never overlap.
func (s *Session) replay(ctx context.Context) error {
	msgs, err := s.deps.Store.GetRecentMessages(ctx, s.RoomID, 0, s.cfg.ReplayLimit)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		s.deliverChat(protocol.ChatMessageMsg{
			Message:  m.Content,
			UserID:   m.UserID,
			Username: m.Username,
		})
	}
	for _, e := range s.deps.Buffer.Snapshot(s.RoomID) {
		s.deliverChat(protocol.ChatMessageMsg{
			Message:  e.Content,
			UserID:   e.UserID,
			Username: e.Username,
		})
	}
	return nil
}

func (s *Session) deliverChat(m protocol.ChatMessageMsg) {
	data, err := protocol.NewServerMessage(protocol.TypeChatMessage, m)
	if err != nil {
		log.Printf("session %s: encode chat_message: %v", s.ID, err)
		return
	}
	if err := s.sink.WriteMessage(data); err != nil {
		log.Printf("session %s: deliver chat_message: %v", s.ID, err)
	}
}

// HandleInbound processes one chat frame from the client. Closed or
// not-yet-active sessions ignore it; blank content is dropped silently.
// Steady-state storage and bus failures degrade to an error event without
// tearing the session down.
func (s *Session) HandleInbound(ctx context.Context, text string) {
	if s.State() != StateActive {
		return
	}

	start := time.Now()
	defer func() {
		metrics.MessageLatency.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(text) == "" {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return
	}
	if len(text) > s.cfg.MaxMessageBytes || !utf8.ValidString(text) {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		s.sendError("invalid message")
		return
	}
	metrics.MessagesTotal.WithLabelValues("received").Inc()

	now := s.now()
	if err := s.deps.Presence.Touch(ctx, s.RoomID, s.UserID, now); err != nil {
		log.Printf("session %s: presence touch: %v", s.ID, err)
	}
	if err := s.deps.Store.TouchUserLastActive(ctx, s.UserID, now); err != nil {
		log.Printf("session %s: user touch: %v", s.ID, err)
	}

	flushed, didFlush := s.deps.Buffer.Append(s.RoomID, buffer.Entry{
		RoomID:    s.RoomID,
		UserID:    s.UserID,
		Username:  s.username,
		Content:   text,
		CreatedAt: now,
	})
	metrics.BufferedMessages.Inc()

	// The room lock was released inside Append; the popped entry is ours
	// alone now, so persisting it cannot block other appends.
	if didFlush {
		metrics.BufferedMessages.Dec()
		if err := s.persistFlushed(ctx, flushed); err != nil {
			log.Printf("session %s: flush room=%d: %v", s.ID, s.RoomID, err)
			metrics.FlushFailuresTotal.Inc()
			s.sendError("message persistence degraded")
		}
	}

	if err := s.deps.Store.TouchRoomLastMessage(ctx, s.RoomID, now); err != nil {
		log.Printf("session %s: room touch: %v", s.ID, err)
	}

	if err := s.deps.Bus.Publish(s.RoomID, event.RoomEvent{
		Type:      event.TypeChatMessage,
		RoomID:    s.RoomID,
		UserID:    s.UserID,
		Username:  s.username,
		Message:   text,
		CreatedAt: now.Unix(),
	}); err != nil {
		log.Printf("session %s: publish chat_message: %v", s.ID, err)
		s.sendError("message delivery failed")
		return
	}
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()
}

// persistFlushed writes one popped buffer entry to durable storage with
// bounded retries. The entry keeps its original creation timestamp. After
// the last attempt fails the entry is gone from the hot buffer and is not
// re-inserted; the failure is surfaced to the caller instead.
func (s *Session) persistFlushed(ctx context.Context, e buffer.Entry) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.PersistAttempts; attempt++ {
		start := time.Now()
		_, err := s.deps.Store.SaveMessage(ctx, e.RoomID, e.UserID, e.Content, e.CreatedAt)
		if err == nil {
			metrics.FlushesTotal.WithLabelValues("overflow").Inc()
			metrics.FlushLatency.Observe(time.Since(start).Seconds())
			return nil
		}
		lastErr = err
		if attempt < s.cfg.PersistAttempts && s.cfg.RetryDelay > 0 {
			time.Sleep(s.cfg.RetryDelay)
		}
	}
	return fmt.Errorf("persist after %d attempts: %w", s.cfg.PersistAttempts, lastErr)
}

// onRoomEvent translates a bus event into the matching wire message for
// this client. Events arriving after Close are dropped.
func (s *Session) onRoomEvent(ev event.RoomEvent) {
	if s.State() == StateClosed {
		return
	}

	var (
		data []byte
		err  error
	)
	switch ev.Type {
	case event.TypeUserJoin:
		data, err = protocol.NewServerMessage(protocol.TypeUserJoin, protocol.UserJoinMsg{
			UserID:              ev.UserID,
			Username:            ev.Username,
			ConnectedUsersCount: ev.ActiveCount,
		})
	case event.TypeUserLeave:
		data, err = protocol.NewServerMessage(protocol.TypeUserLeave, protocol.UserLeaveMsg{
			Username:            ev.Username,
			ConnectedUsersCount: ev.ActiveCount,
		})
	case event.TypeChatMessage:
		data, err = protocol.NewServerMessage(protocol.TypeChatMessage, protocol.ChatMessageMsg{
			Message:  ev.Message,
			UserID:   ev.UserID,
			Username: ev.Username,
		})
	default:
		log.Printf("session %s: unhandled event type %q", s.ID, ev.Type)
		return
	}
	if err != nil {
		log.Printf("session %s: encode %s: %v", s.ID, ev.Type, err)
		return
	}
	if err := s.sink.WriteMessage(data); err != nil {
		log.Printf("session %s: deliver %s: %v", s.ID, ev.Type, err)
	}
}

// Close tears the session down: unsubscribe, remove presence, announce the
// departure. Safe to call any number of times from any goroutine; only the
// first call does work. A session closed before completing its join skips
// the teardown because there is nothing to undo.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		prev := State(atomic.SwapInt32(&s.state, int32(StateClosed)))
		close(s.hbStop)

		if prev == StateConnecting || prev == StateClosed {
			return
		}
		if prev == StateActive {
			metrics.ActiveSessions.Dec()
		}

		if err := s.deps.Bus.Unsubscribe(s.ID); err != nil {
			log.Printf("session %s: unsubscribe: %v", s.ID, err)
		}
		if err := s.deps.Presence.Leave(ctx, s.RoomID, s.UserID); err != nil {
			log.Printf("session %s: presence leave: %v", s.ID, err)
		}

		count, err := s.deps.Presence.ActiveCount(ctx, s.RoomID, s.now())
		if err != nil {
			log.Printf("session %s: active count: %v", s.ID, err)
		}
		if err := s.deps.Bus.Publish(s.RoomID, event.RoomEvent{
			Type:        event.TypeUserLeave,
			RoomID:      s.RoomID,
			Username:    s.username,
			ActiveCount: count,
		}); err != nil {
			log.Printf("session %s: publish user_leave: %v", s.ID, err)
		}

		log.Printf("session %s: user=%s left room=%d (active=%d)", s.ID, s.username, s.RoomID, count)
	})
}

// startHeartbeat re-touches the participant row periodically so an idle
// but connected user stays inside the presence window.
func (s *Session) startHeartbeat() {
	interval := s.deps.Presence.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.hbStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.deps.Presence.Touch(ctx, s.RoomID, s.UserID, s.now()); err != nil {
					log.Printf("session %s: heartbeat touch: %v", s.ID, err)
				}
				cancel()
			}
		}
	}()
}

func (s *Session) sendError(msg string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Error: msg})
	if err != nil {
		log.Printf("session %s: encode error message: %v", s.ID, err)
		return
	}
	if err := s.sink.WriteMessage(data); err != nil {
		log.Printf("session %s: deliver error message: %v", s.ID, err)
	}
}
