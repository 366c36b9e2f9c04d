// Package broadcast adapts session events onto the NATS bus. Rooms map to
// subjects, so publishing to a room fans out to every subscribed session on
// every server instance, including the publisher. The adapter does no
// buffering or reordering of its own; delivery guarantees are whatever the
// bus provides (at-least-once, ordered per publisher).
package broadcast

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jack7141/Jasoseol/internal/event"
)

// SubjectRoom is the subject prefix for room fan-out: room.<room_id>.
const SubjectRoom = "room"

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chatserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bus wraps the NATS connection with room-keyed publish and per-session
// subscriptions.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription // "roomsub:<session_id>" -> subscription
}

// New connects to NATS and returns a ready Bus. The initial connection
// failing is an error; later disconnects are handled by the client's
// reconnect loop.
func New(config Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

func roomSubject(roomID int64) string {
	return SubjectRoom + "." + strconv.FormatInt(roomID, 10)
}

// Publish sends a room event to every current subscriber of the room.
func (b *Bus) Publish(roomID int64, ev event.RoomEvent) error {
	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(roomSubject(roomID), data); err != nil {
		return fmt.Errorf("nats publish room=%d: %w", roomID, err)
	}
	return nil
}

// Subscribe registers a session's handler on a room subject. The
// subscription is keyed by session ID so multiple sessions on the same
// server can follow the same room without clobbering each other. Payloads
// that fail to decode are logged and dropped.
func (b *Bus) Subscribe(roomID int64, sessionID string, handler func(event.RoomEvent)) error {
	subject := roomSubject(roomID)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := event.Unmarshal(msg.Data)
		if err != nil {
			log.Printf("[nats] bad payload on %s: %v", subject, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs["roomsub:"+sessionID] = sub
	b.mu.Unlock()
	return nil
}

// Unsubscribe drops a session's room subscription. Unsubscribing a session
// that has no subscription is reported as an error; lifecycle callers
// tolerate it since disconnect paths can race.
func (b *Bus) Unsubscribe(sessionID string) error {
	key := "roomsub:" + sessionID

	b.mu.Lock()
	sub, ok := b.subs[key]
	if ok {
		delete(b.subs, key)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no subscription for session %s", sessionID)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe session %s: %w", sessionID, err)
	}
	return nil
}

// Close drains all active subscriptions and the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] bus closed")
}
