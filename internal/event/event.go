// Package event defines the room event envelope published on the broadcast
// bus. Events carry an explicit type tag and are dispatched with a switch,
// so an unknown tag is a visible error rather than a silent miss.
package event

import (
	"encoding/json"
	"fmt"
)

// Type tags the kind of room event.
type Type string

const (
	TypeUserJoin    Type = "user_join"
	TypeUserLeave   Type = "user_leave"
	TypeChatMessage Type = "chat_message"
)

// RoomEvent is the envelope fanned out to every subscriber of a room,
// including the publisher. Fields not relevant to a given type are left at
// their zero value and omitted from the wire form.
type RoomEvent struct {
	Type        Type   `json:"type"`
	RoomID      int64  `json:"room_id"`
	UserID      string `json:"user_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Message     string `json:"message,omitempty"`
	CreatedAt   int64  `json:"ts,omitempty"`           // unix seconds
	ActiveCount int    `json:"active_count,omitempty"` // presence count at publish time
}

// Marshal encodes the event for the bus.
func Marshal(ev RoomEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", ev.Type, err)
	}
	return data, nil
}

// Unmarshal decodes a bus payload and rejects unknown type tags.
func Unmarshal(data []byte) (RoomEvent, error) {
	var ev RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RoomEvent{}, fmt.Errorf("event: unmarshal: %w", err)
	}
	switch ev.Type {
	case TypeUserJoin, TypeUserLeave, TypeChatMessage:
		return ev, nil
	default:
		return RoomEvent{}, fmt.Errorf("event: unknown type %q", ev.Type)
	}
}
