// Package protocol defines the WebSocket messages exchanged with chat
// clients. Everything is JSON. Inbound frames carry a "type" discriminator,
// except the bare chat form {"message": "..."} which is accepted for
// compatibility with clients that only ever send chat text.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeUserJoin    = "user_join"
	TypeUserLeave   = "user_leave"
	TypeChatMessage = "chat_message"
	TypeError       = "error"
	TypePong        = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts the "type" field.
// A frame without a type but with a "message" key is treated as a chat
// message, matching the bare inbound form {"message": "..."}.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type    string           `json:"type"`
		Message *json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		if partial.Message == nil {
			return fmt.Errorf("protocol: missing or empty \"type\" field")
		}
		partial.Type = TypeMessage
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ChatMsg is a chat message sent by the client into its room.
type ChatMsg struct {
	Message string `json:"message"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// UserJoinMsg announces a user joining the room, with the room's current
// active-participant count.
type UserJoinMsg struct {
	UserID              string `json:"user_id"`
	Username            string `json:"username"`
	ConnectedUsersCount int    `json:"connected_users_count"`
}

// UserLeaveMsg announces a user leaving the room.
type UserLeaveMsg struct {
	Username            string `json:"username"`
	ConnectedUsersCount int    `json:"connected_users_count"`
}

// ChatMessageMsg relays one chat message to a room subscriber.
type ChatMessageMsg struct {
	Message  string `json:"message"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ErrorMsg reports an error condition to the client.
type ErrorMsg struct {
	Error string `json:"error"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type, the decoded struct, and any parse error.
// Server-only and unknown types are rejected.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes a server message with the "type" key injected
// into the payload. The payload should be one of the *Msg structs above.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	m["type"] = msgType

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return data, nil
}
