// Package wire defines the JSON event envelope and payloads exchanged with
// the chat server. Event names match the server contract and must not change.
package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventAuthSuccess      = "auth_success"
	EventAuthError        = "auth_error"
	EventJoinRoomSuccess  = "join_room_success"
	EventJoinRoomError    = "join_room_error"
	EventLeaveRoomSuccess = "leave_room_success"
	EventLeaveRoomError   = "leave_room_error"
	EventRoomMessage      = "receive_room_message"
	EventMessageError     = "message_error"
)

// Outbound event names.
const (
	EventAuthenticate    = "authenticate"
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventSendRoomMessage = "send_room_message"
)

// Envelope is the outer structure of every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthPayload carries the authenticate request.
type AuthPayload struct {
	UserID string `json:"userId"`
}

// RoomPayload carries join_room / leave_room requests and their acks.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

// SendPayload carries an outbound send_room_message request.
type SendPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// RoomMessage is the payload of receive_room_message. It is handed to
// listeners whole so sender/timestamp/privacy metadata travel with the body.
type RoomMessage struct {
	ID            string `json:"id,omitempty"`
	RoomID        string `json:"roomId"`
	SenderID      string `json:"senderId"`
	Message       string `json:"message"`
	CreatedAt     string `json:"created_at,omitempty"`
	PrivacyMasked bool   `json:"privacy_masked,omitempty"`
}

// ErrorPayload carries server-reported failures (auth_error, join_room_error,
// message_error).
type ErrorPayload struct {
	RoomID string `json:"roomId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Encode marshals an event name and payload into envelope bytes.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses envelope bytes. The payload stays raw until the caller knows
// the event type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing event name")
	}
	return env, nil
}
