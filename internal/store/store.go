// Package store holds the local mirror of room message history. The durable
// source of truth is the platform REST API; this store is fed by the realtime
// session as a supplementary feed and by REST backfills on room open.
package store

import (
	"log/slog"
	"sync"

	"github.com/lancerdesk/chatlink/internal/metrics"
	"github.com/lancerdesk/chatlink/internal/session"
	"github.com/lancerdesk/chatlink/internal/wire"
)

// maskedBody replaces message bodies flagged privacy_masked before they are
// retained or shown on the console.
const maskedBody = "[message hidden]"

// Message is one retained chat message.
type Message struct {
	ID            string `json:"id"`
	RoomID        string `json:"room_id"`
	SenderID      string `json:"sender_id"`
	Body          string `json:"body"`
	CreatedAt     string `json:"created_at,omitempty"`
	PrivacyMasked bool   `json:"privacy_masked,omitempty"`
}

// RoomStore is a per-room in-memory message history. Each room keeps at most
// maxPerRoom messages; the oldest are dropped. Appends deduplicate by message
// id because the same message can arrive via both REST backfill and the
// socket feed. Thread-safe via sync.RWMutex.
type RoomStore struct {
	mu         sync.RWMutex
	rooms      map[string]*roomHistory
	maxPerRoom int
	metrics    *metrics.Metrics // optional, nil if metrics disabled
}

type roomHistory struct {
	messages []Message
	seen     map[string]struct{} // message ids present in messages
}

// NewRoomStore creates a store retaining up to maxPerRoom messages per room.
func NewRoomStore(maxPerRoom int) *RoomStore {
	return &RoomStore{
		rooms:      make(map[string]*roomHistory),
		maxPerRoom: maxPerRoom,
	}
}

// SetMetrics attaches optional Prometheus metrics.
func (s *RoomStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetLimit changes the per-room retention cap and trims existing histories.
// Used by config hot-reload.
func (s *RoomStore) SetLimit(maxPerRoom int) {
	if maxPerRoom <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPerRoom = maxPerRoom
	for _, rh := range s.rooms {
		if len(rh.messages) > maxPerRoom {
			excess := len(rh.messages) - maxPerRoom
			for _, old := range rh.messages[:excess] {
				if old.ID != "" {
					delete(rh.seen, old.ID)
				}
			}
			rh.messages = rh.messages[excess:]
		}
	}
}

// Bind registers a global listener on the session that mirrors inbound
// messages into the store. The dispatch router delivers self-originated
// echoes unfiltered, so the listener compares senderId against the session
// identity and skips its own messages — those were already appended when the
// REST send was acknowledged. Returns the listener's disposer.
func (s *RoomStore) Bind(mgr *session.Manager) (func(), error) {
	return mgr.OnAnyMessage(func(msg wire.RoomMessage) {
		if msg.SenderID != "" && msg.SenderID == mgr.Status().Identity {
			slog.Debug("store: skipping self echo", "room_id", msg.RoomID, "message_id", msg.ID)
			return
		}
		s.Append(FromWire(msg))
	})
}

// FromWire converts a wire message into a store message, redacting bodies
// flagged privacy_masked.
func FromWire(msg wire.RoomMessage) Message {
	body := msg.Message
	if msg.PrivacyMasked {
		body = maskedBody
	}
	return Message{
		ID:            msg.ID,
		RoomID:        msg.RoomID,
		SenderID:      msg.SenderID,
		Body:          body,
		CreatedAt:     msg.CreatedAt,
		PrivacyMasked: msg.PrivacyMasked,
	}
}

// Append adds a message to its room's history. Returns false if a message
// with the same id is already retained for the room. Messages without an id
// cannot be deduplicated and are always appended.
func (s *RoomStore) Append(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rh, ok := s.rooms[msg.RoomID]
	if !ok {
		rh = &roomHistory{seen: make(map[string]struct{})}
		s.rooms[msg.RoomID] = rh
	}

	if msg.ID != "" {
		if _, dup := rh.seen[msg.ID]; dup {
			return false
		}
		rh.seen[msg.ID] = struct{}{}
	}

	rh.messages = append(rh.messages, msg)
	if len(rh.messages) > s.maxPerRoom {
		excess := len(rh.messages) - s.maxPerRoom
		for _, old := range rh.messages[:excess] {
			if old.ID != "" {
				delete(rh.seen, old.ID)
			}
		}
		rh.messages = rh.messages[excess:]
	}

	if s.metrics != nil {
		s.metrics.StoredMessagesTotal.Inc()
	}
	return true
}

// History returns up to limit messages for a room in chronological order.
// Returns nil if the room has no retained messages.
func (s *RoomStore) History(roomID string, limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rh, ok := s.rooms[roomID]
	if !ok {
		return nil
	}

	msgs := rh.messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Count returns the number of retained messages for a room.
func (s *RoomStore) Count(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rh, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return len(rh.messages)
}

// Rooms returns the ids of rooms with retained messages.
func (s *RoomStore) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// Drop removes a room's retained history (room closed on the console).
func (s *RoomStore) Drop(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}
