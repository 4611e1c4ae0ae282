package session

import (
	"log/slog"
	"sync"

	"github.com/lancerdesk/chatlink/internal/wire"
)

// Listener is a callback invoked with the full inbound message so callers can
// read sender/timestamp/privacy metadata without a second lookup.
type Listener func(msg wire.RoomMessage)

// listenerEntry wraps a Listener so registrations are tracked by entry
// identity. The same function value can be registered twice and each
// registration removed independently.
type listenerEntry struct {
	fn Listener
}

// Registry tracks room-scoped and global message listeners.
// Listeners are kept in registration order. Thread-safe via sync.Mutex.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string][]*listenerEntry
	global []*listenerEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string][]*listenerEntry),
	}
}

// OnRoomMessage registers fn for messages targeting roomID and returns a
// disposer that removes exactly this registration. The room entry is created
// lazily and deleted again once its last listener is removed.
func (r *Registry) OnRoomMessage(roomID string, fn Listener) func() {
	entry := &listenerEntry{fn: fn}

	r.mu.Lock()
	r.rooms[roomID] = append(r.rooms[roomID], entry)
	r.mu.Unlock()
	slog.Debug("registry: room listener added", "room_id", roomID)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.removeRoomEntry(roomID, entry)
		})
	}
}

// OnAnyMessage registers fn for every inbound message regardless of room and
// returns a disposer for this registration.
func (r *Registry) OnAnyMessage(fn Listener) func() {
	entry := &listenerEntry{fn: fn}

	r.mu.Lock()
	r.global = append(r.global, entry)
	r.mu.Unlock()
	slog.Debug("registry: global listener added")

	var once sync.Once
	return func() {
		once.Do(func() {
			r.removeGlobalEntry(entry)
		})
	}
}

// RemoveRoomListeners unconditionally clears all listeners for a room.
func (r *Registry) RemoveRoomListeners(roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
	slog.Debug("registry: room listeners cleared", "room_id", roomID)
}

// Clear drops every room and global listener. Used on session teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.rooms = make(map[string][]*listenerEntry)
	r.global = nil
	r.mu.Unlock()
}

// RoomListenerCount returns the number of listeners registered for a room.
func (r *Registry) RoomListenerCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// GlobalListenerCount returns the number of global listeners.
func (r *Registry) GlobalListenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.global)
}

// HasRoom reports whether a subscription entry exists for roomID.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) removeRoomEntry(roomID string, entry *listenerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.rooms[roomID]
	for i, e := range entries {
		if e == entry {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		// No dangling empty sets
		delete(r.rooms, roomID)
		return
	}
	r.rooms[roomID] = entries
}

func (r *Registry) removeGlobalEntry(entry *listenerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.global {
		if e == entry {
			r.global = append(r.global[:i], r.global[i+1:]...)
			return
		}
	}
}

// roomSnapshot returns a copy of the listeners for roomID in registration
// order. Dispatch iterates the copy so a disposer invoked mid-dispatch only
// affects future events.
func (r *Registry) roomSnapshot(roomID string) []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.rooms[roomID]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Listener, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

// globalSnapshot returns a copy of the global listeners in registration order.
func (r *Registry) globalSnapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.global) == 0 {
		return nil
	}
	out := make([]Listener, len(r.global))
	for i, e := range r.global {
		out[i] = e.fn
	}
	return out
}
