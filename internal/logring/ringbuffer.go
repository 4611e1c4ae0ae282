// Package logring captures recent log records in memory so the local console
// can serve them without touching log files.
package logring

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// RingBuffer is a thread-safe circular buffer of log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int  // next write position
	full    bool // whether the buffer has wrapped
}

// NewRingBuffer creates a buffer holding up to capacity entries. A capacity
// below 1 is clamped to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{entries: make([]Entry, capacity)}
}

// Add appends an entry, overwriting the oldest once the buffer is full.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = e
	rb.head++
	if rb.head == len(rb.entries) {
		rb.head = 0
		rb.full = true
	}
}

// Len returns the number of stored entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.head
}

// Snapshot returns stored entries in chronological order.
func (rb *RingBuffer) Snapshot() []Entry {
	return rb.SnapshotAtLevel(slog.LevelDebug)
}

// SnapshotAtLevel returns stored entries at or above minLevel in
// chronological order.
func (rb *RingBuffer) SnapshotAtLevel(minLevel slog.Level) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var ordered []Entry
	if rb.full {
		ordered = append(ordered, rb.entries[rb.head:]...)
		ordered = append(ordered, rb.entries[:rb.head]...)
	} else {
		ordered = append(ordered, rb.entries[:rb.head]...)
	}

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if e.Level >= minLevel {
			out = append(out, e)
		}
	}
	return out
}
