package logring

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 1; i <= 5; i++ {
		rb.Add(Entry{Message: fmt.Sprintf("msg %d", i), Time: time.Now()})
	}

	if rb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rb.Len())
	}

	got := rb.Snapshot()
	want := []string{"msg 3", "msg 4", "msg 5"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestRingBufferPartial(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(Entry{Message: "only"})

	if rb.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rb.Len())
	}
	got := rb.Snapshot()
	if len(got) != 1 || got[0].Message != "only" {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestRingBufferClampsCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Add(Entry{Message: "a"})
	rb.Add(Entry{Message: "b"})
	if rb.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rb.Len())
	}
}

func TestSnapshotAtLevel(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(Entry{Level: slog.LevelDebug, Message: "dbg"})
	rb.Add(Entry{Level: slog.LevelInfo, Message: "inf"})
	rb.Add(Entry{Level: slog.LevelWarn, Message: "wrn"})
	rb.Add(Entry{Level: slog.LevelError, Message: "err"})

	got := rb.SnapshotAtLevel(slog.LevelWarn)
	if len(got) != 2 || got[0].Message != "wrn" || got[1].Message != "err" {
		t.Errorf("SnapshotAtLevel(warn) = %+v", got)
	}
}

func TestTeeHandlerCaptures(t *testing.T) {
	rb := NewRingBuffer(10)
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTeeHandler(inner, rb))

	logger.Info("session connected", "connection_id", "abc")

	if buf.Len() == 0 {
		t.Error("record should be forwarded to the inner handler")
	}
	got := rb.Snapshot()
	if len(got) != 1 {
		t.Fatalf("ring holds %d entries, want 1", len(got))
	}
	if got[0].Message != "session connected" || got[0].Level != slog.LevelInfo {
		t.Errorf("captured entry = %+v", got[0])
	}
	if got[0].Attrs["connection_id"] != "abc" {
		t.Errorf("captured attrs = %v", got[0].Attrs)
	}
}

func TestTeeHandlerWithAttrsAndGroup(t *testing.T) {
	rb := NewRingBuffer(10)
	inner := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(NewTeeHandler(inner, rb))

	base.With("component", "session").Warn("room join rejected")
	base.WithGroup("chat").Warn("room leave rejected", "room_id", "room-1")

	got := rb.Snapshot()
	if len(got) != 2 {
		t.Fatalf("ring holds %d entries, want 2", len(got))
	}
	if got[0].Attrs["component"] != "session" {
		t.Errorf("pre-set attr missing: %v", got[0].Attrs)
	}
	if got[1].Attrs["chat.room_id"] != "room-1" {
		t.Errorf("group-prefixed attr missing: %v", got[1].Attrs)
	}
}
