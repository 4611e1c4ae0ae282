package session

import (
	"testing"

	"github.com/lancerdesk/chatlink/internal/wire"
)

func TestDispatchFanOut(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	roomCalls := 0
	otherRoomCalls := 0
	globalCalls := 0
	reg.OnRoomMessage("room-42", func(wire.RoomMessage) { roomCalls++ })
	reg.OnRoomMessage("room-42", func(wire.RoomMessage) { roomCalls++ })
	reg.OnRoomMessage("room-7", func(wire.RoomMessage) { otherRoomCalls++ })
	reg.OnAnyMessage(func(wire.RoomMessage) { globalCalls++ })

	d.Dispatch(wire.RoomMessage{RoomID: "room-42", SenderID: "user-9", Message: "hi"})

	if roomCalls != 2 {
		t.Errorf("room listeners called %d times, want 2", roomCalls)
	}
	if otherRoomCalls != 0 {
		t.Errorf("other room listener called %d times, want 0", otherRoomCalls)
	}
	if globalCalls != 1 {
		t.Errorf("global listener called %d times, want 1", globalCalls)
	}
}

func TestDispatchDeliversFullEvent(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	var got wire.RoomMessage
	reg.OnRoomMessage("room-42", func(msg wire.RoomMessage) { got = msg })

	want := wire.RoomMessage{
		ID:            "m1",
		RoomID:        "room-42",
		SenderID:      "user-9",
		Message:       "hi",
		CreatedAt:     "2024-05-01T10:00:00Z",
		PrivacyMasked: true,
	}
	d.Dispatch(want)

	if got != want {
		t.Errorf("listener received %+v, want %+v", got, want)
	}
}

func TestDispatchRoomBeforeGlobal(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	var order []string
	reg.OnAnyMessage(func(wire.RoomMessage) { order = append(order, "global") })
	reg.OnRoomMessage("room-1", func(wire.RoomMessage) { order = append(order, "room") })

	d.Dispatch(wire.RoomMessage{RoomID: "room-1"})

	if len(order) != 2 || order[0] != "room" || order[1] != "global" {
		t.Errorf("delivery order %v, want [room global]", order)
	}
}

func TestDispatchListenerIsolation(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	afterPanic := 0
	globalCalls := 0
	reg.OnRoomMessage("room-1", func(wire.RoomMessage) { panic("listener bug") })
	reg.OnRoomMessage("room-1", func(wire.RoomMessage) { afterPanic++ })
	reg.OnAnyMessage(func(wire.RoomMessage) { globalCalls++ })

	d.Dispatch(wire.RoomMessage{RoomID: "room-1"})

	if afterPanic != 1 {
		t.Errorf("listener after panicking one called %d times, want 1", afterPanic)
	}
	if globalCalls != 1 {
		t.Errorf("global listener called %d times, want 1", globalCalls)
	}
}

func TestDispatchNoListeners(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	// Fire-and-forget: an event with no listeners is dropped without error.
	d.Dispatch(wire.RoomMessage{RoomID: "room-unknown"})
}

func TestDispatchUnsubscribeDuringDispatch(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	secondCalls := 0
	var unsubSecond func()
	reg.OnRoomMessage("room-1", func(wire.RoomMessage) { unsubSecond() })
	unsubSecond = reg.OnRoomMessage("room-1", func(wire.RoomMessage) { secondCalls++ })

	// The in-flight dispatch iterates a snapshot: the second listener still
	// receives this event, only future ones stop.
	d.Dispatch(wire.RoomMessage{RoomID: "room-1"})
	if secondCalls != 1 {
		t.Errorf("second listener called %d times during in-flight dispatch, want 1", secondCalls)
	}

	d.Dispatch(wire.RoomMessage{RoomID: "room-1"})
	if secondCalls != 1 {
		t.Errorf("second listener called %d times after unsubscribe, want 1", secondCalls)
	}
}

func TestDispatchNoSenderFiltering(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	calls := 0
	reg.OnRoomMessage("room-1", func(wire.RoomMessage) { calls++ })

	// The router performs no identity-based filtering; suppressing self
	// echoes is the listener's job.
	d.Dispatch(wire.RoomMessage{RoomID: "room-1", SenderID: "admin-1"})
	if calls != 1 {
		t.Errorf("self-originated event delivered %d times, want 1", calls)
	}
}
