package session

import (
	"log/slog"

	"github.com/lancerdesk/chatlink/internal/metrics"
	"github.com/lancerdesk/chatlink/internal/wire"
)

// Dispatcher fans one inbound message out to all matching listeners: the
// room-specific set first, then the global set, each in registration order.
// It performs no queuing, deduplication, or sender filtering — a message whose
// sender is the local identity is delivered unfiltered, and listeners that
// mirror messages into a store are expected to compare senderId themselves.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics // optional, nil if metrics disabled
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: reg, metrics: m}
}

// Dispatch invokes every room-R listener and every global listener with msg,
// synchronously and exactly once each. A message with no listeners is dropped
// silently; the durable history lives in the store, fed independently.
func (d *Dispatcher) Dispatch(msg wire.RoomMessage) {
	room := d.registry.roomSnapshot(msg.RoomID)
	global := d.registry.globalSnapshot()

	if len(room) == 0 && len(global) == 0 {
		if d.metrics != nil {
			d.metrics.DroppedTotal.Inc()
		}
		slog.Debug("dispatch: no listeners", "room_id", msg.RoomID)
		return
	}

	for _, fn := range room {
		d.invoke(fn, msg)
	}
	for _, fn := range global {
		d.invoke(fn, msg)
	}
}

// invoke calls a single listener with panic isolation so one failing listener
// cannot prevent delivery to the rest.
func (d *Dispatcher) invoke(fn Listener, msg wire.RoomMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			if d.metrics != nil {
				d.metrics.ListenerPanicsTotal.Inc()
			}
			slog.Error("listener panicked", "room_id", msg.RoomID, "panic", rec)
		}
	}()
	fn(msg)
	if d.metrics != nil {
		d.metrics.DeliveriesTotal.Inc()
	}
}
