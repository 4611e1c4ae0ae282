package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ChatLink.
type Metrics struct {
	ConnectsTotal       prometheus.Counter
	Connected           prometheus.Gauge
	EventsTotal         *prometheus.CounterVec
	DeliveriesTotal     prometheus.Counter
	DroppedTotal        prometheus.Counter
	ListenerPanicsTotal prometheus.Counter
	RejoinRetriesTotal  prometheus.Counter
	SendsThrottledTotal prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	StoredMessagesTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_connects_total",
			Help: "Total successful transport connects",
		}),
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chatlink_connected",
			Help: "Session connectivity (1=connected, 0=down)",
		}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_events_total",
			Help: "Inbound events by type",
		}, []string{"event"}),
		DeliveriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_deliveries_total",
			Help: "Listener invocations performed by the dispatcher",
		}),
		DroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_dropped_total",
			Help: "Inbound messages with no registered listener",
		}),
		ListenerPanicsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_listener_panics_total",
			Help: "Listener invocations that panicked",
		}),
		RejoinRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_rejoin_retries_total",
			Help: "Reconnect-and-rejoin sequences triggered by joins while disconnected",
		}),
		SendsThrottledTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_sends_throttled_total",
			Help: "Outbound sends rejected by the per-room throttle",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_errors_total",
			Help: "Total errors by type",
		}, []string{"type"}),
		StoredMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_stored_messages_total",
			Help: "Messages appended to the local room store",
		}),
	}
}
