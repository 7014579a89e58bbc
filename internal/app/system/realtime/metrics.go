// internal/app/system/realtime/metrics.go
package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the realtime collectors.
type Metrics struct {
	// Connections is the number of open sockets, joined or not.
	Connections prometheus.Gauge

	// Rooms is the number of rides with at least one joined connection.
	Rooms prometheus.Gauge

	// HandshakeFailures counts rejected handshakes.
	// Labels: reason (no_session|invalid_session|internal)
	HandshakeFailures *prometheus.CounterVec

	// JoinsTotal counts join attempts.
	// Labels: result (joined|denied|error)
	JoinsTotal *prometheus.CounterVec

	// MessagesTotal counts inbound chat messages.
	// Labels: result (accepted|invalid|rate_limited|no_ride|failed)
	MessagesTotal *prometheus.CounterVec

	// Deliveries counts events queued to a connection by broadcasts.
	Deliveries prometheus.Counter

	// SlowConsumers counts connections closed because their queue was full.
	SlowConsumers prometheus.Counter

	// Evictions counts connections removed from a room by membership changes.
	// Labels: reason (removed|ride_deleted)
	Evictions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ridechat",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open realtime connections.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ridechat",
			Subsystem: "ws",
			Name:      "rooms",
			Help:      "Ride chat rooms with at least one member.",
		}),
		HandshakeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridechat",
			Subsystem: "ws",
			Name:      "handshake_failures_total",
			Help:      "Rejected realtime handshakes by reason.",
		}, []string{"reason"}),
		JoinsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridechat",
			Subsystem: "ws",
			Name:      "joins_total",
			Help:      "Ride chat join attempts by result.",
		}, []string{"result"}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridechat",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Inbound chat messages by result.",
		}, []string{"result"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ridechat",
			Subsystem: "chat",
			Name:      "deliveries_total",
			Help:      "Events queued to room members by broadcasts.",
		}),
		SlowConsumers: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ridechat",
			Subsystem: "ws",
			Name:      "slow_consumers_total",
			Help:      "Connections closed because their outbound queue was full.",
		}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridechat",
			Subsystem: "ws",
			Name:      "evictions_total",
			Help:      "Connections removed from a room after a membership change, by reason.",
		}, []string{"reason"}),
	}
}
