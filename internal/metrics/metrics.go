// Package metrics provides the broker's Prometheus-backed counters,
// generalising go-server/internal/metrics from price-feed counters to
// broker occupancy and dispatch counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devconsole/devconsole/internal/protocol"
)

// Metrics is the Prometheus-backed implementation of broker.Metrics.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	channelsActive   prometheus.Gauge
	channelsTotal    prometheus.Counter
	eventsDispatched *prometheus.CounterVec
	broadcastDrops   prometheus.Counter
	framerResyncs    prometheus.Counter
	framerChecksums  prometheus.Counter
}

// New registers and returns the broker's metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devconsole",
			Name:      "sessions_active",
			Help:      "Number of currently connected broker sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devconsole",
			Name:      "sessions_total",
			Help:      "Total sessions accepted since process start.",
		}),
		channelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devconsole",
			Name:      "channels_active",
			Help:      "Number of currently open channels.",
		}),
		channelsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devconsole",
			Name:      "channels_opened_total",
			Help:      "Total channels opened since process start.",
		}),
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devconsole",
			Name:      "events_dispatched_total",
			Help:      "Events dispatched by the broker, by event type.",
		}, []string{"event_type"}),
		broadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devconsole",
			Name:      "broadcast_drops_total",
			Help:      "Messages dropped because a session's outbound queue was full.",
		}),
		framerResyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devconsole",
			Name:      "pktuart_resync_total",
			Help:      "Times the packet-UART decoder had to resynchronise on stream noise.",
		}),
		framerChecksums: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devconsole",
			Name:      "pktuart_checksum_failures_total",
			Help:      "Packet-UART frames dropped due to checksum mismatch.",
		}),
	}
}

func (m *Metrics) SessionConnected() {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionDisconnected() {
	m.sessionsActive.Dec()
}

func (m *Metrics) ChannelOpened() {
	m.channelsActive.Inc()
	m.channelsTotal.Inc()
}

func (m *Metrics) ChannelClosed() {
	m.channelsActive.Dec()
}

func (m *Metrics) EventDispatched(eventType protocol.EventType) {
	m.eventsDispatched.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) BroadcastDropped() {
	m.broadcastDrops.Inc()
}

// FramerResync records one packet-UART resynchronisation.
func (m *Metrics) FramerResync() {
	m.framerResyncs.Inc()
}

// FramerChecksumFailure records one dropped packet-UART frame.
func (m *Metrics) FramerChecksumFailure() {
	m.framerChecksums.Inc()
}
