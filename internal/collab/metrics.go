package collab

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments operation traffic. A nil *Metrics records nothing.
type Metrics struct {
	// OpsSent counts operations handed to the transport.
	// Labels: type
	OpsSent *prometheus.CounterVec

	// OpsApplied counts remote operations applied locally, or by the server.
	// Labels: type
	OpsApplied *prometheus.CounterVec

	// OpsDropped counts inbound operations that were not applied.
	// Labels: reason (echo|duplicate|invalid|nack)
	OpsDropped *prometheus.CounterVec

	// Conflicts counts updates parked in the conflict list.
	Conflicts prometheus.Counter

	// OutboxDepth is the number of unacknowledged local operations.
	OutboxDepth prometheus.Gauge

	// Rooms and Clients describe the server hub.
	Rooms   prometheus.Gauge
	Clients prometheus.Gauge
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics registered with the default Prometheus
// registry. Repeated calls return the same instance.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates and registers the sync metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OpsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planboard_sync_operations_sent_total",
				Help: "Operations transmitted to the board server",
			},
			[]string{"type"},
		),
		OpsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planboard_sync_operations_applied_total",
				Help: "Remote operations applied",
			},
			[]string{"type"},
		),
		OpsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planboard_sync_operations_dropped_total",
				Help: "Inbound operations dropped by reason",
			},
			[]string{"reason"},
		),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "planboard_sync_conflicts_total",
			Help: "Concurrent updates recorded as conflicts",
		}),
		OutboxDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "planboard_sync_outbox_depth",
			Help: "Local operations not yet acknowledged",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "planboard_hub_rooms",
			Help: "Boards with at least one connected client",
		}),
		Clients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "planboard_hub_clients",
			Help: "Connected websocket clients",
		}),
	}
}

func (m *Metrics) sent(k Kind) {
	if m != nil {
		m.OpsSent.WithLabelValues(string(k)).Inc()
	}
}

func (m *Metrics) applied(k Kind) {
	if m != nil {
		m.OpsApplied.WithLabelValues(string(k)).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.OpsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) outbox(depth int) {
	if m != nil {
		m.OutboxDepth.Set(float64(depth))
	}
}

func (m *Metrics) clientJoined(newRoom bool) {
	if m == nil {
		return
	}
	m.Clients.Inc()
	if newRoom {
		m.Rooms.Inc()
	}
}

func (m *Metrics) clientLeft(roomClosed bool) {
	if m == nil {
		return
	}
	m.Clients.Dec()
	if roomClosed {
		m.Rooms.Dec()
	}
}
