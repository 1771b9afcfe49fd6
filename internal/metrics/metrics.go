// Package metrics exposes Prometheus instruments for the real-time core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors updated by the registry and routers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectedUsers   prometheus.Gauge
	envelopes        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	persistenceFails *prometheus.CounterVec
	signals          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaychat",
			Name:      "connected_users",
			Help:      "Users with a live connection.",
		}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "inbound_envelopes_total",
			Help:      "Inbound envelopes by type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "deliveries_total",
			Help:      "Outbound delivery attempts by result.",
		}, []string{"result"}),
		persistenceFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "persistence_errors_total",
			Help:      "Persistence collaborator failures by operation.",
		}, []string{"op"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "webrtc_signals_total",
			Help:      "Relayed WebRTC signals by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.connectedUsers, m.envelopes, m.deliveries, m.persistenceFails, m.signals)
	return m
}

// SetConnected records the current number of connected users.
func (m *Metrics) SetConnected(n int) {
	if m == nil {
		return
	}
	m.connectedUsers.Set(float64(n))
}

// Envelope counts one inbound envelope of the given type.
func (m *Metrics) Envelope(typ string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(typ).Inc()
}

// Delivery counts one outbound delivery attempt.
func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// PersistenceError counts a failed store operation.
func (m *Metrics) PersistenceError(op string) {
	if m == nil {
		return
	}
	m.persistenceFails.WithLabelValues(op).Inc()
}

// Signal counts a relayed WebRTC signal of the given kind.
func (m *Metrics) Signal(kind string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(kind).Inc()
}
