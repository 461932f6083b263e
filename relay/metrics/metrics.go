// Package metrics defines the Prometheus collectors exported by the relay.
//
// Metrics collected:
//   - spacerelay_active_sessions: Gauge of registered sessions
//   - spacerelay_handshakes_total: Counter of handshakes by result
//   - spacerelay_decode_errors_total: Counter of undecodable client messages
//   - spacerelay_events_routed_total: Counter of routed events by kind
//   - spacerelay_deliveries_total: Counter of per-recipient writes by result
//   - spacerelay_route_duration_seconds: Histogram of fan-out latency
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spacerelay"

// Delivery results.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// HandshakeAccepted is the handshake result label for a registered session.
const HandshakeAccepted = "accepted"

// Metrics holds the relay's collectors.
type Metrics struct {
	activeSessions prometheus.Gauge
	handshakes     *prometheus.CounterVec
	decodeErrors   prometheus.Counter
	eventsRouted   *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	routeDuration  prometheus.Histogram
}

// New registers the relay collectors with reg. Pass prometheus.NewRegistry()
// in tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently registered",
		}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes by result (accepted or rejection reason)",
		}, []string{"result"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Client messages that could not be decoded",
		}),

		eventsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Events routed by kind",
		}, []string{"kind"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient deliveries by result",
		}, []string{"result"}),

		routeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Time to fan one event out to its recipients",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
}

// SessionOpened records a registered session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed records a released session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Handshake records a handshake outcome.
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// DecodeError records an undecodable client message.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// Routed records one routed event and its per-recipient outcomes.
func (m *Metrics) Routed(kind string, delivered, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.eventsRouted.WithLabelValues(kind).Inc()
	m.deliveries.WithLabelValues(ResultDelivered).Add(float64(delivered))
	m.deliveries.WithLabelValues(ResultFailed).Add(float64(failed))
	m.routeDuration.Observe(took.Seconds())
}
