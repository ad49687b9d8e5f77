// Package metrics holds the Prometheus collectors shared by the transport, stream and order layers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "perp"

// Metrics groups all collectors. Create one per registry.
type Metrics struct {
	Reconnects    *prometheus.CounterVec
	ConnState     *prometheus.GaugeVec
	Dropped       *prometheus.CounterVec
	DecodeErrors  *prometheus.CounterVec
	RESTRequests  *prometheus.CounterVec
	RESTLatency   *prometheus.HistogramVec
	BreakerState  *prometheus.GaugeVec
	PendingOrders prometheus.Gauge
}

// New builds the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "reconnects_total",
			Help:      "Number of times the WebSocket entered RECONNECTING.",
		}, []string{"venue"}),
		ConnState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
		}, []string{"venue"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber fell behind.",
		}, []string{"kind"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Inbound frames that could not be decoded.",
		}, []string{"venue"}),
		RESTRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST requests by path and outcome.",
		}, []string{"path", "outcome"}),
		RESTLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "latency_seconds",
			Help:      "REST round-trip latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"path"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
		PendingOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "pending",
			Help:      "Orders currently held by the lifecycle tracker.",
		}),
	}
}

// ObserveREST records one finished request.
func (m *Metrics) ObserveREST(path, outcome string, d time.Duration) {
	m.RESTRequests.WithLabelValues(path, outcome).Inc()
	m.RESTLatency.WithLabelValues(path).Observe(d.Seconds())
}
