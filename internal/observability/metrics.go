package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one process. Each instance owns its own
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Labels: event (join|leave|disconnect)
	PresenceEvents *prometheus.CounterVec
	// Labels: event
	Broadcasts *prometheus.CounterVec
	Rooms      prometheus.Gauge

	Connections     prometheus.Gauge
	DroppedMessages prometheus.Counter

	// Labels: method, route, status
	HTTPRequests *prometheus.CounterVec
	// Labels: method, route
	HTTPDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		PresenceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmap_presence_events_total",
			Help: "Presence events handled by type",
		}, []string{"event"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmap_broadcasts_total",
			Help: "Room broadcasts emitted by event name",
		}, []string{"event"}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindmap_presence_rooms",
			Help: "Rooms with at least one member",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindmap_realtime_connections",
			Help: "Open websocket connections",
		}),
		DroppedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "mindmap_realtime_dropped_messages_total",
			Help: "Outbound messages dropped because a client buffer was full",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmap_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindmap_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The helpers below accept a nil receiver so packages can run without metrics.

func (m *Metrics) PresenceEvent(event string) {
	if m == nil {
		return
	}
	m.PresenceEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) Broadcast(event string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(event).Inc()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.DroppedMessages.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
