// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitechat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitechat_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks live websocket connections on this instance.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitechat_ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// RoomsActive tracks rooms with at least one member.
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitechat_rooms_active",
			Help: "Number of rooms with at least one joined connection",
		},
	)

	// EventsPublished counts events handed to the dispatcher.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitechat_events_published_total",
			Help: "Events published to rooms",
		},
		[]string{"event", "status"},
	)

	// EventsDelivered counts frames written into connection buffers.
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitechat_events_delivered_total",
			Help: "Event frames queued to connections",
		},
	)

	// EventsDropped counts frames that could not be delivered.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitechat_events_dropped_total",
			Help: "Event frames dropped",
		},
		[]string{"reason"},
	)

	// SequenceAssigned counts sequence numbers handed out.
	SequenceAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitechat_sequence_assigned_total",
			Help: "Per-conversation sequence numbers assigned",
		},
		[]string{"backend"},
	)

	// MessagesTotal counts persisted messages by conversation kind.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitechat_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPublish records the outcome of a single publish.
func RecordPublish(event string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EventsPublished.WithLabelValues(event, status).Inc()
}

// IncrementConnections increments the active connection count.
func IncrementConnections() {
	WSConnectionsActive.Inc()
}

// DecrementConnections decrements the active connection count.
func DecrementConnections() {
	WSConnectionsActive.Dec()
}
