// Package metrics defines the Prometheus instruments exposed at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprout_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sprout_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Room lifecycle metrics
	RoomOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprout_room_operations_total",
			Help: "Room lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Presence metrics
	PresenceCleanupRemovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sprout_presence_cleanup_removals_total",
			Help: "Presence records removed by the cleanup pass",
		},
	)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sprout_active_sessions",
			Help: "Live user sessions",
		},
	)
)

// RecordRoomOperation increments the room operation counter with a
// success/failure outcome.
func RecordRoomOperation(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	RoomOperationsTotal.WithLabelValues(op, outcome).Inc()
}
