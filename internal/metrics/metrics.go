// Package metrics declares the Prometheus collectors of the discovery
// service. They register with the default registry served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_active_sessions",
			Help: "Number of open browsing sessions",
		},
	)

	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_session_operations_total",
			Help: "Session operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	EngineEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_engine_events_total",
			Help: "Events emitted by discovery engines",
		},
		[]string{"kind"},
	)

	ResultSetSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discovery_result_set_size",
			Help:    "Number of listings in recomputed result sets",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// StaleResponses counts collaborator completions dropped because the
	// anchor, search, or selection they belonged to had moved on.
	StaleResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_stale_responses_total",
			Help: "Collaborator responses discarded as stale",
		},
		[]string{"kind"},
	)

	// Collaborators (geocode, route, price)
	CollaboratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_collaborator_requests_total",
			Help: "Outbound collaborator requests by outcome",
		},
		[]string{"collaborator", "outcome"},
	)

	CollaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_collaborator_duration_seconds",
			Help:    "Latency of outbound collaborator requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_lookups_total",
			Help: "Shared collaborator cache lookups",
		},
		[]string{"cache", "result"}, // result: hit, miss, negative
	)

	// Worker pool
	DispatchQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_dispatch_in_flight",
			Help: "Jobs queued or running in the dispatch pool",
		},
	)

	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_dispatch_dropped_total",
			Help: "Jobs refused by the dispatch pool",
		},
		[]string{"reason"}, // saturated, duplicate, closed
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_events_dropped_total",
			Help: "Events dropped because a subscriber was saturated",
		},
	)

	Notices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_notices_total",
			Help: "User-visible notices by code",
		},
		[]string{"code"},
	)

	RouteUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_route_updates_total",
			Help: "Commute routes delivered to sessions",
		},
		[]string{"state"}, // active, cached, restored
	)

	// Snapshot
	SnapshotListings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_snapshot_listings",
			Help: "Listings in the snapshot handed to new sessions",
		},
	)

	SnapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_snapshot_loads_total",
			Help: "Snapshot loads by outcome",
		},
		[]string{"outcome"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_http_requests_total",
			Help: "HTTP requests by route and status class",
		},
		[]string{"route", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_websocket_connections",
			Help: "Open event stream connections",
		},
	)
)

// ObserveCollaborator records one outbound call.
func ObserveCollaborator(collaborator string, start time.Time, err error) {
	CollaboratorDuration.WithLabelValues(collaborator).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	CollaboratorRequests.WithLabelValues(collaborator, outcome).Inc()
}
