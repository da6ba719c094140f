package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "troodie_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// EngagementToggles counts like/save toggles by kind and outcome.
	EngagementToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_engagement_toggles_total",
		Help: "Total like/save toggles by kind and outcome",
	}, []string{"kind", "outcome"})

	// EngagementRollbacks counts optimistic updates reverted after a failed write.
	EngagementRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_engagement_rollbacks_total",
		Help: "Total optimistic engagement updates rolled back",
	}, []string{"kind"})

	// ConflictsSatisfied counts duplicate-key inserts and not-found deletes treated as success.
	ConflictsSatisfied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_engagement_conflicts_satisfied_total",
		Help: "Writes whose desired end state already held",
	}, []string{"kind", "op"})

	// StatsCacheLookups counts stats cache lookups by result (hit, miss).
	StatsCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_stats_cache_lookups_total",
		Help: "Stats cache lookups by result",
	}, []string{"result"})

	// RealtimeEvents counts realtime comment events by type and merge outcome.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_realtime_events_total",
		Help: "Realtime comment events by type and outcome",
	}, []string{"event", "outcome"})

	SessionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_sessions_evicted_total",
		Help: "Engagement sessions closed by the store, by reason",
	}, []string{"reason"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "troodie_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "troodie_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
