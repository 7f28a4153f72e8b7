// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package metrics exposes the Prometheus instrumentation for Cinecohort:
// outbound fetches, sync runs and members, recomputation passes, the
// command bus, database operations and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetcher Metrics
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_fetch_requests_total",
			Help: "Outbound requests to the source platform by host and result",
		},
		[]string{"host", "result"}, // ok, retried, exhausted, non_retryable, circuit_open
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinecohort_fetch_duration_seconds",
			Help:    "Duration of individual outbound HTTP attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	FetchRateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinecohort_fetch_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a token from the host bucket",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cinecohort_circuit_breaker_state",
			Help: "Circuit breaker state per host (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"host", "from", "to"},
	)

	// Sync Metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_sync_runs_total",
			Help: "Completed sync runs by terminal status",
		},
		[]string{"status"},
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cinecohort_sync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	SyncMembers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_sync_members_total",
			Help: "Member syncs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	SyncPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_sync_pages_total",
			Help: "Activity pages committed by mode",
		},
		[]string{"mode"},
	)

	SyncEventsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinecohort_sync_events_written_total",
			Help: "Rating events inserted or changed by sync",
		},
	)

	SyncActiveMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cinecohort_sync_active_members",
			Help: "Member syncs currently running by mode",
		},
		[]string{"mode"},
	)

	FeedUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_feed_updates_total",
			Help: "RSS feed polls per member by result",
		},
		[]string{"result"}, // ok, error
	)

	// Recompute Metrics
	RecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinecohort_recompute_duration_seconds",
			Help:    "Duration of stats, ranking and insight passes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // stats, ranking, insights
	)

	RecomputeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_recompute_errors_total",
			Help: "Failed recomputation passes",
		},
		[]string{"stage"},
	)

	InsightCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_insight_cache_lookups_total",
			Help: "Stored insight slice lookups by result",
		},
		[]string{"result"}, // hit, miss, stale
	)

	// Command Bus Metrics
	CommandsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_commands_published_total",
			Help: "Commands published to the bus by type",
		},
		[]string{"type"},
	)

	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_commands_handled_total",
			Help: "Commands handled by type and result",
		},
		[]string{"type", "result"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinecohort_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_duckdb_query_errors_total",
			Help: "Total number of DuckDB operation errors",
		},
		[]string{"operation"},
	)

	// Enrichment Metrics
	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_enrichment_lookups_total",
			Help: "Metadata lookups by result",
		},
		[]string{"result"}, // enriched, not_found, error
	)

	// Membership Metrics
	MembershipRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_membership_refreshes_total",
			Help: "Membership refreshes by result",
		},
		[]string{"result"},
	)

	MembershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_membership_changes_total",
			Help: "Members added or removed by membership refreshes",
		},
		[]string{"change"}, // added, removed
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinecohort_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinecohort_read_cache_lookups_total",
			Help: "Read cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordDBQuery records a database operation.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRecompute records a recomputation pass for stage.
func RecordRecompute(stage string, duration time.Duration, err error) {
	RecomputeDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		RecomputeErrors.WithLabelValues(stage).Inc()
	}
}

// RecordSyncRun records a finished run.
func RecordSyncRun(status string, duration time.Duration) {
	SyncRuns.WithLabelValues(status).Inc()
	SyncRunDuration.Observe(duration.Seconds())
}

// BreakerStateValue maps a breaker state name to its gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
