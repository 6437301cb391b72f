// Package metrics defines the Prometheus collectors used by the indexer and
// the query path and exposes an HTTP handler for scraping. All recording
// helpers are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexCommitsTotal    *prometheus.CounterVec
	IndexReopensTotal    *prometheus.CounterVec
	LockTakeoversTotal   prometheus.Counter
	WriterFramesTotal    *prometheus.CounterVec
	SafeFrameWait        prometheus.Histogram
	ActivitiesTotal      *prometheus.CounterVec
	ActivityQueueDepth   prometheus.Gauge
	LastActivityID       prometheus.Gauge
	ActivityGaps         prometheus.Gauge
	PermissionDecisions  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on reg. Tests pass a fresh
// prometheus.NewRegistry(); binaries pass prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, invalid, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		IndexCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Total index commits by status.",
			},
			[]string{"status"},
		),
		IndexReopensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_reopens_total",
				Help: "Total reader reopens by status.",
			},
			[]string{"status"},
		),
		LockTakeoversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_lock_takeovers_total",
				Help: "Times a stale write lock marker was force-deleted.",
			},
		),
		WriterFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_writer_frames_total",
				Help: "Writer access frames granted by kind.",
			},
			[]string{"kind"},
		),
		SafeFrameWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_safe_frame_wait_seconds",
				Help:    "Time spent draining writers before an exclusive frame was granted.",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
			},
		),
		ActivitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexing_activities_total",
				Help: "Indexing activities finished by type and status.",
			},
			[]string{"type", "status"},
		),
		ActivityQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexing_activity_queue_depth",
				Help: "Activities registered but not yet done.",
			},
		),
		LastActivityID: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexing_last_activity_id",
				Help: "Highest activity id applied without gaps below it.",
			},
		),
		ActivityGaps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexing_activity_gaps",
				Help: "Activity ids below the cursor not yet applied.",
			},
		),
		PermissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_permission_decisions_total",
				Help: "Candidate documents admitted or rejected by the permission filter.",
			},
			[]string{"decision"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexCommitsTotal,
		m.IndexReopensTotal,
		m.LockTakeoversTotal,
		m.WriterFramesTotal,
		m.SafeFrameWait,
		m.ActivitiesTotal,
		m.ActivityQueueDepth,
		m.LastActivityID,
		m.ActivityGaps,
		m.PermissionDecisions,
		m.CircuitBreakerState,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveCommit(err error) {
	if m == nil {
		return
	}
	m.IndexCommitsTotal.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) ObserveReopen(err error) {
	if m == nil {
		return
	}
	m.IndexReopensTotal.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) LockTakeover() {
	if m == nil {
		return
	}
	m.LockTakeoversTotal.Inc()
}

func (m *Metrics) FrameAcquired(kind string) {
	if m == nil {
		return
	}
	m.WriterFramesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSafeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.SafeFrameWait.Observe(d.Seconds())
}

func (m *Metrics) ActivityFinished(activityType string, err error) {
	if m == nil {
		return
	}
	m.ActivitiesTotal.WithLabelValues(activityType, statusLabel(err)).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ActivityQueueDepth.Set(float64(n))
}

// SetActivityStatus publishes the applied-activity cursor.
func (m *Metrics) SetActivityStatus(lastID int64, gaps int) {
	if m == nil {
		return
	}
	m.LastActivityID.Set(float64(lastID))
	m.ActivityGaps.Set(float64(gaps))
}

func (m *Metrics) PermissionDecision(admitted bool) {
	if m == nil {
		return
	}
	decision := "rejected"
	if admitted {
		decision = "admitted"
	}
	m.PermissionDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// ObserveSearch records one executed query.
func (m *Metrics) ObserveSearch(resultType, cacheStatus string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(d.Seconds())
	m.SearchResultsCount.Observe(float64(results))
}

func (m *Metrics) SetCircuitState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
