// Package metrics defines the Prometheus collectors used by the service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram

	RefreshCyclesTotal  *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	LastRefreshUnixtime prometheus.Gauge
	SnapshotDocs        prometheus.Gauge
	SnapshotTerms       prometheus.Gauge
	UpstreamPagesTotal  prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// New creates and registers all collectors with the given registerer. Passing
// nil registers against the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "path"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (ok, zero_result, invalid, not_ready).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Matches found per search query before pagination.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		RefreshCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_cycles_total",
				Help: "Total refresh cycles by status (published, fetch_failed, skipped).",
			},
			[]string{"status"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "refresh_duration_seconds",
				Help:    "Duration of a full fetch-build-publish cycle in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		LastRefreshUnixtime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "last_successful_refresh_timestamp_seconds",
				Help: "Unix time of the last successful snapshot publish.",
			},
		),
		SnapshotDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_documents",
				Help: "Records in the active snapshot.",
			},
		),
		SnapshotTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_terms",
				Help: "Distinct terms in the active snapshot.",
			},
		),
		UpstreamPagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "upstream_pages_fetched_total",
				Help: "Pages fetched from the upstream messages API.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Query cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.RefreshCyclesTotal,
		m.RefreshDuration,
		m.LastRefreshUnixtime,
		m.SnapshotDocs,
		m.SnapshotTerms,
		m.UpstreamPagesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
