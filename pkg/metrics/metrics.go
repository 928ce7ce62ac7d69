// Package metrics defines the Prometheus collectors used by the service and
// the scrape server that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	IngestRunsTotal      *prometheus.CounterVec
	PostsInsertedTotal   prometheus.Counter
	PostsDuplicateTotal  prometheus.Counter
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg.
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
		IngestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Ingestion calls by outcome (ok, no_results, validation_error, search_error, storage_error).",
			},
			[]string{"outcome"},
		),
		PostsInsertedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "posts_inserted_total",
				Help: "Posts newly written to the post store.",
			},
		),
		PostsDuplicateTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "posts_duplicate_total",
				Help: "Returned posts skipped because their id was already stored.",
			},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search API call latency in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of posts returned per search call.",
				Buckets: []float64{0, 1, 10, 20, 50, 100},
			},
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
		m.IngestRunsTotal,
		m.PostsInsertedTotal,
		m.PostsDuplicateTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CircuitBreakerState,
	)

	return m
}
