// Package metrics holds the Prometheus collectors of the scoring server.
// All collectors live on a private registry exposed through Handler, so
// tests can build as many Metrics instances as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP layer
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	// Scoring core
	ScoresTotal     *prometheus.CounterVec
	ScoreDuration   *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	MissingMetrics  *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	CacheEntries    prometheus.Gauge
	CacheDeduped    prometheus.Counter
	BreakerState    *prometheus.GaugeVec
	BreakerRejected *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptscore_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptscore_http_active_requests",
				Help: "Number of currently active HTTP requests by method",
			},
			[]string{"method"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_rate_limit_hits_total",
				Help: "Total number of rate limit hits by client",
			},
			[]string{"client"},
		),
		ScoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_scores_total",
				Help: "Scoring operations by outcome (ok, empty, malformed, upstream, error) and language",
			},
			[]string{"result", "lang"},
		),
		ScoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptscore_score_duration_seconds",
				Help:    "Duration of scoring operations by cache outcome",
				Buckets: []float64{.005, .05, .25, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"cache"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_completion_retries_total",
				Help: "Completion retries by reason (param_rejected, empty_output)",
			},
			[]string{"reason"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_tokens_total",
				Help: "Upstream tokens consumed by model and kind (input, output)",
			},
			[]string{"model", "kind"},
		),
		MissingMetrics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_missing_metrics_total",
				Help: "Required metrics absent from model output, defaulted to zero",
			},
			[]string{"metric"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_cache_lookups_total",
				Help: "Result cache lookups by outcome (hit, miss)",
			},
			[]string{"result"},
		),
		CacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_cache_evictions_total",
				Help: "Result cache evictions by reason (expired, capacity)",
			},
			[]string{"reason"},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "promptscore_cache_entries",
				Help: "Number of entries currently held by the result cache",
			},
		),
		CacheDeduped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promptscore_cache_deduplicated_total",
				Help: "Concurrent misses that shared another caller's upstream call",
			},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptscore_circuit_breaker_state",
				Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
			},
			[]string{"backend"},
		),
		BreakerRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptscore_circuit_breaker_rejected_total",
				Help: "Calls rejected by an open circuit breaker",
			},
			[]string{"backend"},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize some default metrics
	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	m.RequestDuration.WithLabelValues("/health").Observe(0)
	m.RequestDuration.WithLabelValues("/metrics").Observe(0)
	m.CacheLookups.WithLabelValues("hit").Add(0)
	m.CacheLookups.WithLabelValues("miss").Add(0)

	return m
}

// Registry exposes the underlying registry for components that bring
// their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}
