// Package metrics exposes Prometheus instrumentation for the scraper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Title outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeMiss     = "miss"
	OutcomeFail     = "fail"
)

// Metrics holds the collectors of one scraper instance.
type Metrics struct {
	registry       *prometheus.Registry
	titlesTotal    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	bootstrapTotal *prometheus.CounterVec
	sessionResets  prometheus.Counter
	inflight       prometheus.Gauge
}

// New creates and registers the scraper metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	titlesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scscraper_titles_total",
		Help: "Titles processed, by outcome and the stage that ended the pipeline",
	}, []string{"outcome", "stage"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scscraper_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})
	bootstrapTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scscraper_bootstrap_attempts_total",
		Help: "Session bootstrap attempts, by result",
	}, []string{"result"})
	sessionResets := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scscraper_session_invalidations_total",
		Help: "Sessions dropped after the site rejected the version token",
	})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scscraper_titles_inflight",
		Help: "Title pipelines currently running",
	})

	registry.MustRegister(titlesTotal, stageDuration, bootstrapTotal, sessionResets, inflight)

	return &Metrics{
		registry:       registry,
		titlesTotal:    titlesTotal,
		stageDuration:  stageDuration,
		bootstrapTotal: bootstrapTotal,
		sessionResets:  sessionResets,
		inflight:       inflight,
	}
}

// ObserveTitle counts one finished title pipeline. Resolved titles pass an
// empty stage and are recorded as "none".
func (m *Metrics) ObserveTitle(outcome, stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "none"
	}
	m.titlesTotal.WithLabelValues(outcome, stage).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveBootstrap counts a bootstrap attempt.
func (m *Metrics) ObserveBootstrap(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.bootstrapTotal.WithLabelValues(result).Inc()
}

// IncSessionInvalidations counts a dropped session.
func (m *Metrics) IncSessionInvalidations() {
	if m == nil {
		return
	}
	m.sessionResets.Inc()
}

// TrackInflight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
