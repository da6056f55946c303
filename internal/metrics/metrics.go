// Package metrics exposes Prometheus instrumentation for screening, fraud
// detection and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on its own registry, so tests and multiple
// servers in one process never collide on registration.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	Screenings         *prometheus.CounterVec
	ScreeningLatency   prometheus.Histogram
	RiskScore          prometheus.Histogram
	RuleMatches        *prometheus.CounterVec
	EnrichmentFailures prometheus.Counter
	FraudVerdicts      *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Screenings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_screenings_total",
			Help: "Pre-screening results by decision",
		}, []string{"decision"}),

		ScreeningLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_screening_duration_seconds",
			Help:    "Duration of a pre-screen call including enrichment",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_screening_risk_score",
			Help:    "Distribution of pre-screening risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		RuleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rule_matches_total",
			Help: "Rule matches by rule id",
		}, []string{"rule_id"}),

		EnrichmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_enrichment_failures_total",
			Help: "Pre-screen calls that failed enrichment and fell back to manual review",
		}),

		FraudVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_fraud_verdicts_total",
			Help: "Fraud detector verdicts",
		}, []string{"verdict"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScreening records one completed screening.
func (m *Metrics) ObserveScreening(decision string, riskScore int, d time.Duration) {
	if m == nil {
		return
	}
	m.Screenings.WithLabelValues(decision).Inc()
	m.RiskScore.Observe(float64(riskScore))
	m.ScreeningLatency.Observe(d.Seconds())
}

// RuleMatched counts a rule match.
func (m *Metrics) RuleMatched(ruleID string) {
	if m != nil {
		m.RuleMatches.WithLabelValues(ruleID).Inc()
	}
}

// EnrichmentFailed counts a failed enrichment.
func (m *Metrics) EnrichmentFailed() {
	if m != nil {
		m.EnrichmentFailures.Inc()
	}
}

// ObserveFraud records a fraud detector verdict.
func (m *Metrics) ObserveFraud(fraudulent bool) {
	if m == nil {
		return
	}
	verdict := "clean"
	if fraudulent {
		verdict = "fraudulent"
	}
	m.FraudVerdicts.WithLabelValues(verdict).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}
