// Package observability owns the Prometheus registry shared by the API,
// the generators and the batch worker.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects engine metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	externalRuns       *prometheus.CounterVec
	segments           *prometheus.CounterVec
	extractionAttempts *prometheus.CounterVec
	credits            *prometheus.CounterVec
	jobs               *prometheus.CounterVec
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// NewMetrics creates a private registry with every collector registered
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_generations_total",
			Help: "Generation attempts by format and validation status.",
		}, []string{"format", "status"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "einvoice_generation_duration_seconds",
			Help:    "Time spent validating and serialising one document.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
		externalRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_external_validations_total",
			Help: "External validator invocations by outcome.",
		}, []string{"outcome"}),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_batch_segments_total",
			Help: "Batch segments processed by final status.",
		}, []string{"status"}),
		extractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_extraction_attempts_total",
			Help: "Extraction calls by outcome (success, retry, failure).",
		}, []string{"outcome"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_credits_total",
			Help: "Credits moved by the batch orchestrator.",
		}, []string{"kind"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_batch_jobs_total",
			Help: "Batch jobs reaching a terminal status.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "einvoice_http_request_duration_seconds",
			Help:    "HTTP request latency per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.generations, m.generationDuration, m.externalRuns,
		m.segments, m.extractionAttempts, m.credits, m.jobs,
		m.requests, m.requestDuration,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the registry for additional collectors
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveGeneration records one generation attempt
func (m *Metrics) ObserveGeneration(format, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(format, status).Inc()
	m.generationDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

// ObserveExternal records an external validator run
func (m *Metrics) ObserveExternal(ran bool) {
	if m == nil {
		return
	}
	outcome := "ran"
	if !ran {
		outcome = "unavailable"
	}
	m.externalRuns.WithLabelValues(outcome).Inc()
}

// ObserveSegment records a resolved batch segment
func (m *Metrics) ObserveSegment(status string) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(status).Inc()
}

// ObserveExtraction records one extraction call outcome
func (m *Metrics) ObserveExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractionAttempts.WithLabelValues(outcome).Inc()
}

// AddCredits records reserved or refunded credits
func (m *Metrics) AddCredits(kind string, amount int) {
	if m == nil || amount <= 0 {
		return
	}
	m.credits.WithLabelValues(kind).Add(float64(amount))
}

// ObserveJob records a batch job reaching a terminal status
func (m *Metrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

// GinMiddleware records request count and latency per route template
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
