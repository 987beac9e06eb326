// Package metrics holds the Prometheus collectors for scans, sources, the
// result cache and the rate limiter. Collectors live on a private registry
// so several instances can coexist in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contentguard"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Scan lifecycle
	ScansTotal   *prometheus.CounterVec
	ScanDuration prometheus.Histogram

	// Source adapters
	SourceResults  *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	SourceSkipped  *prometheus.CounterVec

	// Persistence
	InfringementsCreated *prometheus.CounterVec

	// Result cache
	CacheLookups *prometheus.CounterVec

	// Rate limiter
	RateLimited *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan runs by final status (completed, failed)",
		}, []string{"status"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a full scan run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		SourceResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_results_total",
			Help:      "Candidates returned per source",
		}, []string{"source"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Adapter calls that returned an error or panicked",
		}, []string{"source"}),
		SourceSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_skipped_total",
			Help:      "Adapters skipped by subscription policy",
		}, []string{"source"}),
		InfringementsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "infringements_created_total",
			Help:      "New infringement records per source",
		}, []string{"source"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome (hit, miss, expired)",
		}, []string{"source", "outcome"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter",
		}, []string{"category"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveScan records a finished scan run.
func (m *Metrics) ObserveScan(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(status).Inc()
	m.ScanDuration.Observe(elapsed.Seconds())
}

// SourceReturned records n candidates from source.
func (m *Metrics) SourceReturned(source string, n int) {
	if m == nil {
		return
	}
	m.SourceResults.WithLabelValues(source).Add(float64(n))
}

// SourceFailed records a failed adapter call.
func (m *Metrics) SourceFailed(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

// SourceSkippedByPolicy records an adapter excluded by the owner's plan.
func (m *Metrics) SourceSkippedByPolicy(source string) {
	if m == nil {
		return
	}
	m.SourceSkipped.WithLabelValues(source).Inc()
}

// InfringementCreated records a newly persisted infringement.
func (m *Metrics) InfringementCreated(source string) {
	if m == nil {
		return
	}
	m.InfringementsCreated.WithLabelValues(source).Inc()
}

// CacheLookup records a result cache lookup outcome.
func (m *Metrics) CacheLookup(source, outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(source, outcome).Inc()
}

// RateLimitDenied records a denied request.
func (m *Metrics) RateLimitDenied(category string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(category).Inc()
}
