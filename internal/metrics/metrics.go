// Package metrics exposes pipeline counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wca"

type Metrics struct {
	registry *prometheus.Registry

	guardVerdicts  *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	pipelineResult *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		guardVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "verdicts_total",
			Help:      "URL guard decisions by reason (allowed for accepted URLs).",
		}, []string{"reason"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "HTTP fetch attempts by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of single fetch attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		pipelineResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "results_total",
			Help:      "Pipeline invocations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.guardVerdicts,
		m.fetchAttempts,
		m.fetchDuration,
		m.pipelineResult,
		m.stageDuration,
	)
	return m
}

func (m *Metrics) GuardVerdict(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "allowed"
	}
	m.guardVerdicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) FetchAttempt(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) Result(operation, outcome string) {
	if m == nil {
		return
	}
	m.pipelineResult.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Stage(stage string, since time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
}

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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
