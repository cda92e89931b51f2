// Package metrics exposes Prometheus instrumentation for the audit
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	LLMRequests     *prometheus.CounterVec
	LLMTokens       *prometheus.CounterVec
	LLMResponseTime *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	TasksCompleted  *prometheus.CounterVec
	FindingsTotal   *prometheus.CounterVec
	Concurrency     prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	BreakerOpen     *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiaudit_llm_requests_total",
			Help: "LLM requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiaudit_llm_tokens_total",
			Help: "Tokens consumed by provider and kind.",
		}, []string{"provider", "kind"}),
		LLMResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aiaudit_llm_response_seconds",
			Help:    "LLM response time by provider.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"provider"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiaudit_cache_hits_total",
			Help: "Analysis cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiaudit_cache_misses_total",
			Help: "Analysis cache misses.",
		}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiaudit_tasks_total",
			Help: "Analysis tasks by terminal status.",
		}, []string{"status"}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiaudit_findings_total",
			Help: "Findings by severity.",
		}, []string{"severity"}),
		Concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aiaudit_llm_concurrency",
			Help: "Current adaptive concurrency target.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aiaudit_active_sessions",
			Help: "Sessions not yet in a terminal state.",
		}),
		BreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aiaudit_breaker_open",
			Help: "1 when the provider's circuit breaker is open.",
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LLMRequests, m.LLMTokens, m.LLMResponseTime,
		m.CacheHits, m.CacheMisses,
		m.TasksCompleted, m.FindingsTotal,
		m.Concurrency, m.ActiveSessions, m.BreakerOpen,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
