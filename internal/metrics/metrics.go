// Package metrics exposes ChronoSage's Prometheus collectors.
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

const namespace = "chronosage"

// Metrics owns a private registry so tests and multiple servers in one
// process never collide. All methods are no-ops on a nil receiver.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	llmRequests   *prometheus.CounterVec
	llmLatency    prometheus.Histogram
	llmTokens     *prometheus.CounterVec
	calendarCalls *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	suggestions   prometheus.Histogram
	busyCache     *prometheus.CounterVec
	breakerState  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),
		registry:  reg,
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Chat completion requests by outcome.",
		}, []string{"outcome"}),
		llmLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Chat completion latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed, split into prompt and completion.",
		}, []string{"kind"}),
		calendarCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "calls_total",
			Help:      "Calendar API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		suggestions: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "suggestions",
			Help:      "Number of slots returned per suggestion request.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		busyCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "busy_cache_lookups_total",
			Help:      "Free/busy cache lookups by result.",
		}, []string{"result"}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "breaker_open",
			Help:      "1 while the LLM circuit breaker is open.",
		}),
	}
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordLLMCall(outcome string, elapsed time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
	m.llmLatency.Observe(elapsed.Seconds())
	if promptTokens > 0 {
		m.llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerState.Set(1)
	} else {
		m.breakerState.Set(0)
	}
}

func (m *Metrics) RecordCalendarCall(op string, err error) {
	if m == nil {
		return
	}
	m.calendarCalls.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) RecordHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordSuggestions(n int) {
	if m == nil {
		return
	}
	m.suggestions.Observe(float64(n))
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.busyCache.WithLabelValues("hit").Inc()
	} else {
		m.busyCache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
