// Package metrics holds the Prometheus collectors of the chat service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeRateLimited  = "rate_limited"
	OutcomeError        = "error"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry     *prometheus.Registry
	chatRequests *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	llmFallbacks *prometheus.CounterVec
	chatDuration prometheus.Histogram
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nfaclaw_chat_requests_total",
			Help: "Chat requests by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nfaclaw_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by limiter scope.",
		}, []string{"scope"}),
		llmFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nfaclaw_llm_fallback_total",
			Help: "Replies served by the local fallback, by reason.",
		}, []string{"reason"}),
		chatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nfaclaw_chat_duration_seconds",
			Help:    "Chat request latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(
		m.chatRequests,
		m.rateLimited,
		m.llmFallbacks,
		m.chatDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveChat(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(outcome).Inc()
	m.chatDuration.Observe(d.Seconds())
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) LLMFallback(reason string) {
	if m == nil {
		return
	}
	m.llmFallbacks.WithLabelValues(reason).Inc()
}

// StoreStats is a snapshot of the key-value store's operation counters.
type StoreStats struct {
	Puts      int64
	Gets      int64
	Conflicts int64
	Errors    int64
}

// RegisterStore exports the counters returned by stats, read at scrape time,
// as nfaclaw_store_operations_total{op}.
func (m *Metrics) RegisterStore(stats func() StoreStats) {
	if m == nil {
		return
	}
	m.registry.MustRegister(&storeCollector{
		stats: stats,
		desc: prometheus.NewDesc("nfaclaw_store_operations_total",
			"Key-value store operations by kind.", []string{"op"}, nil),
	})
}

type storeCollector struct {
	stats func() StoreStats
	desc  *prometheus.Desc
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for op, v := range map[string]int64{
		"put":      s.Puts,
		"get":      s.Gets,
		"conflict": s.Conflicts,
		"error":    s.Errors,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), op)
	}
}
