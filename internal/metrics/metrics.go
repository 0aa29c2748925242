// Package metrics provides Prometheus metrics for the relay.
// It tracks per-provider request counts, failures, latencies, and circuit
// breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmrelay"

// LatencyBuckets defines histogram buckets for request latency (in seconds).
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
}

// Collector records per-provider routing metrics.
type Collector struct {
	requestsTotal  *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	breakerOpen    *prometheus.GaugeVec
}

// NewCollector creates a collector registered with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total chat requests per provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Failed attempts per provider and error kind",
			},
			[]string{"provider", "kind"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Fallback executions per original and candidate provider",
			},
			[]string{"from", "to"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retry attempts beyond the first, per provider",
			},
			[]string{"provider"},
		),
		requestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Chat request latency per provider",
				Buckets:   LatencyBuckets,
			},
			[]string{"provider"},
		),
		breakerOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_open",
				Help:      "1 when the provider's circuit breaker is open",
			},
			[]string{"provider"},
		),
	}
}

// RecordSuccess records a successful attempt.
func (c *Collector) RecordSuccess(provider string, latency time.Duration) {
	c.requestsTotal.WithLabelValues(provider, "success").Inc()
	c.requestLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordFailure records a failed attempt with its classified kind.
func (c *Collector) RecordFailure(provider, kind string) {
	c.requestsTotal.WithLabelValues(provider, "failure").Inc()
	c.failuresTotal.WithLabelValues(provider, kind).Inc()
}

// RecordRetry records a retry attempt beyond the first.
func (c *Collector) RecordRetry(provider string) {
	c.retriesTotal.WithLabelValues(provider).Inc()
}

// RecordFallback records a fallback from one provider to another.
func (c *Collector) RecordFallback(from, to string) {
	c.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// SetBreakerOpen reflects the provider's circuit state.
func (c *Collector) SetBreakerOpen(provider string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	c.breakerOpen.WithLabelValues(provider).Set(v)
}
