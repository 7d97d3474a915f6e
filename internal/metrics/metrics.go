// Package metrics owns the Prometheus registry and the collectors shared by
// the query service, the analytics dispatcher and the analytics consumer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invasions"

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Publish and consume outcomes.
const (
	OutcomeQueued       = "queued"
	OutcomeDropped      = "dropped"
	OutcomeFailed       = "failed"
	OutcomePersisted    = "persisted"
	OutcomeDuplicate    = "duplicate"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics holds every collector exported by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheRequests     *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	EventsConsumed    *prometheus.CounterVec
	ConsumerBackoffs  prometheus.Counter
	ConsumerState     prometheus.Gauge
	StoreQueryLatency *prometheus.HistogramVec
}

// New creates a private registry with the service collectors and Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by key space and result (hit, miss, error).",
		}, []string{"key_space", "result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "published_total",
			Help:      "Analytics events handed to the queue by outcome.",
		}, []string{"outcome"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "consumed_total",
			Help:      "Analytics events popped by the consumer by outcome.",
		}, []string{"outcome"}),
		ConsumerBackoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "backoffs_total",
			Help:      "Times the consumer backed off after a queue error.",
		}),
		ConsumerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "state",
			Help:      "Consumer state: 0 idle, 1 processing.",
		}),
		StoreQueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Store query latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.CacheRequests,
		m.EventsPublished,
		m.EventsConsumed,
		m.ConsumerBackoffs,
		m.ConsumerState,
		m.StoreQueryLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordCache(keySpace, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(keySpace, result).Inc()
}

func (m *Metrics) RecordPublish(outcome string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordConsume(outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBackoff() {
	if m == nil {
		return
	}
	m.ConsumerBackoffs.Inc()
}

func (m *Metrics) SetConsumerState(v float64) {
	if m == nil {
		return
	}
	m.ConsumerState.Set(v)
}

func (m *Metrics) ObserveStoreQuery(op string, seconds float64) {
	if m == nil {
		return
	}
	m.StoreQueryLatency.WithLabelValues(op).Observe(seconds)
}
