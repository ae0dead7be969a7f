// Package metrics exposes Prometheus counters for search, provider, ingest
// and liveness activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gifengine"

// Search path labels.
const (
	PathLocal    = "local"
	PathCache    = "cache"
	PathProvider = "provider"
	PathMiss     = "miss"
)

// Ingest and liveness result labels.
const (
	ResultCreated     = "created"
	ResultDuplicate   = "duplicate"
	ResultFailed      = "failed"
	ResultInvalid     = "invalid"
	ResultNoEmbedding = "no_embedding"

	ResultAlive = "alive"
	ResultDead  = "dead"
	ResultError = "error"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry         *prometheus.Registry
	searches         *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	ingests          *prometheus.CounterVec
	livenessChecks   *prometheus.CounterVec
	passDuration     prometheus.Histogram
}

// New creates the collectors and registers them, plus Go runtime collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Searches by the path that produced the outcome.",
		}, []string{"path"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "External provider calls by provider and result (hit, miss).",
		}, []string{"provider", "result"}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Ingest calls by result.",
		}, []string{"result"}),
		livenessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_checks_total",
			Help:      "Liveness checks by result (alive, dead, error).",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "liveness_pass_duration_seconds",
			Help:      "Wall time of liveness verification passes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.searches,
		m.providerRequests,
		m.ingests,
		m.livenessChecks,
		m.passDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Search(path string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(path).Inc()
}

func (m *Metrics) ProviderRequest(provider string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.providerRequests.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Ingest(result string) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(result).Inc()
}

func (m *Metrics) LivenessCheck(result string) {
	if m == nil {
		return
	}
	m.livenessChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) LivenessPass(seconds float64) {
	if m == nil {
		return
	}
	m.passDuration.Observe(seconds)
}
