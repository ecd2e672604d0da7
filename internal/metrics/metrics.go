// Package metrics holds the Prometheus collectors for remote calls and
// pipeline runs.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "newsrag"

var (
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Page fetches by outcome",
		},
		[]string{"outcome"}, // "ok" / "error" / "excluded"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM completion requests",
		},
		[]string{"model", "status"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM completion duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Index builds by final stage",
		},
		[]string{"stage"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by outcome: ok or the error kind",
		},
		[]string{"kind"},
	)

	QueryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_embedding_cache_total",
			Help:      "Question embedding cache hits and misses",
		},
		[]string{"result"},
	)
)

var (
	registerOnce sync.Once
	registry     *prometheus.Registry
)

// Registry returns the process registry with every collector registered.
func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			FetchTotal,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			LLMRequestsTotal,
			LLMRequestDuration,
			BuildsTotal,
			QueriesTotal,
			QueryCacheTotal,
		)
	})
	return registry
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry())
}
