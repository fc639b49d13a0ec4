// Package metrics exposes Prometheus instrumentation for searches, provider
// calls and indexing. All methods are safe on a nil *Metrics, so components
// can be built without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsearch"

// Metrics holds the collectors registered on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	searches          *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	degradedChannels  *prometheus.CounterVec
	emptyResults      prometheus.Counter
	embeddingRequests *prometheus.CounterVec
	providerRetries   *prometheus.CounterVec
	rerankFallbacks   prometheus.Counter
	indexedChunks     *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Total number of searches by mode",
			},
			[]string{"mode"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Search latency in seconds by mode",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"mode"},
		),
		degradedChannels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_degraded_channels_total",
				Help:      "Search channels that failed while the search still returned results",
			},
			[]string{"channel"},
		),
		emptyResults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_empty_results_total",
				Help:      "Searches that matched nothing",
			},
		),
		embeddingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Embedding provider requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Retried provider calls by client and error class",
			},
			[]string{"client", "class"},
		),
		rerankFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rerank_fallbacks_total",
				Help:      "Rerank calls that failed and kept the original ranking",
			},
		),
		indexedChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "indexed_chunks_total",
				Help:      "Chunks processed by the indexer by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.Registry.MustRegister(
		m.searches,
		m.searchDuration,
		m.degradedChannels,
		m.emptyResults,
		m.embeddingRequests,
		m.providerRetries,
		m.rerankFallbacks,
		m.indexedChunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one completed search
func (m *Metrics) ObserveSearch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(mode).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// SearchDegraded records a failed channel in an otherwise successful search
func (m *Metrics) SearchDegraded(channel string) {
	if m == nil {
		return
	}
	m.degradedChannels.WithLabelValues(channel).Inc()
}

// EmptyResult records a search with no matches
func (m *Metrics) EmptyResult() {
	if m == nil {
		return
	}
	m.emptyResults.Inc()
}

// EmbeddingRequest records an embedding request outcome (ok, error, cached)
func (m *Metrics) EmbeddingRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.embeddingRequests.WithLabelValues(provider, outcome).Inc()
}

// ProviderRetry records a retried provider call
func (m *Metrics) ProviderRetry(client, class string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(client, class).Inc()
}

// RerankFallback records a rerank failure
func (m *Metrics) RerankFallback() {
	if m == nil {
		return
	}
	m.rerankFallbacks.Inc()
}

// ChunksIndexed adds n chunks with the given outcome (indexed, skipped, deleted, failed)
func (m *Metrics) ChunksIndexed(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.indexedChunks.WithLabelValues(outcome).Add(float64(n))
}
