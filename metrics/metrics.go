package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	askLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragcore_ask_latency_ms",
		Help:    "End-to-end ask latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	retrievedChunks = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragcore_retrieved_chunks",
		Help:    "Number of chunks surviving threshold filtering per ask",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
	})

	cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ragcore_cache_events_total",
		Help: "Cache hits and misses by cache name",
	}, []string{"cache", "event"})

	embeddingCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ragcore_embedding_calls_total",
		Help: "Embedding provider calls by provider and outcome",
	}, []string{"provider", "outcome"})

	llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ragcore_llm_tokens_total",
		Help: "Token usage reported by the generation backend",
	}, []string{"kind"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(askLatency, retrievedChunks, cacheEvents, embeddingCalls, llmTokens)
	})
}

// ObserveAsk records end-to-end latency and retrieval size for one ask.
func ObserveAsk(start time.Time, retrieved int) {
	ensureRegistered()
	askLatency.Observe(float64(time.Since(start).Milliseconds()))
	retrievedChunks.Observe(float64(retrieved))
}

// IncCacheEvent records a hit or miss on a named cache.
func IncCacheEvent(cache, event string) {
	ensureRegistered()
	cacheEvents.WithLabelValues(cache, event).Inc()
}

// IncEmbeddingCall records an embedding provider call outcome.
func IncEmbeddingCall(provider, outcome string) {
	ensureRegistered()
	embeddingCalls.WithLabelValues(provider, outcome).Inc()
}

// AddLLMTokens accumulates prompt and completion token usage.
func AddLLMTokens(prompt, completion int) {
	ensureRegistered()
	if prompt > 0 {
		llmTokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		llmTokens.WithLabelValues("completion").Add(float64(completion))
	}
}

// Collectors exposes all collectors for registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{askLatency, retrievedChunks, cacheEvents, embeddingCalls, llmTokens}
}
