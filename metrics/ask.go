package metrics

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/threadwise/ragcore/common/logger"
)

// AskMetrics records the complete per-request trace of one ask.
type AskMetrics struct {
	QueryID        string    `json:"query_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	EmbeddingCached  bool `json:"embedding_cached"`
	ChunksRetrieved  int  `json:"chunks_retrieved"`
	ChunksUsed       int  `json:"chunks_used"`
	ContextTokens    int  `json:"context_tokens"`
	ContextTruncated bool `json:"context_truncated"`

	ResponseCached   bool    `json:"response_cached"`
	Confidence       float64 `json:"confidence"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`

	TotalLatencyMs int64  `json:"total_latency_ms"`
	Success        bool   `json:"success"`
	ErrorMsg       string `json:"error_msg,omitempty"`
}

// NewAskMetrics creates a per-ask metrics record stamped with now.
func NewAskMetrics() *AskMetrics {
	return &AskMetrics{Timestamp: time.Now()}
}

// LogJSON emits the record as a single JSON log line.
func (m *AskMetrics) LogJSON() {
	data, err := json.Marshal(m)
	if err != nil {
		logger.Errorf("metrics: marshal ask record failed, err: %v", err)
		return
	}
	logger.Infof("ask_metrics %s", string(data))
}

// Usage is a process-wide snapshot of accumulated counters.
type Usage struct {
	Asks             int64 `json:"asks"`
	CacheHits        int64 `json:"cache_hits"`
	EmbeddingCalls   int64 `json:"embedding_calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// UsageCounters accumulates totals across the process lifetime.
type UsageCounters struct {
	asks             atomic.Int64
	cacheHits        atomic.Int64
	embeddingCalls   atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

func (u *UsageCounters) RecordAsk(cached bool) {
	u.asks.Add(1)
	if cached {
		u.cacheHits.Add(1)
	}
}

func (u *UsageCounters) RecordEmbedding() { u.embeddingCalls.Add(1) }

func (u *UsageCounters) RecordTokens(prompt, completion int) {
	u.promptTokens.Add(int64(prompt))
	u.completionTokens.Add(int64(completion))
}

// Snapshot returns a consistent-enough copy of the counters.
func (u *UsageCounters) Snapshot() Usage {
	return Usage{
		Asks:             u.asks.Load(),
		CacheHits:        u.cacheHits.Load(),
		EmbeddingCalls:   u.embeddingCalls.Load(),
		PromptTokens:     u.promptTokens.Load(),
		CompletionTokens: u.completionTokens.Load(),
	}
}
