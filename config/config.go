// Package config holds the configuration surface consumed by the RAG core.
// The core recognizes these options but does not own process configuration;
// the embedding host decides where the values come from.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Embedding provider names.
const (
	EmbeddingLocal     = "local"     // Ollama-compatible HTTP endpoint
	EmbeddingRemote    = "remote"    // OpenAI-compatible API
	EmbeddingAltLocal  = "alt-local" // deterministic feature-hashing embedder
	EmbeddingDelegated = "delegated" // langchaingo embeddings.Embedder delegate
)

// Index backend names.
const (
	LLMOpenAI = "openai"
	LLMOllama = "ollama"
)

const (
	IndexMemory  = "memory"
	IndexMilvus  = "milvus"
	IndexChromem = "chromem"
)

// Cache backend names.
const (
	CacheMemory      = "memory"
	CacheDistributed = "distributed"
)

// Config is the root configuration for the RAG core.
type Config struct {
	RAG       RAGConfig       `json:"rag" yaml:"rag"`
	Chunking  ChunkingConfig  `json:"chunking" yaml:"chunking"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Index     IndexConfig     `json:"index" yaml:"index"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
}

// RAGConfig tunes retrieval and answer generation.
type RAGConfig struct {
	TopK               int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	ScoreThreshold     float64 `json:"score_threshold,omitempty" yaml:"score_threshold,omitempty"`
	MaxContextTokens   int     `json:"max_context_tokens,omitempty" yaml:"max_context_tokens,omitempty"`
	MaxHistoryMessages int     `json:"max_history_messages,omitempty" yaml:"max_history_messages,omitempty"`
	// MinCacheConfidence is the confidence floor below which answers are
	// not written to the response cache.
	MinCacheConfidence float64 `json:"min_cache_confidence,omitempty" yaml:"min_cache_confidence,omitempty"`
}

// ChunkingConfig tunes the conversation chunker.
type ChunkingConfig struct {
	MaxChunkSize int `json:"max_chunk_size,omitempty" yaml:"max_chunk_size,omitempty"`
	// SplitOnSpeakerChange defaults to true when unset.
	SplitOnSpeakerChange *bool `json:"split_on_speaker_change,omitempty" yaml:"split_on_speaker_change,omitempty"`
}

// SpeakerSplit reports the effective speaker-change splitting setting.
func (c ChunkingConfig) SpeakerSplit() bool {
	return c.SplitOnSpeakerChange == nil || *c.SplitOnSpeakerChange
}

// EmbeddingConfig defines configuration for embedding providers.
type EmbeddingConfig struct {
	Provider string `json:"provider" yaml:"provider"` // local, remote, alt-local, delegated
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// TargetDimension is the fixed output length after normalization.
	TargetDimension int `json:"target_dimension,omitempty" yaml:"target_dimension,omitempty"`
	// NativeDimension, when known, lets validation warn about lossy
	// truncation up front. Zero means "discover at first call".
	NativeDimension  int `json:"native_dimension,omitempty" yaml:"native_dimension,omitempty"`
	TimeoutMs        int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxRetries       int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryBaseDelayMs int `json:"retry_base_delay_ms,omitempty" yaml:"retry_base_delay_ms,omitempty"`
}

// LLMConfig defines configuration for the generation model.
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // openai, ollama
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TimeoutMs   int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// IndexConfig defines configuration for the similarity index backend.
type IndexConfig struct {
	Backend    string `json:"backend,omitempty" yaml:"backend,omitempty"` // memory, milvus, chromem
	Address    string `json:"address,omitempty" yaml:"address,omitempty"`
	Database   string `json:"database,omitempty" yaml:"database,omitempty"`
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	// Path is the on-disk location for the chromem backend; empty means
	// in-process only.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// CacheConfig defines the shared TTL/LRU cache settings.
type CacheConfig struct {
	Backend           string `json:"backend,omitempty" yaml:"backend,omitempty"` // memory, distributed
	MaxSize           int    `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	DefaultTTLSeconds int    `json:"default_ttl_seconds,omitempty" yaml:"default_ttl_seconds,omitempty"`
}

// Load reads a YAML config file, after best-effort loading of a .env file
// so `${VAR}` references in the YAML (typically API keys) can expand from
// the environment. Defaults are applied; validation is left to the caller.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config failed, err: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config failed, err: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset values and clamps out-of-range ones.
func (c *Config) ApplyDefaults() {
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.TopK > 50 {
		c.RAG.TopK = 50
	}
	if c.RAG.ScoreThreshold <= 0 {
		c.RAG.ScoreThreshold = 0.7
	}
	if c.RAG.MaxContextTokens <= 0 {
		c.RAG.MaxContextTokens = 3500
	}
	if c.RAG.MaxHistoryMessages <= 0 {
		c.RAG.MaxHistoryMessages = 10
	}
	if c.RAG.MinCacheConfidence <= 0 {
		c.RAG.MinCacheConfidence = 0.1
	}
	if c.Chunking.MaxChunkSize <= 0 {
		c.Chunking.MaxChunkSize = 1000
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = EmbeddingLocal
	}
	if c.Embedding.TargetDimension <= 0 {
		c.Embedding.TargetDimension = 1536
	}
	if c.Embedding.TimeoutMs <= 0 {
		c.Embedding.TimeoutMs = 30000
	}
	if c.Embedding.MaxRetries <= 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.RetryBaseDelayMs <= 0 {
		c.Embedding.RetryBaseDelayMs = 200
	}
	if c.LLM.TimeoutMs <= 0 {
		c.LLM.TimeoutMs = 60000
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = 2
	}
	if c.Index.Backend == "" {
		c.Index.Backend = IndexMemory
	}
	if c.Index.Collection == "" {
		c.Index.Collection = "ragcore_chunks"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = 1000
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		c.Cache.DefaultTTLSeconds = 3600
	}
}
