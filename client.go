// Package ragcore wires chunking, embedding, similarity search, ranking
// and generation into a conversational retrieval pipeline.
package ragcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadwise/ragcore/cache"
	"github.com/threadwise/ragcore/chunker"
	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/embedding"
	"github.com/threadwise/ragcore/index"
	"github.com/threadwise/ragcore/llm"
	"github.com/threadwise/ragcore/memory"
	"github.com/threadwise/ragcore/metrics"
	"github.com/threadwise/ragcore/schema"
)

// ChunkRepository persists chunks outside the similarity index. It is
// consumed when configured, never implemented here.
type ChunkRepository interface {
	SaveChunks(ctx context.Context, chunks []schema.TextChunk) error
	GetChunksWithoutEmbeddings(ctx context.Context) ([]schema.TextChunk, error)
}

// EmbeddingRepository writes generated vectors back to external storage.
type EmbeddingRepository interface {
	UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// Client is the top-level retrieval-augmented generation client.
type Client struct {
	config        *config.Config
	chunker       *chunker.Chunker
	embedder      embedding.Provider
	idx           index.Index
	ranker        *index.Ranker
	llmProvider   llm.Provider
	respCache     cache.Cache
	embedCache    cache.Cache
	conversations memory.ConversationStore
	chunkRepo     ChunkRepository
	embedRepo     EmbeddingRepository
	usage         metrics.UsageCounters
	respTTL       time.Duration
}

// Option customizes client construction, mostly to inject host-owned
// collaborators such as a distributed cache or a persistence layer.
type Option func(*Client)

// WithResponseCache injects a response cache, replacing the built-in one.
func WithResponseCache(c cache.Cache) Option {
	return func(cl *Client) { cl.respCache = c }
}

// WithEmbeddingCache injects the cache used for embedding vectors.
func WithEmbeddingCache(c cache.Cache) Option {
	return func(cl *Client) {
		base := cl.embedder
		if cached, ok := base.(*embedding.CachedProvider); ok {
			base = cached.Unwrap()
		}
		cl.embedder = embedding.NewCached(base, c, cl.respTTL)
		cl.embedCache = c
	}
}

// WithConversationStore injects an external conversation store.
func WithConversationStore(s memory.ConversationStore) Option {
	return func(cl *Client) { cl.conversations = s }
}

// WithChunkRepository enables chunk persistence and EmbedPending.
func WithChunkRepository(r ChunkRepository) Option {
	return func(cl *Client) { cl.chunkRepo = r }
}

// WithEmbeddingRepository enables embedding write-back for EmbedPending.
func WithEmbeddingRepository(r EmbeddingRepository) Option {
	return func(cl *Client) { cl.embedRepo = r }
}

// WithLLMProvider overrides the configured generation backend.
func WithLLMProvider(p llm.Provider) Option {
	return func(cl *Client) { cl.llmProvider = p }
}

// WithIndex overrides the configured similarity index backend.
func WithIndex(i index.Index) Option {
	return func(cl *Client) { cl.idx = i }
}

// New creates a client from configuration. Collaborators the
// configuration cannot build, such as a distributed cache, are injected
// through options.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config failed, err: %w", err)
	}

	client := &Client{
		config:  cfg,
		chunker: chunker.New(cfg.Chunking),
		ranker:  index.NewRanker(),
		respTTL: time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
	}

	baseProvider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider failed, err: %w", err)
	}
	embedCache, err := cache.New(cfg.Cache)
	if err == nil {
		client.embedder = embedding.NewCached(baseProvider, embedCache, client.respTTL)
		client.embedCache = embedCache
	} else {
		// a backend that must be injected; run uncached until an option
		// provides one
		client.embedder = baseProvider
	}

	if cfg.LLM.Provider != "" {
		llmProvider, err := llm.NewLLMProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider failed, err: %w", err)
		}
		client.llmProvider = llmProvider
	}

	idx, err := index.New(cfg.Index, cfg.Embedding.TargetDimension)
	if err != nil {
		return nil, fmt.Errorf("create index failed, err: %w", err)
	}
	client.idx = idx

	respCache, err := cache.New(cfg.Cache)
	if err == nil {
		client.respCache = respCache
	}

	client.conversations = memory.NewInMemoryStore(cfg.RAG.MaxHistoryMessages)

	for _, opt := range opts {
		opt(client)
	}

	if client.respCache == nil {
		return nil, fmt.Errorf("create response cache failed, err: %w", err)
	}
	return client, nil
}

// IngestMessages chunks a conversation, embeds every chunk and adds the
// result to the similarity index. Chunking and embedding errors propagate;
// nothing is partially committed to the index on failure.
func (c *Client) IngestMessages(ctx context.Context, conversationID string, msgs []schema.Message) ([]schema.TextChunk, error) {
	chunks, err := c.chunker.Chunk(conversationID, msgs)
	if err != nil {
		return nil, fmt.Errorf("chunk messages failed, err: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		chunks[i].ID = uuid.New().String()
		texts[i] = ch.Text
	}

	vectors, err := c.embedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed, err: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := c.idx.Add(ctx, chunks); err != nil {
		return nil, fmt.Errorf("add chunks failed, err: %w", err)
	}
	if c.chunkRepo != nil {
		if err := c.chunkRepo.SaveChunks(ctx, chunks); err != nil {
			return nil, fmt.Errorf("save chunks failed, err: %w", err)
		}
	}
	logger.Infof("ingested %d chunks for conversation %s", len(chunks), conversationID)
	return chunks, nil
}

// EmbedPending embeds every stored chunk that has no vector yet and
// writes the vectors back through the embedding repository. Returns the
// number of chunks embedded.
func (c *Client) EmbedPending(ctx context.Context) (int, error) {
	if c.chunkRepo == nil || c.embedRepo == nil {
		return 0, fmt.Errorf("embed pending failed, err: chunk and embedding repositories are not configured")
	}
	pending, err := c.chunkRepo.GetChunksWithoutEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending chunks failed, err: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, ch := range pending {
		texts[i] = ch.Text
	}
	vectors, err := c.embedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("create embeddings failed, err: %w", err)
	}

	for i, ch := range pending {
		if err := c.embedRepo.UpdateEmbedding(ctx, ch.ID, vectors[i]); err != nil {
			return i, fmt.Errorf("update embedding failed, err: %w", err)
		}
		pending[i].Embedding = vectors[i]
	}
	if err := c.idx.Add(ctx, pending); err != nil {
		return len(pending), fmt.Errorf("add chunks failed, err: %w", err)
	}
	return len(pending), nil
}

// Search embeds the query and returns ranked, threshold-filtered chunks.
// Filters restrict results by chunk metadata (parent_id, author_name,
// author_type); every supplied key must match. Results are served from the
// response cache when an identical search was answered recently.
func (c *Client) Search(ctx context.Context, query string, topK int, filters map[string]string) ([]schema.ScoredChunk, error) {
	query, err := sanitizeQuery(query)
	if err != nil {
		return nil, err
	}
	topK = c.clampTopK(topK)

	key := searchCacheKey(query, topK, filters)
	if val, ok := c.respCache.Get(key); ok {
		if cached, ok := val.([]schema.ScoredChunk); ok {
			metrics.IncCacheEvent("search", "hit")
			return schema.CloneScored(cached), nil
		}
	}
	metrics.IncCacheEvent("search", "miss")

	results, err := c.retrieve(ctx, query, topK, filters)
	if err != nil {
		return nil, err
	}

	if !c.respCache.Set(key, schema.CloneScored(results), c.respTTL) {
		logger.Warnf("search result cache write failed for key %s", key)
	}
	return results, nil
}

// embedOne and embedBatch funnel every provider call through the
// embedding metrics counters.
func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.EmbedOne(ctx, text)
	metrics.IncEmbeddingCall(c.embedder.Name(), callOutcome(err))
	if err == nil {
		c.usage.RecordEmbedding()
	}
	return vec, err
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	metrics.IncEmbeddingCall(c.embedder.Name(), callOutcome(err))
	if err == nil {
		c.usage.RecordEmbedding()
	}
	return vectors, err
}

func callOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// clampTopK bounds a per-request override to the same 1..50 contract the
// configuration enforces; zero or negative falls back to the configured
// default.
func (c *Client) clampTopK(topK int) int {
	if topK <= 0 {
		topK = c.config.RAG.TopK
	}
	if topK > 50 {
		topK = 50
	}
	return topK
}

// retrieveOverFetch caps how far retrieval widens the index search when
// metadata filters discard part of the candidate set.
const retrieveOverFetch = 200

// retrieve runs embed, search, metadata filter, rank, threshold filter.
// Filters match on parent_id, author_name and author_type; every supplied
// key must match and an unknown key matches nothing.
func (c *Client) retrieve(ctx context.Context, query string, topK int, filters map[string]string) ([]schema.ScoredChunk, error) {
	vector, err := c.embedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("create embedding failed, err: %w", err)
	}
	fetch := topK
	if len(filters) > 0 {
		fetch = topK * 4
		if fetch > retrieveOverFetch {
			fetch = retrieveOverFetch
		}
	}
	matches, err := c.idx.Search(ctx, vector, fetch)
	if err != nil {
		return nil, fmt.Errorf("search chunks failed, err: %w", err)
	}
	matches = filterMatches(matches, filters)
	ranked := c.ranker.Rank(matches)
	return c.ranker.FilterByThreshold(ranked, c.config.RAG.ScoreThreshold, topK), nil
}

func filterMatches(matches []schema.Match, filters map[string]string) []schema.Match {
	if len(filters) == 0 {
		return matches
	}
	kept := matches[:0]
	for _, m := range matches {
		if chunkMatchesFilters(m.Chunk, filters) {
			kept = append(kept, m)
		}
	}
	return kept
}

func chunkMatchesFilters(chunk schema.TextChunk, filters map[string]string) bool {
	for key, want := range filters {
		var got string
		switch key {
		case "parent_id":
			got = chunk.ParentID
		case "author_name":
			got = chunk.AuthorName
		case "author_type":
			got = string(chunk.AuthorType)
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

// ClearConversation drops the stored history of one conversation.
func (c *Client) ClearConversation(ctx context.Context, conversationID string) error {
	return c.conversations.Clear(ctx, conversationID)
}

// ClearCaches empties the response cache. Embedding cache entries are
// content addressed and stay valid, so they are kept.
func (c *Client) ClearCaches() int {
	return c.respCache.Clear("")
}

// Usage returns process-lifetime counters.
func (c *Client) Usage() metrics.Usage {
	return c.usage.Snapshot()
}

// CacheStats exposes response cache statistics.
func (c *Client) CacheStats() cache.Stats {
	return c.respCache.Stats()
}

func searchCacheKey(query string, topK int, filters map[string]string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	base := fmt.Sprintf("%s|%d|%s", normalized, topK, filtersSignature(filters))
	sum := sha256.Sum256([]byte(base))
	return "search:" + hex.EncodeToString(sum[:])[:32]
}

// filtersSignature renders filters deterministically, key-sorted.
func filtersSignature(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
		b.WriteByte(';')
	}
	return b.String()
}
