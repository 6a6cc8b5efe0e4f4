package ragcore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/embedding"
	"github.com/threadwise/ragcore/schema"
)

type fakeChunkRepo struct {
	saved   []schema.TextChunk
	pending []schema.TextChunk
}

func (r *fakeChunkRepo) SaveChunks(ctx context.Context, chunks []schema.TextChunk) error {
	r.saved = append(r.saved, chunks...)
	return nil
}

func (r *fakeChunkRepo) GetChunksWithoutEmbeddings(ctx context.Context) ([]schema.TextChunk, error) {
	return r.pending, nil
}

type fakeEmbedRepo struct {
	updated map[string][]float32
}

func (r *fakeEmbedRepo) UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	if r.updated == nil {
		r.updated = make(map[string][]float32)
	}
	r.updated[chunkID] = embedding
	return nil
}

func TestIngestMessages(t *testing.T) {
	repo := &fakeChunkRepo{}
	client, err := New(testConfig(), WithChunkRepository(repo))
	require.NoError(t, err)

	chunks, err := client.IngestMessages(context.Background(), "conv-1", []schema.Message{
		{AuthorName: "Alice", Text: "hello there"},
		{AuthorName: "Bob", Text: "hi alice"},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, ch := range chunks {
		assert.NotEmpty(t, ch.ID, "ids are assigned at ingest")
		assert.Equal(t, "conv-1", ch.ParentID)
		assert.Equal(t, uint32(i), ch.OrderIndex)
		assert.True(t, ch.HasEmbedding())
		assert.Len(t, ch.Embedding, 256)
	}
	assert.Len(t, repo.saved, 2)

	count, err := client.idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngestMessages_EmptyInputFailsFast(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	_, err = client.IngestMessages(context.Background(), "conv-1", nil)
	require.Error(t, err)

	var verr *schema.ValidationError
	assert.ErrorAs(t, err, &verr)

	count, err := client.idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "nothing is partially committed")
}

func TestEmbedPending(t *testing.T) {
	chunkRepo := &fakeChunkRepo{pending: []schema.TextChunk{
		{ID: "p1", Text: "pending one", OrderIndex: 0},
		{ID: "p2", Text: "pending two", OrderIndex: 1},
	}}
	embedRepo := &fakeEmbedRepo{}
	client, err := New(testConfig(), WithChunkRepository(chunkRepo), WithEmbeddingRepository(embedRepo))
	require.NoError(t, err)

	n, err := client.EmbedPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, embedRepo.updated, 2)
	assert.Len(t, embedRepo.updated["p1"], 256)

	count, err := client.idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEmbedPending_RequiresRepositories(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	_, err = client.EmbedPending(context.Background())
	assert.Error(t, err)
}

func TestSearch_RanksAndCaches(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	_, err = client.IngestMessages(context.Background(), "conv-1", []schema.Message{
		{AuthorName: "Alice", Text: "the deployment runs on kubernetes"},
		{AuthorName: "Bob", Text: "lunch is at noon"},
	})
	require.NoError(t, err)

	results, err := client.Search(context.Background(), "the deployment runs on kubernetes", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Chunk.Text, "deployment")

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}

	// mutating a returned result must not poison the cache
	results[0].Chunk.Text = "mutated"
	again, err := client.Search(context.Background(), "the deployment runs on kubernetes", 5, nil)
	require.NoError(t, err)
	assert.Contains(t, again[0].Chunk.Text, "deployment")

	stats := client.CacheStats()
	assert.GreaterOrEqual(t, stats.Hits, uint64(1))
}

func TestSearch_RejectsInvalidQuery(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	_, err = client.Search(context.Background(), " ", 5, nil)
	assert.Error(t, err)
}

func TestSearchCacheKey_FilterOrderIndependent(t *testing.T) {
	a := searchCacheKey("query", 5, map[string]string{"x": "1", "y": "2"})
	b := searchCacheKey("query", 5, map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)

	c := searchCacheKey("query", 5, map[string]string{"x": "1"})
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, searchCacheKey("query", 6, map[string]string{"x": "1", "y": "2"}))
}

func TestClearCaches(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	_, err = client.IngestMessages(context.Background(), "conv-1", []schema.Message{
		{AuthorName: "Alice", Text: "some indexed text"},
	})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "some indexed text", 5, nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, client.ClearCaches(), 1)
}

func TestUsageCounters(t *testing.T) {
	gen := &fakeLLM{response: citedResponse}
	client := newTestClient(t, gen)
	seedConversation(t, client)

	_, err := client.Ask(context.Background(), AskRequest{Query: "when do we ship the release"})
	require.NoError(t, err)
	_, err = client.Ask(context.Background(), AskRequest{Query: "when do we ship the release"})
	require.NoError(t, err)

	usage := client.Usage()
	assert.Equal(t, int64(2), usage.Asks)
	assert.Equal(t, int64(1), usage.CacheHits)
	assert.Equal(t, int64(100), usage.PromptTokens)
	assert.Equal(t, int64(30), usage.CompletionTokens)
}

func TestNew_InvalidConfigFails(t *testing.T) {
	cfg := testConfig()
	cfg.Embedding.Provider = "nonsense"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.LLM.Provider = config.LLMOpenAI // no api key, no model
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestSearch_ClampsTopKOverride(t *testing.T) {
	cfg := testConfig()
	// New() re-runs ApplyDefaults, which treats <= 0 as unset and would
	// reset the threshold to 0.7; use a value low enough to keep all
	// results that still survives defaulting.
	cfg.RAG.ScoreThreshold = 0.001
	client, err := New(cfg)
	require.NoError(t, err)

	msgs := make([]schema.Message, 0, 80)
	for i := 0; i < 80; i++ {
		name := "Alice"
		if i%2 == 1 {
			name = "Bob"
		}
		msgs = append(msgs, schema.Message{AuthorName: name, Text: fmt.Sprintf("status update %d for the release train", i)})
	}
	_, err = client.IngestMessages(context.Background(), "conv-topk", msgs)
	require.NoError(t, err)

	results, err := client.Search(context.Background(), "status update for the release train", 500, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 50)
}

func TestSearch_AppliesMetadataFilters(t *testing.T) {
	cfg := testConfig()
	// New() re-runs ApplyDefaults, which treats <= 0 as unset and would
	// reset the threshold to 0.7; use a value low enough to keep all
	// results that still survives defaulting.
	cfg.RAG.ScoreThreshold = 0.001
	client, err := New(cfg)
	require.NoError(t, err)

	_, err = client.IngestMessages(context.Background(), "conv-a", []schema.Message{
		{AuthorName: "Alice", Text: "the deploy window opens at noon"},
		{AuthorName: "Bob", Text: "noted, I will prepare the deploy checklist"},
	})
	require.NoError(t, err)
	_, err = client.IngestMessages(context.Background(), "conv-b", []schema.Message{
		{AuthorName: "Carol", Text: "the deploy window is a rumor, ignore it"},
	})
	require.NoError(t, err)

	results, err := client.Search(context.Background(), "deploy window", 10, map[string]string{"parent_id": "conv-a"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, res := range results {
		assert.Equal(t, "conv-a", res.Chunk.ParentID)
	}

	byAuthor, err := client.Search(context.Background(), "deploy window", 10, map[string]string{"author_name": "Carol"})
	require.NoError(t, err)
	require.NotEmpty(t, byAuthor)
	for _, res := range byAuthor {
		assert.Equal(t, "Carol", res.Chunk.AuthorName)
	}

	none, err := client.Search(context.Background(), "deploy window", 10, map[string]string{"release": "v2"})
	require.NoError(t, err)
	assert.Empty(t, none, "unknown filter keys match nothing")
}

func TestSearch_WarmsEmbeddingCache(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)
	seedConversation(t, client)

	query := "what is the shipping date"
	require.NotNil(t, client.embedCache)
	assert.False(t, client.embedCache.Exists(embedding.Key(query)))

	_, err = client.Search(context.Background(), query, 5, nil)
	require.NoError(t, err)
	assert.True(t, client.embedCache.Exists(embedding.Key(query)))
}

func TestEmbedCallsCounted(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)
	seedConversation(t, client)

	before := client.Usage().EmbeddingCalls
	_, err = client.Search(context.Background(), "when do we ship the release", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, before+1, client.Usage().EmbeddingCalls)
}
