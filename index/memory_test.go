package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

func vec(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestMemoryIndex_SearchEmptyIndex(t *testing.T) {
	idx := NewMemory(4)

	matches, err := idx.Search(context.Background(), vec(4, 1), 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryIndex_SkipsChunksWithoutEmbedding(t *testing.T) {
	idx := NewMemory(4)
	ctx := context.Background()

	err := idx.Add(ctx, []schema.TextChunk{
		{ID: "a", OrderIndex: 0, Text: "embedded", Embedding: vec(4, 1)},
		{ID: "b", OrderIndex: 1, Text: "not embedded"},
	})
	require.NoError(t, err)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	matches, err := idx.Search(ctx, vec(4, 1), 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Chunk.ID)
}

func TestMemoryIndex_OrdersByDistance(t *testing.T) {
	idx := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []schema.TextChunk{
		{ID: "far", OrderIndex: 0, Embedding: []float32{10, 10}},
		{ID: "near", OrderIndex: 1, Embedding: []float32{1, 1}},
		{ID: "mid", OrderIndex: 2, Embedding: []float32{4, 4}},
	}))

	matches, err := idx.Search(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "near", matches[0].Chunk.ID)
	assert.Equal(t, "mid", matches[1].Chunk.ID)
	assert.Equal(t, "far", matches[2].Chunk.ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-9)
}

func TestMemoryIndex_TieBreaksOnOrderIndex(t *testing.T) {
	idx := NewMemory(2)
	ctx := context.Background()

	// both sit at the exact same distance from the query
	require.NoError(t, idx.Add(ctx, []schema.TextChunk{
		{ID: "later", OrderIndex: 7, Embedding: []float32{0, 2}},
		{ID: "earlier", OrderIndex: 3, Embedding: []float32{2, 0}},
	}))

	matches, err := idx.Search(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "earlier", matches[0].Chunk.ID)
	assert.Equal(t, "later", matches[1].Chunk.ID)
}

func TestMemoryIndex_TopKCapsResults(t *testing.T) {
	idx := NewMemory(2)
	ctx := context.Background()

	chunks := make([]schema.TextChunk, 0, 10)
	for i := 0; i < 10; i++ {
		chunks = append(chunks, schema.TextChunk{
			ID:         string(rune('a' + i)),
			OrderIndex: uint32(i),
			Embedding:  []float32{float32(i), 0},
		})
	}
	require.NoError(t, idx.Add(ctx, chunks))

	matches, err := idx.Search(ctx, []float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestMemoryIndex_RemoveByID(t *testing.T) {
	idx := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []schema.TextChunk{
		{ID: "keep", OrderIndex: 0, Embedding: []float32{1, 0}},
		{ID: "drop", OrderIndex: 1, Embedding: []float32{0, 1}},
	}))
	require.NoError(t, idx.Remove(ctx, []string{"drop"}))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	matches, err := idx.Search(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "keep", matches[0].Chunk.ID)
}

func TestMemoryIndex_SearchReturnsCopies(t *testing.T) {
	idx := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []schema.TextChunk{
		{ID: "a", Text: "original", Embedding: []float32{1, 0}},
	}))

	matches, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	matches[0].Chunk.Text = "mutated"

	again, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Chunk.Text)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.IndexConfig{Backend: "bogus"}, 4)
	assert.Error(t, err)
}

func TestNew_MemoryBackend(t *testing.T) {
	idx, err := New(config.IndexConfig{Backend: config.IndexMemory}, 4)
	require.NoError(t, err)
	assert.IsType(t, &MemoryIndex{}, idx)
}
