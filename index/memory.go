package index

import (
	"context"
	"math"
	"sync"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/schema"
)

// MemoryIndex is the reference backend: brute-force L2 search over an
// in-process chunk slice. Suitable for single-node deployments and tests.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	chunks    []schema.TextChunk
}

// NewMemory creates an empty in-memory index for vectors of the given
// dimension.
func NewMemory(dimension int) *MemoryIndex {
	if dimension <= 0 {
		dimension = schema.TargetDimension
	}
	return &MemoryIndex{dimension: dimension}
}

// Add indexes the embedded chunks; chunks without an embedding are
// skipped, never an error.
func (m *MemoryIndex) Add(ctx context.Context, chunks []schema.TextChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	skipped := 0
	for _, c := range chunks {
		if !c.HasEmbedding() {
			skipped++
			continue
		}
		if len(c.Embedding) != m.dimension {
			skipped++
			logger.Warnf("index: chunk %s has %d dims, index expects %d, skipping", c.ID, len(c.Embedding), m.dimension)
			continue
		}
		m.chunks = append(m.chunks, schema.CloneChunk(c))
	}
	if skipped > 0 {
		logger.Debugf("index: skipped %d chunks without usable embeddings", skipped)
	}
	return nil
}

// Search returns up to topK nearest chunks by Euclidean distance.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, topK int) ([]schema.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}

	matches := make([]schema.Match, 0, len(m.chunks))
	for _, c := range m.chunks {
		if len(c.Embedding) != len(vector) {
			continue
		}
		matches = append(matches, schema.Match{
			Chunk:    schema.CloneChunk(c),
			Distance: l2Distance(vector, c.Embedding),
		})
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Remove drops chunks by ID.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if _, ok := drop[c.ID]; !ok {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	return nil
}

// Count reports the number of indexed chunks.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
