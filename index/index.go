// Package index owns nearest-neighbor retrieval over embedded chunks and
// the conversion of raw distances into normalized relevance scores.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// Index is the pluggable similarity-search backend. Search returns
// matches in ascending distance order, ties broken by ascending chunk
// OrderIndex. Chunks without an embedding are never indexed and never
// returned.
type Index interface {
	Add(ctx context.Context, chunks []schema.TextChunk) error
	Search(ctx context.Context, vector []float32, topK int) ([]schema.Match, error)
	Remove(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// New selects an index backend once at construction time.
func New(cfg config.IndexConfig, dimension int) (Index, error) {
	switch cfg.Backend {
	case config.IndexMemory, "":
		return NewMemory(dimension), nil
	case config.IndexMilvus:
		return NewMilvus(cfg, dimension)
	case config.IndexChromem:
		return NewChromem(cfg)
	default:
		return nil, fmt.Errorf("create index failed, err: unknown backend %q", cfg.Backend)
	}
}

// sortMatches enforces the contract ordering on a match list in place:
// primary ascending distance, secondary ascending OrderIndex. Backends
// whose storage cannot guarantee stable tie-breaks re-sort through this.
func sortMatches(matches []schema.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Chunk.OrderIndex < matches[j].Chunk.OrderIndex
	})
}
