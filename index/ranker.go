package index

import (
	"sort"

	"github.com/threadwise/ragcore/schema"
)

// Ranker converts raw distances into normalized relevance scores and
// applies threshold filtering.
type Ranker struct{}

// NewRanker creates a Ranker.
func NewRanker() *Ranker { return &Ranker{} }

// Score maps a non-negative distance onto (0, 1]: 1/(1+d). Zero distance
// scores 1.0; the score decreases monotonically with distance.
func (r *Ranker) Score(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + distance)
}

// Rank scores matches and orders them by descending score with ascending
// OrderIndex as the stable tie-break, which holds even on exact distance
// ties.
func (r *Ranker) Rank(matches []schema.Match) []schema.ScoredChunk {
	scored := make([]schema.ScoredChunk, len(matches))
	for i, m := range matches {
		scored[i] = schema.ScoredChunk{Chunk: m.Chunk, Score: r.Score(m.Distance)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.OrderIndex < scored[j].Chunk.OrderIndex
	})
	return scored
}

// FilterByThreshold keeps entries with score >= threshold, preserving
// rank order, capped at topK. A topK <= 0 means no cap.
func (r *Ranker) FilterByThreshold(results []schema.ScoredChunk, threshold float64, topK int) []schema.ScoredChunk {
	out := make([]schema.ScoredChunk, 0, len(results))
	for _, s := range results {
		if s.Score >= threshold {
			out = append(out, s)
		}
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out
}
