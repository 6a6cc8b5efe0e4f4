// Package embedding converts text into fixed-dimension vectors. Providers
// differ in where the model runs (local HTTP endpoint, remote API,
// in-process hashing, or an injected delegate) but share the same
// dimension-normalization and batch semantics.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// Provider generates embeddings. EmbedBatch output always has the same
// length and order as its input; empty entries map to a zero vector
// instead of failing the whole batch.
type Provider interface {
	Name() string
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider selects a provider variant once at construction time.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case config.EmbeddingLocal:
		return NewOllama(cfg), nil
	case config.EmbeddingRemote:
		return NewOpenAI(cfg)
	case config.EmbeddingAltLocal:
		return NewHashing(cfg), nil
	case config.EmbeddingDelegated:
		return NewDelegatedFromConfig(cfg)
	default:
		return nil, fmt.Errorf("create embedding provider failed, err: unknown provider %q", cfg.Provider)
	}
}

// normalizeDimension forces a vector to the target length: pass-through
// when equal, zero-pad when shorter, truncate when longer. Truncation
// loses precision and is always logged, never silent.
func normalizeDimension(vec []float32, target int, provider string) []float32 {
	switch {
	case len(vec) == target:
		return vec
	case len(vec) < target:
		out := make([]float32, target)
		copy(out, vec)
		return out
	default:
		logger.Warnf("embedding: %s returned %d dims, truncating to %d (precision loss)",
			provider, len(vec), target)
		return vec[:target]
	}
}

// zeroVector is the deterministic stand-in for empty batch entries.
func zeroVector(dim int) []float32 { return make([]float32, dim) }

// checkQuality rejects degenerate model output: a useful embedding has at
// least schema.MinNonZero entries with magnitude above the epsilon.
func checkQuality(vec []float32) error {
	nonzero := 0
	for _, v := range vec {
		if math.Abs(float64(v)) > schema.NonZeroEpsilon {
			nonzero++
			if nonzero >= schema.MinNonZero {
				return nil
			}
		}
	}
	return fmt.Errorf("low-quality vector: %d non-zero entries, want >= %d", nonzero, schema.MinNonZero)
}

func rejectEmpty(text, provider string) error {
	if strings.TrimSpace(text) == "" {
		return &schema.EmbeddingError{Provider: provider, Err: fmt.Errorf("text is empty")}
	}
	return nil
}

// batchWithZeroFill implements the shared two-pass batch algorithm: the
// first pass partitions slots into empty and embeddable, the second pass
// delegates the embeddable subset in order and merges results back, so
// output length and order always match the input.
func batchWithZeroFill(ctx context.Context, texts []string, dim int,
	embed func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {

	results := make([][]float32, len(texts))
	validIdx := make([]int, 0, len(texts))
	validTexts := make([]string, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = zeroVector(dim)
			continue
		}
		validIdx = append(validIdx, i)
		validTexts = append(validTexts, t)
	}

	if len(validTexts) > 0 {
		vecs, err := embed(ctx, validTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(validTexts) {
			return nil, fmt.Errorf("embed batch failed, err: got %d vectors for %d texts", len(vecs), len(validTexts))
		}
		for j, v := range vecs {
			results[validIdx[j]] = v
		}
	}
	return results, nil
}

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
