package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/threadwise/ragcore/cache"
)

const keyPrefix = "embedding:"

// CachedProvider wraps a Provider with a content-addressed get-or-generate
// cache. Batch calls only pay provider cost for the uncached subset.
type CachedProvider struct {
	provider Provider
	cache    cache.Cache
	ttl      time.Duration
}

// NewCached wraps provider with the shared cache. A zero ttl defers to the
// cache's default.
func NewCached(provider Provider, c cache.Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{provider: provider, cache: c, ttl: ttl}
}

func (p *CachedProvider) Name() string { return p.provider.Name() }

// Unwrap returns the underlying uncached provider.
func (p *CachedProvider) Unwrap() Provider { return p.provider }

// Key derives the cache key for a text: a prefix plus truncated SHA-256.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + hex.EncodeToString(sum[:])[:32]
}

// EmbedOne returns the cached vector on hit, otherwise generates and
// stores it. Returned vectors are copies; the cache owns its values.
func (p *CachedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		// let the provider produce its canonical rejection
		return p.provider.EmbedOne(ctx, text)
	}

	key := Key(text)
	if v, ok := p.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return cloneVector(vec), nil
		}
	}

	vec, err := p.provider.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, cloneVector(vec), p.ttl)
	return vec, nil
}

// EmbedBatch partitions input into cached and uncached slots, delegates
// only the uncached subset, merges results back in original order, and
// bulk-writes the newly generated vectors.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			// zero-fill slots are deterministic and not worth caching
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			continue
		}
		if v, ok := p.cache.Get(Key(text)); ok {
			if vec, ok := v.([]float32); ok {
				results[i] = cloneVector(vec)
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		vecs, err := p.provider.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		items := make(map[string]any, len(vecs))
		for j, vec := range vecs {
			results[missIdx[j]] = vec
			if strings.TrimSpace(missTexts[j]) != "" {
				items[Key(missTexts[j])] = cloneVector(vec)
			}
		}
		if len(items) > 0 {
			p.cache.SetMany(items, p.ttl)
		}
	}
	return results, nil
}
