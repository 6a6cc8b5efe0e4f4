package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/threadwise/ragcore/config"
)

// HashingProvider is the alternative-local-model variant: a deterministic
// feature-hashing embedder that needs no model runtime. Token unigrams and
// bigrams hash into the target dimension with a sign bit, then the vector
// is L2-normalized. Useful for tests, air-gapped installs, and as a
// degraded fallback.
type HashingProvider struct {
	target int
}

// NewHashing creates the hashing provider. Its native dimension is the
// target dimension, so normalization is always pass-through.
func NewHashing(cfg config.EmbeddingConfig) *HashingProvider {
	target := cfg.TargetDimension
	if target <= 0 {
		target = 1536
	}
	return &HashingProvider{target: target}
}

func (p *HashingProvider) Name() string { return "hashing" }

func (p *HashingProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := rejectEmpty(text, p.Name()); err != nil {
		return nil, err
	}
	return p.embed(text), nil
}

func (p *HashingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchWithZeroFill(ctx, texts, p.target, func(_ context.Context, valid []string) ([][]float32, error) {
		vecs := make([][]float32, len(valid))
		for i, t := range valid {
			vecs[i] = p.embed(t)
		}
		return vecs, nil
	})
}

// embed builds the hashed bag-of-features vector. Hashed features are
// sparse for very short inputs; the model-output density gate does not
// apply here because the construction is exact, not a model estimate.
func (p *HashingProvider) embed(text string) []float32 {
	tokens := tokenize(text)
	vec := make([]float32, p.target)

	add := func(feature string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(p.target))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	for i, tok := range tokens {
		add(tok)
		if i+1 < len(tokens) {
			add(tok + " " + tokens[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
