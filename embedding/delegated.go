package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// DelegatedProvider adapts any langchaingo embeddings.Embedder to the
// Provider contract, adding dimension normalization, the batch zero-fill
// semantics, and the output quality gate the delegate lacks.
type DelegatedProvider struct {
	delegate embeddings.Embedder
	target   int
}

// NewDelegated wraps a caller-supplied delegate.
func NewDelegated(delegate embeddings.Embedder, targetDimension int) *DelegatedProvider {
	if targetDimension <= 0 {
		targetDimension = 1536
	}
	return &DelegatedProvider{delegate: delegate, target: targetDimension}
}

// NewDelegatedFromConfig builds the default delegate: a langchaingo
// OpenAI-compatible embedder pointed at the configured endpoint.
func NewDelegatedFromConfig(cfg config.EmbeddingConfig) (*DelegatedProvider, error) {
	opts := []lcopenai.Option{}
	if cfg.APIKey != "" {
		opts = append(opts, lcopenai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, lcopenai.WithModel(cfg.Model), lcopenai.WithEmbeddingModel(cfg.Model))
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create delegated embedder failed, err: %w", err)
	}
	delegate, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create delegated embedder failed, err: %w", err)
	}
	return NewDelegated(delegate, cfg.TargetDimension), nil
}

func (p *DelegatedProvider) Name() string { return "delegated" }

func (p *DelegatedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := rejectEmpty(text, p.Name()); err != nil {
		return nil, err
	}
	vec, err := p.delegate.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	if err := checkQuality(vec); err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	return normalizeDimension(vec, p.target, p.Name()), nil
}

func (p *DelegatedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchWithZeroFill(ctx, texts, p.target, func(ctx context.Context, valid []string) ([][]float32, error) {
		vecs, err := p.delegate.EmbedDocuments(ctx, valid)
		if err != nil {
			return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
		}
		out := make([][]float32, len(vecs))
		for i, v := range vecs {
			if err := checkQuality(v); err != nil {
				return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
			}
			out[i] = normalizeDimension(v, p.target, p.Name())
		}
		return out, nil
	})
}
