package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// OpenAIProvider is the remote-API variant, speaking the OpenAI
// embeddings protocol. Transient failures retry with exponential backoff
// before surfacing an EmbeddingError.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	target     int
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
}

// NewOpenAI creates the remote provider.
func NewOpenAI(cfg config.EmbeddingConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("create openai embedding provider failed, err: api key is empty")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// the SDK retries internally by default; retries are driven
		// here so the backoff schedule stays configurable
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      model,
		target:     cfg.TargetDimension,
		timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := rejectEmpty(text, p.Name()); err != nil {
		return nil, err
	}
	vecs, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchWithZeroFill(ctx, texts, p.target, p.request)
}

// request performs one embeddings call with bounded retry. The delay
// doubles per attempt: baseDelay * 2^attempt.
func (p *OpenAIProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			logger.Warnf("embedding: openai attempt %d/%d failed, retrying in %v: %v",
				attempt, p.maxRetries, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &schema.EmbeddingError{Provider: p.Name(), Err: ctx.Err()}
			}
		}

		vecs, err := p.requestOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &schema.EmbeddingError{Provider: p.Name(), Err: lastErr}
}

func (p *OpenAIProvider) requestOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if err := checkQuality(vec); err != nil {
			return nil, err
		}
		vecs[d.Index] = normalizeDimension(vec, p.target, p.Name())
	}
	return vecs, nil
}
