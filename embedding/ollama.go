package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// OllamaProvider is the local-model variant, talking to an
// Ollama-compatible HTTP endpoint.
type OllamaProvider struct {
	baseURL string
	model   string
	target  int
	client  *http.Client

	// first call verifies the endpoint; a failed check is retried on the
	// next call instead of poisoning the provider.
	initMu      sync.Mutex
	initialized bool
}

// NewOllama creates the local provider. The endpoint is verified lazily on
// first use, not at construction.
func NewOllama(cfg config.EmbeddingConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		target:  cfg.TargetDimension,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) init(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.initialized {
		return nil
	}

	// the health check runs under its own deadline so a canceled first request
	// cannot leave the provider permanently unusable
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &schema.EmbeddingError{Provider: p.Name(), Err: fmt.Errorf("ollama endpoint unreachable: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &schema.EmbeddingError{Provider: p.Name(), Err: fmt.Errorf("ollama endpoint returned status %d", resp.StatusCode)}
	}

	logger.Infof("embedding: ollama endpoint %s ready, model %s", p.baseURL, p.model)
	p.initialized = true
	return nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedOne generates an embedding for a single non-empty text.
func (p *OllamaProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := rejectEmpty(text, p.Name()); err != nil {
		return nil, err
	}
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	return p.embed(ctx, text)
}

// EmbedBatch embeds texts sequentially; the endpoint has no batch API.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	return batchWithZeroFill(ctx, texts, p.target, func(ctx context.Context, valid []string) ([][]float32, error) {
		vecs := make([][]float32, len(valid))
		for i, t := range valid {
			v, err := p.embed(ctx, t)
			if err != nil {
				return nil, err
			}
			vecs[i] = v
		}
		return vecs, nil
	})
}

func (p *OllamaProvider) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	if err := checkQuality(out.Embedding); err != nil {
		return nil, &schema.EmbeddingError{Provider: p.Name(), Err: err}
	}
	return normalizeDimension(out.Embedding, p.target, p.Name()), nil
}
