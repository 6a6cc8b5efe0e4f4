package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

const (
	defaultOllamaLLMBaseURL = "http://localhost:11434"
	defaultOllamaLLMModel   = "llama3.2"
)

// OllamaProvider generates completions through a local Ollama server.
type OllamaProvider struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewOllama creates an Ollama chat provider with sensible defaults.
func NewOllama(cfg config.LLMConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaLLMBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaLLMModel
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return config.LLMOllama }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *OllamaProvider) GenerateCompletion(ctx context.Context, prompt string) (Completion, error) {
	reqBody := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: systemPrompt,
		Stream: false,
	}
	opts := map[string]any{}
	if p.temperature > 0 {
		opts["temperature"] = p.temperature
	}
	if p.maxTokens > 0 {
		opts["num_predict"] = p.maxTokens
	}
	if len(opts) > 0 {
		reqBody.Options = opts
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, &schema.LLMError{Provider: p.Name(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, &schema.LLMError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Completion{}, &schema.LLMError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, &schema.LLMError{
			Provider: p.Name(),
			Err:      fmt.Errorf("generate returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return Completion{}, &schema.LLMError{Provider: p.Name(), Err: fmt.Errorf("decode response failed, err: %w", err)}
	}
	return Completion{
		Text:             genResp.Response,
		PromptTokens:     genResp.PromptEvalCount,
		CompletionTokens: genResp.EvalCount,
	}, nil
}
