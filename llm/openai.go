package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

const defaultOpenAIChatModel = "gpt-4o-mini"

// OpenAIProvider generates completions through the OpenAI-compatible chat
// completions API.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
}

// NewOpenAI creates an OpenAI chat provider. APIKey is required.
func NewOpenAI(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("create openai llm provider failed, err: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIChatModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		maxRetries:  cfg.MaxRetries,
	}, nil
}

func (p *OpenAIProvider) Name() string { return config.LLMOpenAI }

func (p *OpenAIProvider) GenerateCompletion(ctx context.Context, prompt string) (Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(500*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return Completion{}, &schema.LLMError{Provider: p.Name(), Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		result, err := p.requestOnce(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return Completion{}, &schema.LLMError{Provider: p.Name(), Err: lastErr}
}

func (p *OpenAIProvider) requestOnce(ctx context.Context, prompt string) (Completion, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat completion returned no choices")
	}
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
