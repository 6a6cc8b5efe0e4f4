package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadwise/ragcore/config"
)

// Completion is the result of a single generation call. Token counts are
// zero when the backend does not report usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Provider generates completions from an assembled prompt.
type Provider interface {
	Name() string
	GenerateCompletion(ctx context.Context, prompt string) (Completion, error)
}

// NewLLMProvider creates an LLM provider based on the configured type.
func NewLLMProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMOpenAI:
		return NewOpenAI(cfg)
	case config.LLMOllama:
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Provider)
	}
}

const systemPrompt = "You are a helpful assistant. Answer the question using only the " +
	"provided context. Cite the context entries you used with their bracketed labels, " +
	"for example [Source 1]. If the context does not contain the answer, say so."

// BuildPrompt assembles the user prompt from the question and its context
// entries, joined by sep.
func BuildPrompt(query string, contexts []string, sep string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(contexts, sep))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}
