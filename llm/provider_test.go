package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("what is the plan?", []string{"[Source 1] alice: ship friday", "[Source 2] bob: tests first"}, "\n\n")

	assert.Contains(t, prompt, "Context:")
	assert.Contains(t, prompt, "[Source 1] alice: ship friday")
	assert.Contains(t, prompt, "[Source 2] bob: tests first")
	assert.Contains(t, prompt, "Question: what is the plan?")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
}

func TestNewLLMProvider(t *testing.T) {
	p, err := NewLLMProvider(config.LLMConfig{Provider: config.LLMOllama})
	require.NoError(t, err)
	assert.Equal(t, config.LLMOllama, p.Name())

	p, err = NewLLMProvider(config.LLMConfig{Provider: config.LLMOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, config.LLMOpenAI, p.Name())

	_, err = NewLLMProvider(config.LLMConfig{Provider: config.LLMOpenAI})
	assert.Error(t, err)

	_, err = NewLLMProvider(config.LLMConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestOllama_GenerateCompletion(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)
		gotPrompt, _ = req["prompt"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"response":          "the plan is to ship friday [Source 1]",
			"done":              true,
			"prompt_eval_count": 42,
			"eval_count":        11,
		})
	}))
	defer srv.Close()

	p := NewOllama(config.LLMConfig{Provider: config.LLMOllama, BaseURL: srv.URL, Model: "llama3.2"})
	result, err := p.GenerateCompletion(context.Background(), "Question: what is the plan?")
	require.NoError(t, err)

	assert.Equal(t, "llama3.2", gotModel)
	assert.Contains(t, gotPrompt, "what is the plan?")
	assert.Equal(t, "the plan is to ship friday [Source 1]", result.Text)
	assert.Equal(t, 42, result.PromptTokens)
	assert.Equal(t, 11, result.CompletionTokens)
}

func TestOllama_ServerErrorWrapsLLMError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllama(config.LLMConfig{Provider: config.LLMOllama, BaseURL: srv.URL})
	_, err := p.GenerateCompletion(context.Background(), "hi")
	require.Error(t, err)

	var llmErr *schema.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, config.LLMOllama, llmErr.Provider)
}

func TestOpenAI_RetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.LLMConfig{
		Provider:   config.LLMOpenAI,
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		MaxRetries: 2,
		TimeoutMs:  5000,
	})
	require.NoError(t, err)

	_, err = p.GenerateCompletion(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var llmErr *schema.LLMError
	assert.ErrorAs(t, err, &llmErr)
}
