package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, err.Field, err.Message))
	}
	return b.String()
}

// Validate validates the complete configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateLLM()...)
	errs = append(errs, c.validateIndex()...)
	errs = append(errs, c.validateCache()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateEmbedding() ValidationErrors {
	var errs ValidationErrors

	switch c.Embedding.Provider {
	case EmbeddingLocal, EmbeddingRemote, EmbeddingAltLocal, EmbeddingDelegated:
	default:
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown provider %q (want local, remote, alt-local or delegated)", c.Embedding.Provider),
		})
	}

	if c.Embedding.Provider == EmbeddingRemote && c.Embedding.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.api_key",
			Message: "api key is required for the remote provider",
		})
	}

	if d := c.Embedding.TargetDimension; d < 128 || d > 4096 {
		errs = append(errs, ValidationError{
			Field:   "embedding.target_dimension",
			Message: fmt.Sprintf("target dimension %d is outside typical range [128, 4096]", d),
		})
	}

	return errs
}

func (c *Config) validateLLM() ValidationErrors {
	var errs ValidationErrors

	// An empty provider disables generation; Ask degrades to search-only
	// answers, so it is not an error.
	switch c.LLM.Provider {
	case "", LLMOpenAI, LLMOllama:
	default:
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q (want openai or ollama)", c.LLM.Provider),
		})
	}

	if c.LLM.Provider == LLMOpenAI && c.LLM.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.api_key",
			Message: "api key is required for the openai provider",
		})
	}
	if c.LLM.Provider != "" && c.LLM.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.model",
			Message: "model is required when a llm provider is configured",
		})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("temperature %.2f is outside [0, 2]", c.LLM.Temperature),
		})
	}

	return errs
}

func (c *Config) validateIndex() ValidationErrors {
	var errs ValidationErrors

	switch c.Index.Backend {
	case IndexMemory, IndexChromem:
	case IndexMilvus:
		if c.Index.Address == "" {
			errs = append(errs, ValidationError{
				Field:   "index.address",
				Message: "address is required for the milvus backend",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "index.backend",
			Message: fmt.Sprintf("unknown backend %q (want memory, milvus or chromem)", c.Index.Backend),
		})
	}

	return errs
}

func (c *Config) validateCache() ValidationErrors {
	var errs ValidationErrors

	switch c.Cache.Backend {
	case CacheMemory, CacheDistributed:
	default:
		errs = append(errs, ValidationError{
			Field:   "cache.backend",
			Message: fmt.Sprintf("unknown backend %q (want memory or distributed)", c.Cache.Backend),
		})
	}

	return errs
}
