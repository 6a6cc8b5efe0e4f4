package schema

import "fmt"

// ValidationError reports bad, empty or oversized caller input. It is
// user-correctable and propagates to the caller unchanged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed [%s]: %s", e.Field, e.Message)
}

// EmbeddingError reports an embedding provider failure: unavailable
// backend, bad output shape, or exhausted retries.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding provider %s failed, err: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// RepositoryError reports a storage or search backend failure. The core
// surfaces these without retrying.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s failed, err: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// LLMError reports a generation failure.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm provider %s failed, err: %v", e.Provider, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }
