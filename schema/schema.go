// Package schema defines the shared data model of the RAG core: messages,
// chunks, embedding vectors, search results and answers.
package schema

import "time"

const (
	// TargetDimension is the fixed length every embedding vector is
	// normalized to before indexing or search.
	TargetDimension = 1536

	// MinNonZero is the minimum number of entries with magnitude above
	// NonZeroEpsilon a vector must carry to be accepted as meaningful.
	MinNonZero = 100

	// NonZeroEpsilon is the magnitude below which a vector entry counts
	// as zero for the quality gate.
	NonZeroEpsilon = 1e-8

	// MaxChunkTextLen bounds the text carried by a single chunk.
	MaxChunkTextLen = 10000
)

// AuthorType classifies who produced a message.
type AuthorType string

const (
	AuthorHuman     AuthorType = "human"
	AuthorAssistant AuthorType = "assistant"
	AuthorSystem    AuthorType = "system"
)

// Message is a single conversation message handed to the chunker.
type Message struct {
	Text       string     `json:"text"`
	AuthorName string     `json:"author_name,omitempty"`
	AuthorType AuthorType `json:"author_type"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Author returns the display name used when formatting chunk text,
// falling back to the author type when no name is set.
func (m Message) Author() string {
	if m.AuthorName != "" {
		return m.AuthorName
	}
	return string(m.AuthorType)
}

// TextChunk is the atomic unit of embedding and retrieval: a bounded,
// ordered fragment of conversation text.
type TextChunk struct {
	ID         string     `json:"id,omitempty"`
	ParentID   string     `json:"parent_id"`
	OrderIndex uint32     `json:"order_index"`
	Text       string     `json:"text"`
	AuthorName string     `json:"author_name,omitempty"`
	AuthorType AuthorType `json:"author_type"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	// Embedding is attached once after creation; a chunk without one is
	// excluded from similarity search.
	Embedding []float32 `json:"embedding,omitempty"`
}

// HasEmbedding reports whether the chunk is eligible for indexing.
func (c TextChunk) HasEmbedding() bool { return len(c.Embedding) > 0 }

// Author returns the display name used in context assembly.
func (c TextChunk) Author() string {
	if c.AuthorName != "" {
		return c.AuthorName
	}
	return string(c.AuthorType)
}

// Match pairs a chunk with its raw distance to a query vector.
// Lists of matches are ordered by ascending distance, ties broken by
// ascending OrderIndex.
type Match struct {
	Chunk    TextChunk `json:"chunk"`
	Distance float64   `json:"distance"`
}

// ScoredChunk pairs a chunk with its normalized relevance score in [0,1].
type ScoredChunk struct {
	Chunk TextChunk `json:"chunk"`
	Score float64   `json:"score"`
}

// ConversationTurn is one entry of short-lived conversation memory.
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Source describes one retrieved chunk backing an answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Author  string  `json:"author,omitempty"`
}

// AnswerMetadata carries per-answer diagnostics. Error holds an internal
// failure marker; it is never echoed into the answer text.
type AnswerMetadata struct {
	AnswerID         string `json:"answer_id,omitempty"`
	ChunksRetrieved  int    `json:"chunks_retrieved"`
	Citations        []int  `json:"citations,omitempty"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	ContextTruncated bool   `json:"context_truncated,omitempty"`
	Cached           bool   `json:"cached"`
	Error            string `json:"error,omitempty"`
}

// Answer is the result of a retrieval-augmented generation call.
type Answer struct {
	Text       string         `json:"text"`
	Sources    []Source       `json:"sources"`
	Confidence float64        `json:"confidence"`
	Metadata   AnswerMetadata `json:"metadata"`
}

// Clone returns a deep copy so cached answers can never be mutated by
// callers.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := *a
	if a.Sources != nil {
		out.Sources = make([]Source, len(a.Sources))
		copy(out.Sources, a.Sources)
	}
	if a.Metadata.Citations != nil {
		out.Metadata.Citations = make([]int, len(a.Metadata.Citations))
		copy(out.Metadata.Citations, a.Metadata.Citations)
	}
	return &out
}

// CloneChunk deep-copies a chunk including its vector.
func CloneChunk(c TextChunk) TextChunk {
	out := c
	if c.Embedding != nil {
		out.Embedding = make([]float32, len(c.Embedding))
		copy(out.Embedding, c.Embedding)
	}
	return out
}

// CloneScored deep-copies a scored result list for cache ownership.
func CloneScored(results []ScoredChunk) []ScoredChunk {
	if len(results) == 0 {
		return nil
	}
	out := make([]ScoredChunk, len(results))
	for i, r := range results {
		out[i] = ScoredChunk{Chunk: CloneChunk(r.Chunk), Score: r.Score}
	}
	return out
}
