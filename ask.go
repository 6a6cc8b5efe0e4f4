package ragcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/embedding"
	"github.com/threadwise/ragcore/llm"
	"github.com/threadwise/ragcore/metrics"
	"github.com/threadwise/ragcore/schema"
)

const (
	minQueryLen = 3
	maxQueryLen = 1000

	noContextAnswer = "I couldn't find relevant information to answer your question."
	failureAnswer   = "I'm unable to answer this question right now. Please try again."

	truncationMarker = "[... context truncated ...]"
)

// Confidence heuristics. Tunable, not load-bearing.
const (
	confidenceBase       = 0.45
	citationBonus        = 0.35
	shortAnswerPenalty   = 0.15
	uncertaintyPenalty   = 0.20
	uncitedConfidenceCap = 0.80
	shortAnswerWordBound = 20
)

var uncertaintyPhrases = []string{"i don't know", "not sure", "cannot find"}

var citationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// AskRequest is one question to the pipeline.
type AskRequest struct {
	Query string
	// ConversationID enables conversation memory; empty means stateless.
	ConversationID string
	// TopK overrides the configured retrieval size when positive.
	TopK    int
	Filters map[string]string
}

// Ask runs the full pipeline: sanitize, embed, retrieve, rank, assemble,
// generate, postprocess, remember, cache. Only sanitization failures are
// returned as errors; every later failure degrades into a structured
// zero-confidence answer.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*schema.Answer, error) {
	start := time.Now()
	query, err := sanitizeQuery(req.Query)
	if err != nil {
		return nil, err
	}
	topK := c.clampTopK(req.TopK)

	record := metrics.NewAskMetrics()
	record.QueryID = uuid.NewString()
	record.ConversationID = req.ConversationID

	history, err := c.conversations.History(ctx, req.ConversationID)
	if err != nil {
		logger.Warnf("load conversation history failed, err: %v", err)
		history = nil
	}
	// history makes the query non-idempotent, so cached answers only
	// apply to fresh conversations
	cacheable := len(history) == 0
	key := answerCacheKey(query, topK, req.ConversationID, req.Filters)

	if cacheable {
		if val, ok := c.respCache.Get(key); ok {
			if cached, ok := val.(*schema.Answer); ok {
				metrics.IncCacheEvent("answer", "hit")
				answer := cached.Clone()
				answer.Metadata.Cached = true
				answer.Metadata.LatencyMs = time.Since(start).Milliseconds()
				c.finishAsk(ctx, start, record, answer, req.ConversationID, query)
				return answer, nil
			}
		}
		metrics.IncCacheEvent("answer", "miss")
	}

	record.EmbeddingCached = c.embedCache != nil && c.embedCache.Exists(embedding.Key(query))

	results, err := c.retrieve(ctx, query, topK, req.Filters)
	if err != nil {
		logger.Errorf("retrieval failed, err: %v", err)
		answer := c.degradedAnswer(failureAnswer, err)
		c.finishAsk(ctx, start, record, answer, req.ConversationID, query)
		return answer, nil
	}
	record.ChunksRetrieved = len(results)

	if len(results) == 0 {
		answer := c.degradedAnswer(noContextAnswer, nil)
		c.finishAsk(ctx, start, record, answer, req.ConversationID, query)
		return answer, nil
	}

	contextText, contextTokens, truncated := c.assembleContext(results)
	record.ContextTokens = contextTokens
	record.ContextTruncated = truncated

	if c.llmProvider == nil {
		answer := c.degradedAnswer(failureAnswer, fmt.Errorf("llm provider not initialized"))
		answer.Sources = sourcesFromResults(results)
		answer.Metadata.ChunksRetrieved = len(results)
		c.finishAsk(ctx, start, record, answer, req.ConversationID, query)
		return answer, nil
	}

	prompt := llm.BuildPrompt(query, []string{contextText}, "\n\n")
	completion, err := c.llmProvider.GenerateCompletion(ctx, prompt)
	if err != nil {
		logger.Errorf("generate completion failed, err: %v", err)
		answer := c.degradedAnswer(failureAnswer, err)
		answer.Sources = sourcesFromResults(results)
		answer.Metadata.ChunksRetrieved = len(results)
		c.finishAsk(ctx, start, record, answer, req.ConversationID, query)
		return answer, nil
	}
	metrics.AddLLMTokens(completion.PromptTokens, completion.CompletionTokens)
	c.usage.RecordTokens(completion.PromptTokens, completion.CompletionTokens)

	citations := extractCitations(completion.Text)
	confidence := computeConfidence(completion.Text, citations)

	answer := &schema.Answer{
		Text:       completion.Text,
		Sources:    sourcesFromResults(results),
		Confidence: confidence,
		Metadata: schema.AnswerMetadata{
			AnswerID:         uuid.NewString(),
			ChunksRetrieved:  len(results),
			Citations:        citations,
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			ContextTruncated: truncated,
		},
	}
	record.PromptTokens = completion.PromptTokens
	record.CompletionTokens = completion.CompletionTokens
	record.Success = true

	if cacheable && confidence >= c.config.RAG.MinCacheConfidence {
		if !c.respCache.Set(key, answer.Clone(), c.respTTL) {
			logger.Warnf("answer cache write failed for key %s", key)
		}
	}

	c.finishAsk(ctx, start, record, answer, req.ConversationID, query)
	return answer, nil
}

// finishAsk stamps latency, records memory and metrics.
func (c *Client) finishAsk(ctx context.Context, start time.Time, record *metrics.AskMetrics, answer *schema.Answer, conversationID, query string) {
	if answer.Metadata.LatencyMs == 0 {
		answer.Metadata.LatencyMs = time.Since(start).Milliseconds()
	}
	if conversationID != "" {
		if err := c.conversations.AppendTurn(ctx, conversationID, schema.ConversationTurn{Role: "user", Content: query}); err != nil {
			logger.Warnf("append user turn failed, err: %v", err)
		}
		if err := c.conversations.AppendTurn(ctx, conversationID, schema.ConversationTurn{Role: "assistant", Content: answer.Text}); err != nil {
			logger.Warnf("append assistant turn failed, err: %v", err)
		}
	}

	record.ResponseCached = answer.Metadata.Cached
	record.ChunksUsed = len(answer.Sources)
	record.Confidence = answer.Confidence
	record.TotalLatencyMs = answer.Metadata.LatencyMs
	if record.ErrorMsg == "" {
		record.ErrorMsg = answer.Metadata.Error
	}
	record.Success = answer.Metadata.Error == ""
	record.LogJSON()

	metrics.ObserveAsk(start, record.ChunksRetrieved)
	c.usage.RecordAsk(answer.Metadata.Cached)
}

// degradedAnswer builds a zero-confidence answer. The internal error is
// recorded in metadata only, never in the answer text.
func (c *Client) degradedAnswer(text string, cause error) *schema.Answer {
	md := schema.AnswerMetadata{AnswerID: uuid.NewString()}
	if cause != nil {
		md.Error = cause.Error()
	}
	return &schema.Answer{
		Text:       text,
		Sources:    []schema.Source{},
		Confidence: 0,
		Metadata:   md,
	}
}

// sanitizeQuery trims, collapses whitespace runs and bounds length.
// Over-length queries are truncated rather than rejected.
func sanitizeQuery(query string) (string, error) {
	cleaned := strings.Join(strings.Fields(query), " ")
	if len(cleaned) < minQueryLen {
		return "", &schema.ValidationError{Field: "query", Message: fmt.Sprintf("must be at least %d characters", minQueryLen)}
	}
	if len(cleaned) > maxQueryLen {
		cleaned = cleaned[:runeSafeCut(cleaned, maxQueryLen)]
	}
	return cleaned, nil
}

// assembleContext renders retrieved chunks as numbered source entries and
// enforces the token budget by truncating from the tail. It returns the
// rendered text, its token count and whether truncation happened.
func (c *Client) assembleContext(results []schema.ScoredChunk) (string, int, bool) {
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "[Source %d] %s: %s\n", i+1, res.Chunk.Author(), res.Chunk.Text)
	}
	text := b.String()

	budget := c.config.RAG.MaxContextTokens
	tokens := countTokens(text)
	if budget <= 0 || tokens <= budget {
		return text, tokens, false
	}

	// binary search the longest prefix that fits the budget with the
	// marker appended
	markerCost := countTokens(truncationMarker)
	lo, hi := 0, len(text)
	for lo < hi {
		mid := runeSafeCut(text, (lo+hi+1)/2)
		if mid <= lo {
			break
		}
		if countTokens(text[:mid])+markerCost <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	truncated := text[:runeSafeCut(text, lo)] + truncationMarker
	return truncated, countTokens(truncated), true
}

// runeSafeCut backs a byte offset off to the nearest rune start so that
// slicing at it never splits a multibyte character.
func runeSafeCut(s string, cut int) int {
	if cut >= len(s) {
		return len(s)
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// countTokens uses the cl100k_base tokenizer when available and falls
// back to the chars/4 approximation.
func countTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warnf("load tokenizer failed, using approximate counting, err: %v", err)
			return
		}
		tokenizer = enc
	})
	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// extractCitations collects [Source N] markers in appearance order,
// duplicates preserved.
func extractCitations(text string) []int {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	citations := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		citations = append(citations, n)
	}
	return citations
}

// computeConfidence scores an answer on citation presence, length and
// uncertainty phrasing, clamped to [0, 1].
func computeConfidence(text string, citations []int) float64 {
	confidence := confidenceBase
	if len(citations) > 0 {
		confidence += citationBonus
	}
	if len(strings.Fields(text)) < shortAnswerWordBound {
		confidence -= shortAnswerPenalty
	}
	lower := strings.ToLower(text)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			confidence -= uncertaintyPenalty
			break
		}
	}
	if len(citations) == 0 && confidence > uncitedConfidenceCap {
		confidence = uncitedConfidenceCap
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func sourcesFromResults(results []schema.ScoredChunk) []schema.Source {
	sources := make([]schema.Source, 0, len(results))
	for _, res := range results {
		sources = append(sources, schema.Source{
			ChunkID: res.Chunk.ID,
			Text:    res.Chunk.Text,
			Score:   res.Score,
			Author:  res.Chunk.Author(),
		})
	}
	return sources
}

func answerCacheKey(query string, topK int, conversationID string, filters map[string]string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	base := fmt.Sprintf("%s|%d|%s|%s", normalized, topK, conversationID, filtersSignature(filters))
	sum := sha256.Sum256([]byte(base))
	return "answer:" + hex.EncodeToString(sum[:])[:32]
}
