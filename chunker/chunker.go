// Package chunker turns ordered conversation messages into bounded,
// ordered text chunks ready for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// Chunker splits message lists into chunks. A chunk closes when the
// speaker changes (if enabled) or when appending the next message would
// exceed the size bound.
type Chunker struct {
	maxChunkSize         int
	splitOnSpeakerChange bool
}

// New creates a Chunker from configuration, applying defaults for unset
// values.
func New(cfg config.ChunkingConfig) *Chunker {
	size := cfg.MaxChunkSize
	if size <= 0 {
		size = 1000
	}
	if size > schema.MaxChunkTextLen {
		size = schema.MaxChunkTextLen
	}
	return &Chunker{
		maxChunkSize:         size,
		splitOnSpeakerChange: cfg.SpeakerSplit(),
	}
}

// Chunk converts messages into chunks for the given conversation.
// Emitted OrderIndex values are contiguous starting at 0; downstream
// ranking tie-breaks depend on that.
func (c *Chunker) Chunk(parentID string, messages []schema.Message) ([]schema.TextChunk, error) {
	if len(messages) == 0 {
		return nil, &schema.ValidationError{Field: "messages", Message: "message list is empty"}
	}

	var (
		chunks  []schema.TextChunk
		buf     strings.Builder
		current schema.Message
		started bool
	)

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, schema.TextChunk{
			ParentID:   parentID,
			OrderIndex: uint32(len(chunks)),
			Text:       buf.String(),
			AuthorName: current.AuthorName,
			AuthorType: current.AuthorType,
			Timestamp:  current.Timestamp,
		})
		buf.Reset()
	}

	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		line := fmt.Sprintf("%s: %s\n", msg.Author(), text)

		if started && c.splitOnSpeakerChange && msg.Author() != current.Author() {
			flush()
		}
		if buf.Len() > 0 && buf.Len()+len(line) > c.maxChunkSize {
			flush()
		}

		// a single message larger than the bound is hard-split so no
		// chunk ever exceeds maxChunkSize
		if len(line) > c.maxChunkSize {
			flush()
			current = msg
			started = true
			for _, piece := range splitByLength(line, c.maxChunkSize) {
				buf.WriteString(piece)
				flush()
			}
			continue
		}

		buf.WriteString(line)
		current = msg
		started = true
	}
	flush()

	if len(chunks) == 0 {
		return nil, &schema.ValidationError{Field: "messages", Message: "no chunks produced, all messages empty"}
	}
	return chunks, nil
}

// splitByLength cuts s into pieces of at most max bytes, backing off to
// rune boundaries so multi-byte characters are never split.
func splitByLength(s string, max int) []string {
	var parts []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
