// Package memory keeps short-term conversation history per conversation ID.
package memory

import (
	"context"
	"sync"

	"github.com/threadwise/ragcore/schema"
)

// ConversationStore provides storage and retrieval for conversation turns.
type ConversationStore interface {
	// AppendTurn records one turn at the end of the conversation.
	AppendTurn(ctx context.Context, conversationID string, turn schema.ConversationTurn) error

	// History returns the stored turns in chronological order.
	History(ctx context.Context, conversationID string) ([]schema.ConversationTurn, error)

	// Clear removes all turns for a single conversation.
	Clear(ctx context.Context, conversationID string) error

	// ClearAll removes every stored conversation.
	ClearAll(ctx context.Context) error
}

// InMemoryStore keeps conversations in process memory. Suitable for
// development and single-instance deployments.
type InMemoryStore struct {
	mu sync.RWMutex
	// conversations maps conversation ID to its turns, oldest first.
	conversations map[string][]schema.ConversationTurn
	// maxMessages bounds user messages per conversation; each message
	// contributes a user and an assistant turn.
	maxMessages int
}

// NewInMemoryStore creates an in-memory conversation store bounded to
// maxMessages exchanges per conversation.
func NewInMemoryStore(maxMessages int) *InMemoryStore {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	return &InMemoryStore{
		conversations: make(map[string][]schema.ConversationTurn),
		maxMessages:   maxMessages,
	}
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, conversationID string, turn schema.ConversationTurn) error {
	if conversationID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.conversations[conversationID], turn)
	if max := s.maxMessages * 2; len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	s.conversations[conversationID] = turns
	return nil
}

func (s *InMemoryStore) History(ctx context.Context, conversationID string) ([]schema.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.conversations[conversationID]
	out := make([]schema.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

func (s *InMemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string][]schema.ConversationTurn)
	return nil
}
