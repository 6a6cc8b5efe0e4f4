package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwise/ragcore/schema"
)

func TestInMemoryStore_AppendAndHistory(t *testing.T) {
	store := NewInMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, "c1", schema.ConversationTurn{Role: "user", Content: "hello"}))
	require.NoError(t, store.AppendTurn(ctx, "c1", schema.ConversationTurn{Role: "assistant", Content: "hi there"}))

	turns, err := store.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestInMemoryStore_TrimsOldestBeyondLimit(t *testing.T) {
	store := NewInMemoryStore(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTurn(ctx, "c1", schema.ConversationTurn{Role: "user", Content: fmt.Sprintf("q%d", i)}))
		require.NoError(t, store.AppendTurn(ctx, "c1", schema.ConversationTurn{Role: "assistant", Content: fmt.Sprintf("a%d", i)}))
	}

	turns, err := store.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "q3", turns[0].Content)
	assert.Equal(t, "a4", turns[3].Content)
}

func TestInMemoryStore_HistoryReturnsCopy(t *testing.T) {
	store := NewInMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, "c1", schema.ConversationTurn{Role: "user", Content: "original"}))

	turns, err := store.History(ctx, "c1")
	require.NoError(t, err)
	turns[0].Content = "mutated"

	again, err := store.History(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestInMemoryStore_ClearIsolatesConversations(t *testing.T) {
	store := NewInMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, "c1", schema.ConversationTurn{Role: "user", Content: "one"}))
	require.NoError(t, store.AppendTurn(ctx, "c2", schema.ConversationTurn{Role: "user", Content: "two"}))

	require.NoError(t, store.Clear(ctx, "c1"))

	turns, err := store.History(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = store.History(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	require.NoError(t, store.ClearAll(ctx))
	turns, err = store.History(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestInMemoryStore_EmptyConversationIDIsNoop(t *testing.T) {
	store := NewInMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, "", schema.ConversationTurn{Role: "user", Content: "anon"}))
	turns, err := store.History(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
