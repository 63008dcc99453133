package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/database"
	"github.com/fabfab/fundlens/llm"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	turn := []llm.Message{
		{Role: llm.RoleUser, Content: "What was the return?"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search_documents", Arguments: json.RawMessage(`{"query":"return"}`)}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Name: "search_documents", Content: "[Result 1] ..."},
		{Role: llm.RoleAssistant, Content: "The fund returned 5.2%."},
	}
	require.NoError(t, store.Append(ctx, "s1", turn...))
	require.NoError(t, store.Append(ctx, "s2", llm.Message{Role: llm.RoleUser, Content: "other session"}))
	require.NoError(t, store.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: "And the benchmark?"}))

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, turn[0], got[0])
	assert.Equal(t, "search_documents", got[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"return"}`, string(got[1].ToolCalls[0].Arguments))
	assert.Equal(t, turn[2], got[2])
	assert.Equal(t, "And the benchmark?", got[4].Content)

	require.NoError(t, store.Clear(ctx, "s1"))
	got, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.Load(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemory())
}

func TestSQLiteStore(t *testing.T) {
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	exerciseStore(t, NewSQLiteStore(db))
}

func TestInMemoryLoadReturnsCopy(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "s", llm.Message{Role: llm.RoleUser, Content: "a"}))

	got, err := store.Load(ctx, "s")
	require.NoError(t, err)
	got[0].Content = "mutated"

	again, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Content)
}
