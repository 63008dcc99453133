package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/config"
)

func TestNewClientFailsFastWithoutKeys(t *testing.T) {
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderGemini, config.ProviderAnthropic} {
		t.Run(provider, func(t *testing.T) {
			_, err := NewClientWithOptions(context.Background(), Options{Provider: provider})
			assert.ErrorIs(t, err, ErrMissingCredentials)
		})
	}

	_, err := NewClientWithOptions(context.Background(), Options{Provider: "mistral"})
	assert.Error(t, err)

	c, err := NewClientWithOptions(context.Background(), Options{Provider: config.ProviderOllama})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestOllamaChatRoundTripsToolCalls(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"search_documents","arguments":{"query":"returns","skip":0}}}]},"done":true}`))
	}))
	defer server.Close()

	client := NewOllamaClient(Options{OllamaHost: server.URL, Model: "llama3.1:8b"})
	reply, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "How did the fund do?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "calculate_metrics"}}},
		{Role: RoleTool, Name: "calculate_metrics", ToolCallID: "c1", Content: "Total: +5.20%"},
	}, []ToolSpec{{Name: "search_documents", Description: "search", Parameters: json.RawMessage(`{"type":"object"}`)}})
	require.NoError(t, err)

	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "search_documents", reply.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"returns","skip":0}`, string(reply.ToolCalls[0].Arguments))
	assert.NotEmpty(t, reply.ToolCalls[0].ID)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "calculate_metrics", got.Messages[3].ToolName)
	assert.JSONEq(t, `{}`, string(got.Messages[2].ToolCalls[0].Function.Arguments))
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
}

func TestOllamaChatClassifiesErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", status)
	}))
	defer server.Close()

	client := NewOllamaClient(Options{OllamaHost: server.URL})
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, ErrTransport)

	status = http.StatusBadRequest
	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", system)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "q"}}, rest)
}

func TestToAnthropicMessagesGroupsToolResults(t *testing.T) {
	msgs := toAnthropicMessages([]Message{
		{Role: RoleUser, Content: "compare"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "x"}, {ID: "b", Name: "y"}}},
		{Role: RoleTool, ToolCallID: "a", Content: "one"},
		{Role: RoleTool, ToolCallID: "b", Content: "two"},
	})
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[2].Content, 2)

	msgs = toAnthropicMessages([]Message{
		{Role: RoleUser, Content: "compare"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "x"}}},
		{Role: RoleTool, ToolCallID: "a", Content: "one"},
		{Role: RoleUser, Content: "answer now"},
	})
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[2].Content, 2)
}

func TestClassifyGemini(t *testing.T) {
	assert.ErrorIs(t, classifyGemini(assert.AnError), assert.AnError)
	assert.NotErrorIs(t, classifyGemini(assert.AnError), ErrTransport)
	assert.ErrorIs(t, classifyGemini(errString("Error 429, RESOURCE_EXHAUSTED")), ErrTransport)
}

type errString string

func (e errString) Error() string { return string(e) }
