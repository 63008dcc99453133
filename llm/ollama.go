package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ollamaClient struct {
	host        string
	model       string
	temperature float64
	client      *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &ollamaClient{
		host:        host,
		model:       opts.Model,
		temperature: opts.Temperature,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *ollamaClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Options:  map[string]any{"temperature": c.temperature},
	}
	for _, t := range tools {
		payload.Tools = append(payload.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Message{}, transport(fmt.Errorf("call ollama chat API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("ollama chat API returned status %s: %s", resp.Status, strings.TrimSpace(string(data)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Message{}, transport(err)
		}
		return Message{}, err
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Message{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return Message{}, fmt.Errorf("ollama chat error: %s", parsed.Error)
	}

	reply := Message{Role: RoleAssistant, Content: parsed.Message.Content}
	for _, call := range parsed.Message.ToolCalls {
		// ollama does not assign call ids
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      call.Function.Name,
			Arguments: arguments(call.Function.Arguments),
		})
	}
	return reply, nil
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		converted[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			converted[i].ToolName = m.Name
		}
		for _, call := range m.ToolCalls {
			converted[i].ToolCalls = append(converted[i].ToolCalls, ollamaToolCall{
				Function: ollamaToolFunction{Name: call.Name, Arguments: arguments(call.Arguments)},
			})
		}
	}
	return converted
}
