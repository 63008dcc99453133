// Package llm holds the chat clients used by the agent and the comment
// generator. Every provider speaks native tool calling.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/fundlens/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var (
	// ErrMissingCredentials is returned by NewClient when the selected
	// provider has no API key.
	ErrMissingCredentials = errors.New("llm credentials missing")
	// ErrTransport marks failures worth one retry: network errors,
	// timeouts, rate limits and 5xx responses.
	ErrTransport = errors.New("llm transport failure")
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolSpec describes a callable tool. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Client interface {
	// Chat sends the conversation and returns the assistant message. With
	// no tools the reply never carries tool calls.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error)
}

// Generate is a tool-less completion returning only the text.
func Generate(ctx context.Context, c Client, messages []Message) (string, error) {
	reply, err := c.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

type Options struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	OllamaHost      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	AnthropicAPIKey string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         cfg.LLM.Timeout,
		OllamaHost:      cfg.OllamaHost,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	}
}

func NewClient(ctx context.Context, cfg config.Config) (Client, error) {
	return NewClientWithOptions(ctx, OptionsFromConfig(cfg))
}

func NewClientWithOptions(ctx context.Context, opts Options) (Client, error) {
	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set: %w", ErrMissingCredentials)
		}
		return NewOpenAIClient(opts), nil
	case config.ProviderGemini:
		if opts.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set: %w", ErrMissingCredentials)
		}
		return NewGeminiClient(ctx, opts)
	case config.ProviderAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but ANTHROPIC_API_KEY not set: %w", ErrMissingCredentials)
		}
		return NewAnthropicClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

// splitSystem pulls system messages out for providers that take the
// system prompt as a separate parameter.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func transport(err error) error {
	return fmt.Errorf("%v: %w", err, ErrTransport)
}

// arguments normalises empty tool arguments to an empty object.
func arguments(raw json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
