package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewAnthropicClient(opts Options) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.AnthropicAPIKey)}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	model := opts.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &anthropicClient{
		client:      anthropic.NewClient(reqOpts...),
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
	}
}

type inputSchema struct {
	Properties any      `json:"properties"`
	Required   []string `json:"required"`
}

func (c *anthropicClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	system, rest := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    toAnthropicMessages(rest),
		Temperature: anthropic.Float(c.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, t := range tools {
		var schema inputSchema
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return Message{}, fmt.Errorf("decode schema for tool %s: %w", t.Name, err)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema.Properties, Required: schema.Required},
		}})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Message{}, classifyAnthropic(fmt.Errorf("anthropic create message: %w", err))
	}

	reply := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: arguments(block.Input)})
		}
	}
	reply.Content = text.String()
	return reply, nil
}

// toAnthropicMessages merges consecutive tool results into one user turn,
// which the API requires after a multi-call assistant turn.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, arguments(call.Arguments), call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			// text following tool results joins their user turn
			if len(results) > 0 {
				results = append(results, anthropic.NewTextBlock(m.Content))
				flush()
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return out
}

func classifyAnthropic(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return transport(err)
	}
	// 529 is the overloaded status
	if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
		return transport(err)
	}
	return err
}
