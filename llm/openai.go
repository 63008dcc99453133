package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &openAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(opts.Temperature),
		maxTokens:   opts.MaxTokens,
	}
}

func (c *openAIClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == RoleTool {
			m.Name = msg.Name
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(arguments(call.Arguments)),
				},
			})
		}
		req.Messages[i] = m
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Message{}, classifyOpenAI(fmt.Errorf("create openai chat completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("openai chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	reply := Message{Role: RoleAssistant, Content: choice.Content}
	for _, call := range choice.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments([]byte(call.Function.Arguments)),
		})
	}
	return reply, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	status := 0
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.Is(err, context.Canceled):
		return err
	default:
		return transport(err)
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return transport(err)
	}
	return err
}
