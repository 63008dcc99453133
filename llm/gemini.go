package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func NewGeminiClient(ctx context.Context, opts Options) (Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &geminiClient{
		client:      client,
		model:       model,
		temperature: float32(opts.Temperature),
		maxTokens:   int32(opts.MaxTokens),
	}, nil
}

func (c *geminiClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	system, rest := splitSystem(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents, err := toGeminiContents(rest)
	if err != nil {
		return Message{}, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return Message{}, classifyGemini(fmt.Errorf("gemini generate content: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Message{}, fmt.Errorf("gemini returned no candidates")
	}

	reply := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return Message{}, fmt.Errorf("encode gemini function args: %w", err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("%s_%d", part.FunctionCall.Name, len(reply.ToolCalls))
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: arguments(args)})
		case part.Text != "" && !part.Thought:
			text.WriteString(part.Text)
		}
	}
	reply.Content = text.String()
	return reply, nil
}

func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(arguments(call.Arguments), &args); err != nil {
					return nil, fmt.Errorf("decode tool arguments for %s: %w", call.Name, err)
				}
				content.Parts = append(content.Parts, genai.NewPartFromFunctionCall(call.Name, args))
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromFunctionResponse(m.Name, map[string]any{"output": m.Content})},
			})
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, nil
}

func classifyGemini(err error) error {
	msg := err.Error()
	for _, marker := range []string{"429", "RESOURCE_EXHAUSTED", "quota", "UNAVAILABLE", "500", "503", "deadline exceeded", "connection refused"} {
		if strings.Contains(msg, marker) {
			return transport(err)
		}
	}
	return err
}
