// Package llmtest provides a scripted chat client for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/fabfab/fundlens/llm"
)

// Step is one scripted reply. When Err is set it is returned instead.
type Step struct {
	Reply llm.Message
	Err   error
}

// Scripted replays Steps in order. Once the script runs out, Fallback is
// called, or the last step repeats. Every request is recorded.
type Scripted struct {
	Steps    []Step
	Fallback func(messages []llm.Message, tools []llm.ToolSpec) (llm.Message, error)

	mu    sync.Mutex
	Calls []Call
}

type Call struct {
	Messages []llm.Message
	Tools    []llm.ToolSpec
}

var _ llm.Client = (*Scripted)(nil)

func (s *Scripted) Chat(_ context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := append([]llm.Message(nil), messages...)
	i := len(s.Calls)
	s.Calls = append(s.Calls, Call{Messages: snapshot, Tools: tools})

	if i >= len(s.Steps) {
		if s.Fallback != nil {
			return s.Fallback(snapshot, tools)
		}
		if len(s.Steps) == 0 {
			return llm.Message{}, errors.New("llmtest: empty script")
		}
		i = len(s.Steps) - 1
	}
	step := s.Steps[i]
	if step.Err != nil {
		return llm.Message{}, step.Err
	}
	reply := step.Reply
	if reply.Role == "" {
		reply.Role = llm.RoleAssistant
	}
	return reply, nil
}

func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Text is a final assistant reply.
func Text(content string) Step {
	return Step{Reply: llm.Message{Role: llm.RoleAssistant, Content: content}}
}

// ToolCall is an assistant reply invoking one tool with args marshalled
// to JSON.
func ToolCall(id, name string, args any) Step {
	raw, _ := json.Marshal(args)
	return Step{Reply: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: raw}},
	}}
}

func Fail(err error) Step {
	return Step{Err: err}
}
