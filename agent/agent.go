// Package agent runs the tool-calling loop that answers analyst questions
// over the indexed reports.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/llm"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/memory"
	"github.com/fabfab/fundlens/tools"
)

const DefaultMaxIterations = 15

// State names the phase a turn is in. Used for logging.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StatePlanning      State = "planning"
	StateToolCall      State = "tool_call"
	StateObserving     State = "observing"
	StateFinalizing    State = "finalizing"
	StateDone          State = "done"
)

type Config struct {
	MaxIterations int
	// Timeout bounds a whole turn. Zero means no bound beyond ctx.
	Timeout      time.Duration
	SystemPrompt string
	// ExhaustiveSearch follows every paged search result until it is
	// complete or the iteration bound is hit, instead of leaving paging to
	// the model.
	ExhaustiveSearch bool
}

// Step is one tool invocation and what it returned.
type Step struct {
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments"`
	Observation string          `json:"observation"`
	Failure     *tools.Failure  `json:"failure,omitempty"`
	// Auto marks follow-up pages fetched by ExhaustiveSearch.
	Auto bool `json:"auto,omitempty"`
}

type Reply struct {
	Answer       string `json:"answer"`
	Steps        []Step `json:"steps"`
	Iterations   int    `json:"iterations"`
	BoundReached bool   `json:"bound_reached"`
}

// TurnError reports a turn that could not complete. Memory is unchanged
// when it is returned.
type TurnError struct {
	SessionID string
	State     State
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("agent turn failed while %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

type Orchestrator struct {
	client   llm.Client
	registry *tools.Registry
	memory   memory.Store
	cfg      Config
	logger   *log.Logger
}

func New(client llm.Client, registry *tools.Registry, mem memory.Store, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if mem == nil {
		mem = memory.NewInMemory()
	}
	return &Orchestrator{
		client:   client,
		registry: registry,
		memory:   mem,
		cfg:      cfg,
		logger:   logging.OrDefault(logger),
	}
}

type runOptions struct {
	docID string
}

type RunOption func(*runOptions)

// WithDocumentHint tells the model which document the analyst is looking
// at without restricting its searches to it.
func WithDocumentHint(docID string) RunOption {
	return func(o *runOptions) { o.docID = docID }
}

// Run answers one user input. The whole turn, meaning the user message,
// the assistant tool calls with their observations and the final answer,
// is appended to the session memory only when the turn completes.
func (o *Orchestrator) Run(ctx context.Context, sessionID, input string, opts ...RunOption) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, errors.New("input cannot be empty")
	}
	if o.client == nil {
		return Reply{}, errors.New("llm client is not configured")
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	fail := func(state State, err error) (Reply, error) {
		return Reply{}, &TurnError{SessionID: sessionID, State: state, Err: err}
	}

	history, err := o.memory.Load(ctx, sessionID)
	if err != nil {
		return fail(StateAwaitingInput, fmt.Errorf("load memory: %w", err))
	}

	prompt := input
	if ro.docID != "" {
		prompt = fmt.Sprintf("[Current document ID for reference: %s - but search ALL content, don't filter by doc_id unless specifically needed]\n\n%s", ro.docID, input)
	}
	userMsg := llm.Message{Role: llm.RoleUser, Content: prompt}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.cfg.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, userMsg)

	var specs []llm.ToolSpec
	if o.registry != nil {
		specs = o.registry.Specs()
	}

	start := time.Now()
	var reply Reply
	answered := false
	for reply.Iterations < o.cfg.MaxIterations {
		reply.Iterations++
		o.trace(sessionID, StatePlanning, reply.Iterations)

		msg, err := o.client.Chat(ctx, messages, specs)
		if err != nil {
			return fail(StatePlanning, err)
		}
		if len(msg.ToolCalls) == 0 {
			reply.Answer = strings.TrimSpace(msg.Content)
			answered = true
			break
		}

		msg.Role = llm.RoleAssistant
		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			o.trace(sessionID, StateToolCall, reply.Iterations)
			observation := o.callTool(ctx, call, &reply)
			o.trace(sessionID, StateObserving, reply.Iterations)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    observation,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	// the finalize instruction below is not part of the conversation
	turn := append([]llm.Message(nil), messages[1+len(history):]...)

	if !answered {
		reply.BoundReached = true
		o.trace(sessionID, StateFinalizing, reply.Iterations)
		o.logger.Warn().Str("session_id", sessionID).Int("iterations", reply.Iterations).Msg("iteration bound reached, finalizing without tools")

		// Tools stay declared because some providers reject tool history
		// without them; any further calls are ignored.
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: finalizePrompt})
		msg, err := o.client.Chat(ctx, messages, specs)
		if err != nil {
			return fail(StateFinalizing, err)
		}
		reply.Answer = strings.TrimSpace(msg.Content)
	}

	if reply.Answer == "" {
		reply.Answer = fallbackAnswer(reply.Steps)
	}

	turn = append(turn, llm.Message{Role: llm.RoleAssistant, Content: reply.Answer})
	if err := o.memory.Append(ctx, sessionID, turn...); err != nil {
		return fail(StateDone, fmt.Errorf("save memory: %w", err))
	}

	o.logger.Info().
		Str("session_id", sessionID).
		Int("iterations", reply.Iterations).
		Int("tool_calls", len(reply.Steps)).
		Bool("bound_reached", reply.BoundReached).
		Dur("took", time.Since(start)).
		Msg("agent turn complete")
	return reply, nil
}

// callTool runs one tool call and, with ExhaustiveSearch, its follow-up
// pages. It returns the observation text for the model.
func (o *Orchestrator) callTool(ctx context.Context, call llm.ToolCall, reply *Reply) string {
	if o.registry == nil {
		return fmt.Sprintf("Tool '%s' error: no tools are configured", call.Name)
	}

	res := o.registry.Call(ctx, call.Name, call.Arguments)
	observation := res.Observation(call.Name)
	reply.Steps = append(reply.Steps, Step{Tool: call.Name, Arguments: call.Arguments, Observation: observation, Failure: res.Failure})

	if !o.cfg.ExhaustiveSearch {
		return observation
	}

	parts := []string{observation}
	for res.Failure == nil && res.Next != nil && reply.Iterations < o.cfg.MaxIterations {
		reply.Iterations++
		args := res.Next
		res = o.registry.Call(ctx, call.Name, args)
		page := res.Observation(call.Name)
		reply.Steps = append(reply.Steps, Step{Tool: call.Name, Arguments: args, Observation: page, Failure: res.Failure, Auto: true})
		parts = append(parts, page)
	}
	return strings.Join(parts, "\n\n")
}

func (o *Orchestrator) trace(sessionID string, state State, iteration int) {
	o.logger.Debug().Str("session_id", sessionID).Str("state", string(state)).Int("iteration", iteration).Msg("agent")
}

// fallbackAnswer is used when the model returns nothing: the last tool
// observation is better than an empty reply.
func fallbackAnswer(steps []Step) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Failure == nil && strings.TrimSpace(steps[i].Observation) != "" {
			return observationIntro + steps[i].Observation
		}
	}
	return emptyAnswer
}

// Reset forgets the session's conversation.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if err := o.memory.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear memory: %w", err)
	}
	return nil
}

func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	history, err := o.memory.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	return history, nil
}
