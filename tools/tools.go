// Package tools defines the functions the agent may call. Each tool takes
// a typed, validated argument struct and returns plain text.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/llm"
	"github.com/fabfab/fundlens/logging"
)

type FailureKind string

const (
	FailureInvalidArguments FailureKind = "invalid_arguments"
	FailureUnknownTool      FailureKind = "unknown_tool"
	FailureExecution        FailureKind = "execution"
	FailureTimeout          FailureKind = "timeout"
)

// Failure is a tool error the agent sees as an observation.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Result is either tool output or a Failure, never both. Next, when set,
// holds the arguments of a follow-up call that continues a paged result.
type Result struct {
	Output  string
	Next    json.RawMessage
	Failure *Failure
}

// Observation is the text handed back to the model.
func (r Result) Observation(tool string) string {
	if r.Failure != nil {
		return fmt.Sprintf("Tool '%s' error: %s", tool, r.Failure.Message)
	}
	return r.Output
}

type Output struct {
	Text string
	Next json.RawMessage
}

type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Call(ctx context.Context, args json.RawMessage) (Output, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// invalidArgs marks decode and validation errors so the registry can tell
// them apart from execution failures.
type invalidArgs struct{ err error }

func (e invalidArgs) Error() string { return e.err.Error() }
func (e invalidArgs) Unwrap() error { return e.err }

type typed[In any] struct {
	name        string
	description string
	schema      json.RawMessage
	run         func(context.Context, In) (Output, error)
}

// New builds a Tool whose input schema is reflected from In. Fields
// without omitempty are required.
func New[In any](name, description string, run func(context.Context, In) (string, error)) Tool {
	return NewPaged(name, description, func(ctx context.Context, in In) (Output, error) {
		text, err := run(ctx, in)
		return Output{Text: text}, err
	})
}

// NewPaged is New for tools that can point at their next page.
func NewPaged[In any](name, description string, run func(context.Context, In) (Output, error)) Tool {
	return &typed[In]{
		name:        name,
		description: description,
		schema:      schemaFor[In](),
		run:         run,
	}
}

func schemaFor[In any]() json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, AllowAdditionalProperties: true}
	s := r.Reflect(new(In))
	s.Version = ""
	s.ID = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return raw
}

func (t *typed[In]) Name() string            { return t.name }
func (t *typed[In]) Description() string     { return t.description }
func (t *typed[In]) Schema() json.RawMessage { return t.schema }

func (t *typed[In]) Call(ctx context.Context, args json.RawMessage) (Output, error) {
	var in In
	if len(strings.TrimSpace(string(args))) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return Output{}, invalidArgs{fmt.Errorf("decode arguments: %w", err)}
		}
	}
	if err := validate.Struct(in); err != nil {
		return Output{}, invalidArgs{describeValidation(err)}
	}
	return t.run(ctx, in)
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

type Registry struct {
	tools   map[string]Tool
	timeout time.Duration
	logger  *log.Logger
}

type RegistryOption func(*Registry)

// WithCallTimeout bounds every tool call. Zero disables the bound.
func WithCallTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

func NewRegistry(logger *log.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		timeout: 60 * time.Second,
		logger:  logging.OrDefault(logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; ok {
			return fmt.Errorf("tool %q registered twice", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Specs() []llm.ToolSpec {
	tools := r.Tools()
	specs := make([]llm.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = llm.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
	}
	return specs
}

// Call runs a tool. It never returns a Go error: every problem becomes a
// Failure so the agent loop can keep going.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) Result {
	t, ok := r.tools[name]
	if !ok {
		return Result{Failure: &Failure{Kind: FailureUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := t.Call(ctx, args)
	if err == nil {
		r.logger.Debug().Str("tool", name).Int("output_length", len(out.Text)).Dur("took", time.Since(start)).Msg("tool call")
		return Result{Output: out.Text, Next: out.Next}
	}

	kind := FailureExecution
	var ia invalidArgs
	switch {
	case errors.As(err, &ia):
		kind = FailureInvalidArguments
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
	}
	r.logger.Warn().Err(err).Str("tool", name).Str("kind", string(kind)).Msg("tool call failed")
	return Result{Failure: &Failure{Kind: kind, Message: err.Error()}}
}
