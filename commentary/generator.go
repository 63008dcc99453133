// Package commentary writes grounded fund comments from extracted report
// data and exports them.
package commentary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/agent"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/llm"
	"github.com/fabfab/fundlens/models"
)

// AgentRunner is the part of the agent orchestrator the generator uses.
type AgentRunner interface {
	Run(ctx context.Context, sessionID, input string, opts ...agent.RunOption) (agent.Reply, error)
	Reset(ctx context.Context, sessionID string) error
}

type Generator struct {
	client llm.Client
	runner AgentRunner
	logger *log.Logger
}

// New returns a generator. runner may be nil, in which case every comment
// is a single completion over the data context.
func New(client llm.Client, runner AgentRunner, logger *log.Logger) *Generator {
	return &Generator{client: client, runner: runner, logger: logging.OrDefault(logger)}
}

type generateOptions struct {
	docID string
}

type GenerateOption func(*generateOptions)

// ForDocument passes the document ID to the agent as a hint.
func ForDocument(docID string) GenerateOption {
	return func(o *generateOptions) { o.docID = docID }
}

// Generate writes a comment. The agent path is tried first when a runner
// is configured and any failure there falls back to a single completion.
func (g *Generator) Generate(ctx context.Context, data models.ExtractedData, params models.CommentParameters, additional string, opts ...GenerateOption) (string, error) {
	if g.client == nil {
		return "", errors.New("llm client is not configured")
	}
	params = params.Normalize()
	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}

	dataContext := WithAdditional(BuildDataContext(data, params), additional)
	system := SystemPrompt(params)
	user := UserPrompt(params, dataContext)

	if g.runner != nil {
		comment, err := g.viaAgent(ctx, system, user, o.docID)
		if err == nil {
			g.checkGrounding(comment, dataContext)
			return comment, nil
		}
		g.logger.Warn().Err(err).Str("doc_id", o.docID).Msg("agent comment failed, falling back to single completion")
	}

	comment, err := g.singleShot(ctx, system, user)
	if err != nil {
		return "", err
	}
	g.checkGrounding(comment, dataContext)
	return comment, nil
}

func (g *Generator) viaAgent(ctx context.Context, system, user, docID string) (string, error) {
	session := "comment-" + uuid.NewString()
	defer func() {
		if err := g.runner.Reset(context.WithoutCancel(ctx), session); err != nil {
			g.logger.Debug().Err(err).Str("session_id", session).Msg("reset comment session")
		}
	}()

	var runOpts []agent.RunOption
	if docID != "" {
		runOpts = append(runOpts, agent.WithDocumentHint(docID))
	}
	reply, err := g.runner.Run(ctx, session, system+"\n\n"+user, runOpts...)
	if err != nil {
		return "", fmt.Errorf("run agent: %w", err)
	}
	answer := strings.TrimSpace(reply.Answer)
	if answer == "" {
		return "", errors.New("agent returned an empty comment")
	}
	return answer, nil
}

func (g *Generator) singleShot(ctx context.Context, system, user string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	text, err := llm.Generate(ctx, g.client, messages)
	if errors.Is(err, llm.ErrTransport) {
		g.logger.Warn().Err(err).Msg("comment completion failed, retrying once")
		text, err = llm.Generate(ctx, g.client, messages)
	}
	if err != nil {
		return "", fmt.Errorf("generate comment: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("generate comment: empty completion")
	}
	return text, nil
}

func (g *Generator) checkGrounding(comment, dataContext string) {
	missing := UngroundedFigures(comment, dataContext)
	if len(missing) == 0 {
		return
	}
	g.logger.Warn().Strs("figures", missing).Msg("comment contains figures not found in the source data")
}
