// Package mcpserver exposes the agent's tools to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/tools"
)

const Name = "fundlens"

// New registers every tool of the registry with its reflected input schema.
func New(registry *tools.Registry, version string, logger *log.Logger) *server.MCPServer {
	logger = logging.OrDefault(logger)
	s := server.NewMCPServer(Name, version, server.WithToolCapabilities(false))
	for _, t := range registry.Tools() {
		s.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.Schema()), handler(registry, t.Name(), logger))
	}
	return s
}

// Serve blocks answering requests on stdin and stdout.
func Serve(s *server.MCPServer) error {
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("serve mcp: %w", err)
	}
	return nil
}

// handler adapts a registry tool. Tool failures are returned as error
// results so the client model sees them, matching what the agent sees.
func handler(registry *tools.Registry, name string, logger *log.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return nil, fmt.Errorf("encode %s arguments: %w", name, err)
		}
		res := registry.Call(ctx, name, args)
		if res.Failure != nil {
			logger.Warn().Str("tool", name).Str("kind", string(res.Failure.Kind)).Msg("mcp tool call failed")
			return mcp.NewToolResultError(res.Observation(name)), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}
