// Package mcpserver serves the tool registry to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"codegen-agent/internal/domain"
)

// ToolSource supplies the tools to serve.
type ToolSource interface {
	Tools() []domain.Tool
}

// Server wraps an MCP server with one handler per registry tool.
type Server struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// New builds a server advertising every tool in src.
func New(name, version string, src ToolSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		logger: logger,
	}
	for _, t := range src.Tools() {
		schema := t.Schema().Parameters
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), s.handler(t))
	}
	return s
}

// MCP exposes the underlying server, mainly for in-process clients.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio answers JSON-RPC requests from in on out until in closes or
// ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) handler(t domain.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		res, err := t.Execute(ctx, raw)
		if err != nil {
			s.logger.Warn("mcp tool call failed", "tool", t.Name(), "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Debug("mcp tool call",
			"tool", t.Name(),
			"is_error", res.IsError,
			"duration", time.Since(start))
		if res.IsError {
			return mcp.NewToolResultError(res.Content), nil
		}
		return mcp.NewToolResultText(res.Content), nil
	}
}
