// Package mcpserver publishes a toolbox over the Model Context Protocol using
// the official MCP Go SDK.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/germanamz/promode/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer serves the tools of one ToolBox.
type MCPServer struct {
	server *mcp.Server
	tools  *toolbox.ToolBox
	log    *slog.Logger
}

// New creates an MCPServer that publishes every tool in tb. A nil logger
// discards log records.
func New(name, version string, tb *toolbox.ToolBox, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &MCPServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    name,
			Version: version,
		}, nil),
		tools: tb,
		log:   logger,
	}

	for _, t := range tb.Tools() {
		s.server.AddTool(toSDKTool(t), s.handler(t.Name))
	}

	return s
}

// Serve reads requests from in and writes responses to out. It blocks until
// ctx is cancelled or the transport closes. Nothing else may write to out
// while serving.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

// run is split from Serve so tests can use in-memory transports.
func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func toSDKTool(t toolbox.Tool) *mcp.Tool {
	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

// handler calls the named tool through the toolbox. Tool failures are
// reported to the client as error results, not protocol errors.
func (s *MCPServer) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		res := s.tools.Call(ctx, name, args)
		s.log.InfoContext(ctx, "tool call",
			"tool", name,
			"error", res.IsError,
			"duration", time.Since(start),
		)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
