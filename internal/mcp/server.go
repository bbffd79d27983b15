// Package mcp republishes the research toolset over the Model Context
// Protocol. External MCP clients (editors, other agents) get the same
// tools the chat pipeline uses, with the same schemas, timeouts and
// failure behavior, served over the transport passed to Run. In
// practice that transport is stdio, wired up by the mcp subcommand.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/registry"
)

// Config holds MCP server construction parameters.
type Config struct {
	// Name and Version identify the server to clients during the MCP
	// handshake.
	Name    string
	Version string

	// Registry supplies the published tools. Registration order is
	// preserved in tool listings.
	Registry *registry.Registry

	Logger log.Logger
}

// Server exposes a tool registry to MCP clients.
type Server struct {
	srv    *mcp.Server
	logger log.Logger
}

// NewServer builds a server publishing every tool in cfg.Registry.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, errors.New("server name is required")
	}
	if cfg.Version == "" {
		return nil, errors.New("server version is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.Registry.Len() == 0 {
		return nil, errors.New("tool registry is empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		srv: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		logger: logger,
	}
	for _, spec := range cfg.Registry.Specs() {
		mcp.AddTool(s.srv, &mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		}, s.handler(spec))
	}

	logger.Debug("mcp tools published", "count", cfg.Registry.Len())
	return s, nil
}

// Run serves MCP over the transport until ctx is canceled or the
// client disconnects. Blocking.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.srv.Run(ctx, t)
}

// handler adapts one registry spec to an MCP tool handler. The SDK
// validates arguments against the published schema before the handler
// runs, so execution starts from schema-valid input, same as the chat
// router. Tool failures come back as IsError results; only encoding
// problems surface as protocol errors.
func (s *Server) handler(spec *registry.ToolSpec) func(context.Context, *mcp.CallToolRequest, map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		// Per-tool timeouts hold for MCP callers too. No fallback
		// default here: the client owns the overall request deadline.
		if spec.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
			defer cancel()
		}

		out, err := spec.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("mcp tool failed", "tool", spec.Name, "error", err)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil, nil
		}

		text, err := renderResult(out)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding %s result: %w", spec.Name, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	}
}

// renderResult flattens a tool result to text. The research tools all
// return strings; anything else is published as JSON.
func renderResult(out any) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
