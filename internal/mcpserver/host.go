// Package mcpserver implements the MCP Server Host (spec §4.G): a
// registry of in-process tool servers that each Agent Client imports.
// Every server is hosted via mark3labs/mcp-go's server package so tool
// dispatch, JSON-RPC framing, and capability negotiation are handled by
// the ecosystem's MCP implementation rather than a hand-rolled one.
// Serve drives that transport over a pipe pair handed to the agent
// subprocess as extra file descriptors (spec §6).
//
// Grounded on the teacher's internal/mcp (ServerConfig/TransportType
// naming) generalized from "client connects out to a server" to "core
// hosts a server the subprocess connects into"; tool-param validation is
// grounded on the teacher's existing santhosh-tekuri/jsonschema/v5
// dependency.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolHandler implements one MCP tool's behavior.
type ToolHandler func(ctx context.Context, params map[string]any) (string, bool, error)

// ToolSpec declares one tool a Server exposes.
type ToolSpec struct {
	Name        string
	Description string
	// Schema is a compiled JSON Schema document used to validate
	// ToolUse.params before Handler runs (spec §4.G); nil skips
	// validation.
	Schema  *jsonschema.Schema
	Handler ToolHandler
}

// Server is one named, versioned MCP tool server (spec §4.G). Servers
// may be shared across agents in a network (memory, taskManagement) or
// per-agent (flutterRuntime); that sharing policy lives with the
// Network Manager (§4.H), not here.
type Server struct {
	name    string
	version string
	tools   []ToolSpec
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	mcp     *server.MCPServer
}

// NewServer builds a Server; Start registers every declared tool with
// the underlying mcp-go server.
func NewServer(name, version string, tools []ToolSpec, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{name: name, version: version, tools: tools, logger: logger.With("mcp_server", name)}
}

// Name returns the server's name, used as the `mcp__<name>__` tool-name
// prefix (spec §6).
func (s *Server) Name() string { return s.name }

// ToolNames lists every tool this server exposes.
func (s *Server) ToolNames() []string {
	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = t.Name
	}
	return names
}

// Start is idempotent: a shared server already running for another
// agent in the same network is a no-op (spec §4.F "skipping already-
// running shared ones").
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	srv := server.NewMCPServer(s.name, s.version)
	for _, t := range s.tools {
		opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
		tool := mcp.NewTool(t.Name, opts...)
		handler := t.Handler
		schema := t.Schema
		srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			params := req.GetArguments()
			if schema != nil {
				if err := schema.ValidateInterface(params); err != nil {
					return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
				}
			}
			text, isErr, err := handler(ctx, params)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if isErr {
				return mcp.NewToolResultError(text), nil
			}
			return mcp.NewToolResultText(text), nil
		})
	}

	s.mcp = srv
	s.started = true
	s.logger.Info("mcp server started", "tools", len(s.tools))
	return nil
}

// Stop tears down the server. Shared servers are reference-counted by
// the Network Manager, not here, so Stop simply marks this handle
// inactive.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.mcp = nil
	return nil
}

// Serve starts this server's stdio MCP transport over an in-memory
// pipe pair and returns the subprocess-facing ends: childIn is the
// file descriptor the agent subprocess writes requests to, childOut is
// the one it reads responses from (spec §6 argv "MCP server
// configuration... stdio pipes"). The host side is driven by
// mark3labs/mcp-go's own server.StdioServer in a background goroutine
// until ctx is done, so tool dispatch goes through the ecosystem's
// JSON-RPC framing rather than CallTool's direct bypass.
func (s *Server) Serve(ctx context.Context) (childIn *os.File, childOut *os.File, err error) {
	s.mu.Lock()
	srv := s.mcp
	s.mu.Unlock()
	if srv == nil {
		return nil, nil, fmt.Errorf("mcp server %q is not started", s.name)
	}

	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("mcp server %q: request pipe: %w", s.name, err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, nil, fmt.Errorf("mcp server %q: response pipe: %w", s.name, err)
	}

	stdioSrv := server.NewStdioServer(srv)
	go func() {
		defer reqR.Close()
		defer respW.Close()
		if err := stdioSrv.Listen(ctx, reqR, respW); err != nil && ctx.Err() == nil {
			s.logger.Warn("mcp stdio transport stopped", "error", err)
		}
	}()

	return reqW, respR, nil
}

// CallTool invokes a registered tool directly, in-process, bypassing
// the stdio transport Serve drives for the real subprocess. This is a
// direct-dispatch seam for tests that would otherwise need a live pipe
// pair to exercise a server's tools (spec §4.G).
func (s *Server) CallTool(ctx context.Context, toolName string, params map[string]any) (string, bool, error) {
	s.mu.Lock()
	srv := s.mcp
	s.mu.Unlock()
	if srv == nil {
		return "", true, fmt.Errorf("mcp server %q is not started", s.name)
	}

	for _, t := range s.tools {
		if t.Name != toolName {
			continue
		}
		if t.Schema != nil {
			if err := t.Schema.ValidateInterface(params); err != nil {
				return fmt.Sprintf("invalid parameters: %v", err), true, nil
			}
		}
		return t.Handler(ctx, params)
	}
	return "", true, fmt.Errorf("mcp server %q has no tool %q", s.name, toolName)
}
