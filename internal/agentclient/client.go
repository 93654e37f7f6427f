// Package agentclient implements the Agent Client (spec §4.F): the
// composition root that owns one agent's subprocess, protocol, decoder,
// response processor, conversation store, and MCP server set.
//
// Grounded on the teacher's internal/mcp.Manager (which composes a
// transport + a session per server) generalized from "one session per
// MCP server" to "one session per agent, hosting many MCP servers".
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/csells/vide-cli-sub001/internal/conversation"
	"github.com/csells/vide-cli-sub001/internal/proclife"
	"github.com/csells/vide-cli-sub001/internal/protocol"
	"github.com/csells/vide-cli-sub001/internal/response"
	"github.com/csells/vide-cli-sub001/pkg/vide"
	"github.com/google/uuid"
)

// MCPServer is an in-process tool server a Client can attach, per spec
// §4.G. Serve starts its stdio transport and hands back the
// subprocess-facing pipe ends so Create can wire them onto the agent's
// argv/file descriptors (spec §6).
type MCPServer interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Serve(ctx context.Context) (childIn *os.File, childOut *os.File, err error)
}

// mcpStdioEntry is one server's file-descriptor mapping in the
// --mcp-config JSON this Client computes for its subprocess: the
// subprocess writes requests to WriteFD and reads responses from
// ReadFD (spec §6 argv "MCP server configuration... stdio pipes").
type mcpStdioEntry struct {
	ReadFD  int `json:"readFd"`
	WriteFD int `json:"writeFd"`
}

// Config describes how to spawn and identify one agent's subprocess.
type Config struct {
	Command          string
	Args             []string
	WorkingDirectory string
	Env              []string
	// SessionFilePath, if non-empty, is the CLI's own history file this
	// Client attempts to resume from on Create.
	SessionFilePath string
}

// Client composes Process Lifecycle, Control Protocol, the JSON Frame
// Decoder (via protocol.DecodeMessages), the Response Processor, and the
// Conversation Store into one owned agent (spec §4.F).
type Client struct {
	cfg    Config
	logger *slog.Logger

	proc  *proclife.Process
	proto *protocol.Protocol
	store *conversation.Store

	mu         sync.RWMutex
	mcpServers map[string]MCPServer
	closed     bool

	loadWarning string
}

// New builds a Client; none of its resources are started until Create
// runs.
func New(cfg Config, mcpServers []MCPServer, hooks map[string]protocol.HookCallback, canUseTool protocol.PermissionCallback, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	proc := proclife.New(proclife.Spawner{
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.WorkingDirectory,
		Env:     cfg.Env,
	}, logger)

	servers := make(map[string]MCPServer, len(mcpServers))
	for _, s := range mcpServers {
		servers[s.Name()] = s
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger.With("component", "agentclient"),
		proc:       proc,
		store:      conversation.New(),
		mcpServers: servers,
	}

	proto := protocol.New(nil, logger) // stdin wired in Create once the subprocess exists
	if canUseTool != nil {
		proto.SetPermissionCallback(canUseTool)
	}
	if len(hooks) > 0 {
		proto.RegisterHooks(hooks)
	}
	proto.SetOnDeny(func(ctx context.Context) {
		if err := c.Abort(ctx); err != nil {
			c.logger.Warn("abort after permission deny failed", "error", err)
		}
	})
	c.proto = proto
	return c
}

// Create asynchronously initializes the Client: attempts resume from
// the CLI's own session file, starts every not-already-running MCP
// server, starts the subprocess, and attaches the protocol (spec §4.F).
// A process start failure fails Create (ProcessStartError, spec §7).
func (c *Client) Create(ctx context.Context) error {
	if conv, ok, err := loadSessionFile(c.cfg.SessionFilePath); err != nil {
		c.loadWarning = fmt.Sprintf("conversation load error, starting fresh: %v", err)
		c.logger.Warn("conversation load error", "error", err)
	} else if ok {
		c.store.Seed(conv)
	}

	for name, srv := range c.mcpServers {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start mcp server %q: %w", name, err)
		}
	}

	mcpArgs, extraFiles, err := c.wireMCPTransport(ctx)
	if err != nil {
		return fmt.Errorf("wire mcp transport: %w", err)
	}
	if len(mcpArgs) > 0 {
		c.proc.AugmentForMCP(mcpArgs, extraFiles)
	}

	if err := c.proc.EnsureStarted(ctx); err != nil {
		return fmt.Errorf("start agent subprocess: %w", err)
	}

	c.proto.Rebind(c.proc.Stdin())
	go protocol.Drain(ctx, c.proto, c.proc.Stdout())
	go c.foldLoop(ctx)
	go c.watchExit(ctx)

	return nil
}

// LoadWarning returns the non-fatal warning surfaced when resume fell
// back to an empty conversation, or "" if resume succeeded or there was
// nothing to resume.
func (c *Client) LoadWarning() string {
	return c.loadWarning
}

// wireMCPTransport starts every attached server's stdio transport
// (mcpserver.Server.Serve) and computes the argv/file-descriptor pair
// the subprocess needs to reach them: a --mcp-config flag pointing at
// a generated JSON file, plus the pipe ends themselves as extra file
// descriptors starting at fd 3 (spec §6). Returns nil, nil, nil when
// this Client has no attached servers.
func (c *Client) wireMCPTransport(ctx context.Context) ([]string, []*os.File, error) {
	if len(c.mcpServers) == 0 {
		return nil, nil, nil
	}

	config := make(map[string]mcpStdioEntry, len(c.mcpServers))
	var extraFiles []*os.File
	for name, srv := range c.mcpServers {
		childIn, childOut, err := srv.Serve(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("serve mcp server %q: %w", name, err)
		}
		writeFD := 3 + len(extraFiles)
		extraFiles = append(extraFiles, childIn)
		readFD := 3 + len(extraFiles)
		extraFiles = append(extraFiles, childOut)
		config[name] = mcpStdioEntry{ReadFD: readFD, WriteFD: writeFD}
	}

	data, err := json.Marshal(config)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal mcp config: %w", err)
	}
	f, err := os.CreateTemp("", "vide-mcp-*.json")
	if err != nil {
		return nil, nil, fmt.Errorf("write mcp config: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return nil, nil, fmt.Errorf("write mcp config: %w", err)
	}

	return []string{"--mcp-config", f.Name()}, extraFiles, nil
}

func (c *Client) foldLoop(ctx context.Context) {
	for r := range protocol.DecodeMessages(c.proto.Messages()) {
		c.store.Apply(r)
	}
}

// watchExit converts an unexpected process exit into a synthetic Error
// response (spec §4.C, §7 ProcessExitError): a crash mid-turn must not
// leave the Conversation silently stuck in receivingResponse/processing.
func (c *Client) watchExit(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-c.proc.Exited():
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed || c.proc.IsAborting() {
		return
	}

	exitCode := 0
	if err := c.proc.ExitErr(); err != nil {
		exitCode = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			exitCode = exitErr.ExitCode()
		}
	}
	if exitCode == 0 {
		return
	}
	c.store.ApplySyntheticError(fmt.Sprintf("agent process exited unexpectedly (code %d)", exitCode), "PROCESS_EXIT")
}

// SendMessage rejects an empty message, appends a user message to the
// store immediately (state sendingMessage), then forwards it to the
// protocol. Concurrent sends are FIFO-queued by the protocol's LaneMain
// (spec §4.F).
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if text == "" {
		return response.ErrEmptyMessage
	}
	c.store.AppendUserMessage(uuid.NewString(), text, nil)
	return c.proto.SendUserMessage(ctx, text)
}

// SendRoutedMessage delivers an inter-agent routed message, bypassing
// LaneMain so it is not stuck behind a backed-up user turn (spec §4.H).
// Like SendMessage it appends the text, which the Network Manager has
// already prefixed, to the store as a user message before sending it.
func (c *Client) SendRoutedMessage(ctx context.Context, text string) error {
	c.store.AppendUserMessage(uuid.NewString(), text, nil)
	return c.proto.SendRoutedMessage(ctx, text)
}

// Abort calls Process Lifecycle's abort escalation, then appends a
// synthetic "Interrupted by user" Error message (spec §4.F).
func (c *Client) Abort(ctx context.Context) error {
	err := c.proc.Abort(ctx, c.proto.Interrupt)
	c.store.ApplySyntheticError("Interrupted by user", "")
	return err
}

// Close stops owned MCP servers and the subprocess, and is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for name, srv := range c.mcpServers {
		if err := srv.Stop(ctx); err != nil {
			c.logger.Warn("failed to stop mcp server", "name", name, "error", err)
		}
	}
	return c.proc.Close()
}

// McpServer returns the named server, or ok=false if it is not attached
// to this Client (spec §4.F getMcpServer<T>; type-narrowing is left to
// the caller via a type assertion, since Go generics cannot express a
// covariant registry lookup cleanly here).
func (c *Client) McpServer(name string) (MCPServer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.mcpServers[name]
	return s, ok
}

// OnTurnComplete passes through the Conversation Store's turn-complete
// stream (spec §4.F).
func (c *Client) OnTurnComplete(buffer int) <-chan struct{} {
	return c.store.OnTurnComplete(buffer)
}

// Subscribe passes through the Conversation Store's snapshot stream.
func (c *Client) Subscribe(buffer int) <-chan vide.Conversation {
	return c.store.Subscribe(buffer)
}

// Conversation returns the current snapshot.
func (c *Client) Conversation() vide.Conversation {
	return c.store.Current()
}

// IsRunning reports whether the underlying subprocess is alive.
func (c *Client) IsRunning() bool {
	return c.proc.IsRunning()
}
