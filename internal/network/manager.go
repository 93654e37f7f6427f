// Package network implements the Network Manager (spec §4.H): it
// creates, persists, and resumes Networks, tracks their agents, routes
// inter-agent messages, and propagates terminations. It also satisfies
// mcpserver.AgentController, so each agent's "agent" MCP server drives
// spawn/route/setStatus/terminate straight back through the same
// Manager that owns the Client map.
//
// Grounded on the teacher's internal/multiagent.Orchestrator
// (mu sync.RWMutex guarding map[string]*T registries, an emitEvent
// fan-out callback, RegisterAgent/GetRuntime-shaped accessors)
// generalized from "LLM-provider runtimes keyed by agent ID" to
// "subprocess Agent Clients keyed by agent ID", and from handoffs to
// vide's flat routed-message model (spec §3: no hierarchy, only a
// `[SPAWNED BY AGENT: <id>]` prompt prefix).
package network

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/csells/vide-cli-sub001/internal/agentclient"
	"github.com/csells/vide-cli-sub001/internal/agentconfig"
	"github.com/csells/vide-cli-sub001/internal/diconfig"
	"github.com/csells/vide-cli-sub001/internal/mcpserver"
	"github.com/csells/vide-cli-sub001/internal/multiplex"
	"github.com/csells/vide-cli-sub001/internal/permission"
	"github.com/csells/vide-cli-sub001/internal/protocol"
	"github.com/csells/vide-cli-sub001/internal/storage"
	"github.com/csells/vide-cli-sub001/pkg/vide"
	"github.com/google/uuid"
)

// ErrAgentTerminated is returned by route when the target agent has
// already been terminated (spec §4.H, §7).
var ErrAgentTerminated = fmt.Errorf("agent terminated")

// ErrMainAgentNotTerminable is returned by terminate for the main agent
// (spec §4.H: "The main agent MUST NOT be terminable via this op").
var ErrMainAgentNotTerminable = fmt.Errorf("the main agent cannot be terminated")

// AgentCommand describes how to launch the subprocess backing every
// agent in every network this Manager owns; every agent in vide runs
// the same CLI binary, distinguished only by working directory,
// session file, and system prompt.
type AgentCommand struct {
	Command string
	Args    []string
	Env     []string
}

// Manager owns every live Network and the Client for each of its
// agents (spec §4.H state: `networks`, `clients`). It does not track a
// current network.
type Manager struct {
	mu       sync.RWMutex
	networks map[string]*vide.AgentNetwork
	clients  map[string]*agentclient.Client // agentId -> Client

	agentNetwork map[string]string // agentId -> networkId, for routing lookups

	providers *diconfig.Providers
	builder   *agentconfig.Builder
	broker    *permission.Broker
	command   AgentCommand
	logger    *slog.Logger

	muxes map[string]*multiplex.Multiplexer // networkId -> its Event Multiplexer

	sharedMu      sync.Mutex
	sharedServers map[string]*mcpserver.Server
}

// NewManager builds a Manager. providers resolves configRoot and
// effective working directory (spec §4.L); broker services any
// canUseTool control frame an agent's subprocess raises.
func NewManager(providers *diconfig.Providers, builder *agentconfig.Builder, broker *permission.Broker, command AgentCommand, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		networks:      map[string]*vide.AgentNetwork{},
		clients:       map[string]*agentclient.Client{},
		agentNetwork:  map[string]string{},
		providers:     providers,
		builder:       builder,
		broker:        broker,
		command:       command,
		logger:        logger.With("component", "network"),
		muxes:         map[string]*multiplex.Multiplexer{},
		sharedServers: map[string]*mcpserver.Server{},
	}
}

// Multiplexer returns the per-network Event Multiplexer (spec §4.I),
// creating it on first use, so a caller can Subscribe() a new external
// consumer (e.g. a WebSocket peer).
func (m *Manager) Multiplexer(networkID string) *multiplex.Multiplexer {
	m.mu.Lock()
	defer m.mu.Unlock()
	mux, ok := m.muxes[networkID]
	if !ok {
		mux = multiplex.New(64)
		m.muxes[networkID] = mux
	}
	return mux
}

// Providers exposes the Manager's dependency-injected providers (spec
// §4.L), so a caller can resolve a network's persisted location before
// Resume is able to load it.
func (m *Manager) Providers() *diconfig.Providers {
	return m.providers
}

func (m *Manager) networkStore(networkID string) (*storage.NetworkStore, string, error) {
	m.mu.RLock()
	network, ok := m.networks[networkID]
	m.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("network %q not found", networkID)
	}
	wd, err := m.providers.EffectiveWorkingDirectory(network.WorktreePath)
	if err != nil {
		return nil, "", err
	}
	return storage.NewNetworkStore(m.providers.ConfigRoot, wd), wd, nil
}

// StartNew mints a network and its main agent, sends initialMessage,
// and returns the persisted Network (spec §4.H startNew).
func (m *Manager) StartNew(ctx context.Context, initialMessage string, workingDirectory *string) (vide.AgentNetwork, error) {
	networkID := uuid.NewString()
	mainAgentID := uuid.NewString()

	network := vide.AgentNetwork{
		ID:           networkID,
		Goal:         initialMessage,
		CreatedAt:    time.Now(),
		WorktreePath: workingDirectory,
		Agents: []vide.AgentMetadata{{
			ID:        mainAgentID,
			Name:      "main",
			Type:      vide.AgentTypeMain,
			Status:    vide.AgentWorking,
			CreatedAt: time.Now(),
		}},
	}

	m.mu.Lock()
	m.networks[networkID] = &network
	m.agentNetwork[mainAgentID] = networkID
	m.mu.Unlock()

	if err := m.persist(networkID); err != nil {
		return vide.AgentNetwork{}, err
	}

	if err := m.buildClient(ctx, networkID, mainAgentID, vide.AgentTypeMain); err != nil {
		return vide.AgentNetwork{}, err
	}

	if err := m.sendTo(ctx, mainAgentID, initialMessage, false); err != nil {
		return vide.AgentNetwork{}, err
	}

	return network, nil
}

// Spawn appends a new agent to parentAgentId's network, constructs its
// Client, and sends prompt prefixed with the spawning agent's id (spec
// §4.H spawn). It satisfies mcpserver.AgentController.Spawn.
func (m *Manager) Spawn(ctx context.Context, parentAgentID, agentType, name, prompt string) (string, error) {
	networkID, ok := m.lookupNetwork(parentAgentID)
	if !ok {
		return "", fmt.Errorf("parent agent %q is not attached to a network", parentAgentID)
	}

	agentID := uuid.NewString()
	metadata := vide.AgentMetadata{
		ID:        agentID,
		Name:      name,
		Type:      vide.AgentType(agentType),
		Status:    vide.AgentWorking,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	network := m.networks[networkID]
	network.Agents = append(network.Agents, metadata)
	m.agentNetwork[agentID] = networkID
	m.mu.Unlock()

	if err := m.persist(networkID); err != nil {
		return "", err
	}

	if err := m.buildClient(ctx, networkID, agentID, vide.AgentType(agentType)); err != nil {
		return "", err
	}

	prefixed := fmt.Sprintf("[SPAWNED BY AGENT: %s] %s", parentAgentID, prompt)
	if err := m.sendTo(ctx, agentID, prefixed, false); err != nil {
		return "", err
	}

	if err := m.SetStatus(ctx, parentAgentID, string(vide.AgentWaitingForAgent)); err != nil {
		return "", err
	}

	return agentID, nil
}

// Route delivers a `[MESSAGE FROM AGENT: <senderId>] <message>` to
// targetAgentID (spec §4.H route). It satisfies
// mcpserver.AgentController.Route.
func (m *Manager) Route(ctx context.Context, senderAgentID, targetAgentID, message string) error {
	m.mu.RLock()
	_, live := m.clients[targetAgentID]
	m.mu.RUnlock()
	if !live {
		return ErrAgentTerminated
	}
	prefixed := fmt.Sprintf("[MESSAGE FROM AGENT: %s] %s", senderAgentID, message)
	return m.sendTo(ctx, targetAgentID, prefixed, true)
}

// SetStatus updates an agent's metadata and persists the owning
// network, emitting a status event (spec §4.H setStatus). It satisfies
// mcpserver.AgentController.SetStatus.
func (m *Manager) SetStatus(ctx context.Context, agentID, status string) error {
	networkID, ok := m.lookupNetwork(agentID)
	if !ok {
		return fmt.Errorf("agent %q is not attached to a network", agentID)
	}

	m.mu.Lock()
	network := m.networks[networkID]
	meta, found := network.AgentByID(agentID)
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("agent %q not found in network %q", agentID, networkID)
	}
	meta.Status = vide.AgentStatus(status)
	now := time.Now()
	network.LastActiveAt = &now
	m.mu.Unlock()

	if err := m.persist(networkID); err != nil {
		return err
	}
	m.Multiplexer(networkID).EmitStatus(agentID, vide.AgentStatus(status))
	return nil
}

// Terminate closes the Client for agentID, keeps its metadata row, and
// drops it from the live client map (spec §4.H terminate). It
// satisfies mcpserver.AgentController.Terminate, in which case agentID
// is the target, not the caller.
func (m *Manager) Terminate(ctx context.Context, agentID, reason string) error {
	networkID, ok := m.lookupNetwork(agentID)
	if !ok {
		return fmt.Errorf("agent %q is not attached to a network", agentID)
	}

	m.mu.Lock()
	network := m.networks[networkID]
	meta, found := network.AgentByID(agentID)
	if found && meta.Type == vide.AgentTypeMain {
		m.mu.Unlock()
		return ErrMainAgentNotTerminable
	}
	client, hasClient := m.clients[agentID]
	delete(m.clients, agentID)
	m.mu.Unlock()

	if hasClient {
		if err := client.Close(ctx); err != nil {
			m.logger.Warn("error closing terminated agent", "agent", agentID, "error", err)
		}
	}

	return m.SetStatus(ctx, agentID, string(vide.AgentIdle))
}

// Resume rebuilds a Client for each agent persisted in network,
// attempting to resume each one's prior conversation from its CLI
// session file (spec §4.H resume).
func (m *Manager) Resume(ctx context.Context, network vide.AgentNetwork) error {
	m.mu.Lock()
	m.networks[network.ID] = &network
	for _, a := range network.Agents {
		m.agentNetwork[a.ID] = network.ID
	}
	m.mu.Unlock()

	for _, a := range network.Agents {
		if err := m.buildClient(ctx, network.ID, a.ID, a.Type); err != nil {
			return fmt.Errorf("resume agent %q: %w", a.ID, err)
		}
	}
	return nil
}

// persist writes the network's current state atomically (spec §4.H
// persist).
func (m *Manager) persist(networkID string) error {
	store, _, err := m.networkStore(networkID)
	if err != nil {
		return err
	}
	m.mu.RLock()
	network := *m.networks[networkID]
	m.mu.RUnlock()
	return store.Save(network)
}

func (m *Manager) lookupNetwork(agentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.agentNetwork[agentID]
	return id, ok
}

// sessionFilePath mirrors the CLI's own per-agent transcript location,
// one file per agent under the network's persisted project directory,
// so Resume can replay it (spec §4.F, §7 transcript repair).
func (m *Manager) sessionFilePath(workingDirectory, agentID string) string {
	return filepath.Join(m.providers.ConfigRoot, "projects", storage.EncodeProjectPath(workingDirectory), "sessions", agentID+".jsonl")
}

func (m *Manager) buildClient(ctx context.Context, networkID, agentID string, agentType vide.AgentType) error {
	m.mu.RLock()
	network := m.networks[networkID]
	m.mu.RUnlock()

	wd, err := m.providers.EffectiveWorkingDirectory(network.WorktreePath)
	if err != nil {
		return err
	}

	def, err := m.builder.Resolve(agentType)
	if err != nil {
		return err
	}

	servers := m.buildServers(agentID, wd, def.MCPServers)

	canUseTool := protocol.PermissionCallback(func(ctx context.Context, req vide.PermissionRequest) (vide.PermissionResponse, error) {
		req.AgentID = agentID
		if m.broker.SessionAllowed(networkID, req.ToolName) {
			return vide.PermissionResponse{Decision: vide.PermissionAllow}, nil
		}
		return m.broker.Request(ctx, networkID, req)
	})

	client := agentclient.New(agentclient.Config{
		Command:          m.command.Command,
		Args:             m.command.Args,
		WorkingDirectory: wd,
		Env:              m.command.Env,
		SessionFilePath:  m.sessionFilePath(wd, agentID),
	}, servers, nil, canUseTool, m.logger)

	if err := client.Create(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[agentID] = client
	agentName := agentID
	if meta, found := network.AgentByID(agentID); found {
		agentName = meta.Name
	}
	m.mu.Unlock()

	m.Multiplexer(networkID).AddAgent(agentID, multiplex.AgentMeta{
		Type: string(agentType),
		Name: agentName,
	}, client)

	return nil
}

func (m *Manager) buildServers(agentID, workingDirectory string, names []string) []agentclient.MCPServer {
	out := make([]agentclient.MCPServer, 0, len(names))
	for _, name := range names {
		switch name {
		case agentconfig.ServerAgent:
			out = append(out, mcpserver.NewAgentServer(agentID, m, m.logger))
		case agentconfig.ServerGit:
			out = append(out, mcpserver.NewGitServer(workingDirectory, m.logger))
		case agentconfig.ServerFlutterRuntime:
			out = append(out, mcpserver.NewFlutterRuntimeServer(m.logger))
		case agentconfig.ServerMemory, agentconfig.ServerTaskManagement:
			// memory and taskManagement are shared servers, constructed
			// once per working directory in sharedServer and reused here.
			out = append(out, m.sharedServer(name, workingDirectory))
		}
	}
	return out
}

// sharedServer caches one memory/taskManagement server per server name
// and working directory, so every agent in a network shares it (spec
// §4.G) and networks with the same working directory share one
// instance; Server.Start is idempotent for a server reused across
// multiple Clients.
func (m *Manager) sharedServer(name, workingDirectory string) *mcpserver.Server {
	key := name + "|" + workingDirectory
	m.sharedMu.Lock()
	defer m.sharedMu.Unlock()
	if s, ok := m.sharedServers[key]; ok {
		return s
	}
	var s *mcpserver.Server
	switch name {
	case agentconfig.ServerMemory:
		s = mcpserver.NewMemoryServer(mcpserver.WrapMemoryStore(storage.NewMemoryStore(m.providers.ConfigRoot, workingDirectory)), m.logger)
	case agentconfig.ServerTaskManagement:
		s = mcpserver.NewTaskManagementServer(m.logger)
	}
	m.sharedServers[key] = s
	return s
}

func (m *Manager) sendTo(ctx context.Context, agentID, text string, routed bool) error {
	m.mu.RLock()
	client, ok := m.clients[agentID]
	m.mu.RUnlock()
	if !ok {
		return ErrAgentTerminated
	}
	if routed {
		return client.SendRoutedMessage(ctx, text)
	}
	return client.SendMessage(ctx, text)
}

// Client returns the live Client for agentID, or ok=false.
func (m *Manager) Client(agentID string) (*agentclient.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[agentID]
	return c, ok
}

// Network returns a copy of a network's current state.
func (m *Manager) Network(networkID string) (vide.AgentNetwork, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.networks[networkID]
	if !ok {
		return vide.AgentNetwork{}, false
	}
	return *n, true
}
