package network

import (
	"context"
	"testing"
	"time"

	"github.com/csells/vide-cli-sub001/internal/agentconfig"
	"github.com/csells/vide-cli-sub001/internal/diconfig"
	"github.com/csells/vide-cli-sub001/internal/permission"
	"github.com/csells/vide-cli-sub001/internal/storage"
	"github.com/csells/vide-cli-sub001/pkg/vide"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	configRoot := t.TempDir()
	workDir := t.TempDir()

	providers := &diconfig.Providers{
		ConfigRoot:        configRoot,
		ResolveWorkingDir: func() (string, error) { return workDir, nil },
	}
	builder := agentconfig.NewBuilder(nil)
	broker := permission.New(nil)

	m := NewManager(providers, builder, broker, AgentCommand{
		Command: "sh",
		Args:    []string{"-c", "cat"},
	}, nil)

	t.Cleanup(func() {
		m.mu.RLock()
		clients := make([]string, 0, len(m.clients))
		for id := range m.clients {
			clients = append(clients, id)
		}
		m.mu.RUnlock()
		for _, id := range clients {
			if c, ok := m.Client(id); ok {
				_ = c.Close(context.Background())
			}
		}
	})

	return m
}

func TestStartNewPersistsNetworkWithOneWorkingMainAgent(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	network, err := m.StartNew(ctx, "build the thing", nil)
	if err != nil {
		t.Fatalf("StartNew: %v", err)
	}
	if len(network.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(network.Agents))
	}
	if network.Agents[0].Type != vide.AgentTypeMain {
		t.Fatalf("expected main agent type, got %q", network.Agents[0].Type)
	}
	if network.Agents[0].Status != vide.AgentWorking {
		t.Fatalf("expected working status, got %q", network.Agents[0].Status)
	}

	loaded, ok := m.Network(network.ID)
	if !ok {
		t.Fatal("expected network to be tracked in memory")
	}
	if loaded.ID != network.ID {
		t.Fatalf("unexpected loaded network id %q", loaded.ID)
	}

	wd, err := m.providers.ResolveWorkingDir()
	if err != nil {
		t.Fatalf("resolve working dir: %v", err)
	}
	persisted, found, err := storage.NewNetworkStore(m.providers.ConfigRoot, wd).Load(network.ID)
	if err != nil || !found {
		t.Fatalf("expected network to be persisted on disk, found=%v err=%v", found, err)
	}
	if persisted.ID != network.ID {
		t.Fatalf("unexpected persisted network id %q", persisted.ID)
	}
}

func TestSpawnAppendsAgentAndMarksParentWaiting(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	network, err := m.StartNew(ctx, "build the thing", nil)
	if err != nil {
		t.Fatalf("StartNew: %v", err)
	}
	mainAgentID := network.Agents[0].ID

	childID, err := m.Spawn(ctx, mainAgentID, "implementation", "impl-1", "write the code")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if childID == "" {
		t.Fatal("expected a non-empty spawned agent id")
	}

	updated, ok := m.Network(network.ID)
	if !ok {
		t.Fatal("expected network to still be tracked")
	}
	if len(updated.Agents) != 2 {
		t.Fatalf("expected 2 agents after spawn, got %d", len(updated.Agents))
	}

	parent, found := updated.AgentByID(mainAgentID)
	if !found {
		t.Fatal("expected to find the parent agent")
	}
	if parent.Status != vide.AgentWaitingForAgent {
		t.Fatalf("expected parent status waitingForAgent, got %q", parent.Status)
	}
}

func TestRouteToUnknownAgentReturnsAgentTerminated(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Route(ctx, "sender", "does-not-exist", "hi"); err != ErrAgentTerminated {
		t.Fatalf("expected ErrAgentTerminated, got %v", err)
	}
}

func TestTerminateMainAgentFails(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	network, err := m.StartNew(ctx, "build the thing", nil)
	if err != nil {
		t.Fatalf("StartNew: %v", err)
	}

	if err := m.Terminate(ctx, network.Agents[0].ID, "no reason"); err != ErrMainAgentNotTerminable {
		t.Fatalf("expected ErrMainAgentNotTerminable, got %v", err)
	}
}

func TestTerminateSpawnedAgentDropsItsClient(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	network, err := m.StartNew(ctx, "build the thing", nil)
	if err != nil {
		t.Fatalf("StartNew: %v", err)
	}
	childID, err := m.Spawn(ctx, network.Agents[0].ID, "implementation", "impl-1", "write the code")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := m.Terminate(ctx, childID, "done"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	if _, ok := m.Client(childID); ok {
		t.Fatal("expected the terminated agent's client to be gone")
	}

	if err := m.Route(ctx, network.Agents[0].ID, childID, "are you there"); err != ErrAgentTerminated {
		t.Fatalf("expected routing to a terminated agent to fail, got %v", err)
	}
}
