package agentconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

func TestResolveMainAgentIncludesAllFiveServers(t *testing.T) {
	b := NewBuilder(nil)
	def, err := b.Resolve(vide.AgentTypeMain)
	if err != nil {
		t.Fatalf("resolve main: %v", err)
	}
	want := []string{ServerMemory, ServerTaskManagement, ServerAgent, ServerGit, ServerFlutterRuntime}
	if len(def.MCPServers) != len(want) {
		t.Fatalf("want %d servers, got %d: %v", len(want), len(def.MCPServers), def.MCPServers)
	}
	if def.SystemPrompt == "" {
		t.Fatal("expected a non-empty system prompt")
	}
}

func TestResolveImplementationAgentExcludesTaskManagement(t *testing.T) {
	b := NewBuilder(nil)
	def, err := b.Resolve(vide.AgentTypeImplementation)
	if err != nil {
		t.Fatalf("resolve implementation: %v", err)
	}
	for _, s := range def.MCPServers {
		if s == ServerTaskManagement {
			t.Fatal("implementation agent should not get taskManagement")
		}
	}
}

func TestResolveUnknownTypeErrors(t *testing.T) {
	b := NewBuilder(nil)
	if _, err := b.Resolve(vide.AgentType("bogus")); err == nil {
		t.Fatal("expected an error for an unknown agent type")
	}
}

func TestResolveUserDefinedAgent(t *testing.T) {
	b := NewBuilder([]UserDefinedAgent{
		{Name: "reviewer", SystemPrompt: "You review code.", MCPServers: []string{ServerGit}},
	})
	def, err := b.Resolve(vide.UserDefinedAgentType("reviewer"))
	if err != nil {
		t.Fatalf("resolve user-defined: %v", err)
	}
	if def.SystemPrompt != "You review code." {
		t.Fatalf("unexpected prompt: %q", def.SystemPrompt)
	}
	if len(def.MCPServers) != 1 || def.MCPServers[0] != ServerGit {
		t.Fatalf("unexpected servers: %v", def.MCPServers)
	}
}

func TestResolveUserDefinedMissingErrors(t *testing.T) {
	b := NewBuilder(nil)
	if _, err := b.Resolve(vide.UserDefinedAgentType("ghost")); err == nil {
		t.Fatal("expected an error for a missing user-defined agent")
	}
}

func TestLoadUserDefinedAgentsMissingFileReturnsEmpty(t *testing.T) {
	agents, err := LoadUserDefinedAgents(filepath.Join(t.TempDir(), "agents.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("expected no agents, got %v", agents)
	}
}

func TestLoadUserDefinedAgentsParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	contents := "agents:\n  - name: reviewer\n    systemPrompt: You review code.\n    mcpServers: [git]\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	agents, err := LoadUserDefinedAgents(path)
	if err != nil {
		t.Fatalf("LoadUserDefinedAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "reviewer" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
	if len(agents[0].MCPServers) != 1 || agents[0].MCPServers[0] != ServerGit {
		t.Fatalf("unexpected servers: %v", agents[0].MCPServers)
	}
}
