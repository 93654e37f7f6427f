// Package agentconfig resolves an agent type to a system prompt and MCP
// server subset (spec §4.M), and loads user-defined agent definitions
// from YAML. Grounded on the teacher's internal/agents identity
// resolution (Config/AgentsConfig/ResolveAgentConfig), generalized from
// "per-agent display identity" to "per-agent-type prompt + MCP set".
package agentconfig

import (
	"fmt"
	"os"

	"github.com/csells/vide-cli-sub001/internal/agentclient"
	"github.com/csells/vide-cli-sub001/pkg/vide"
	"gopkg.in/yaml.v3"
)

// These are the names of the five MCP servers spec §4.H wires into the
// main agent; spawned agents get a type-specific subset of these.
const (
	ServerMemory         = "memory"
	ServerTaskManagement = "taskManagement"
	ServerAgent          = "agent"
	ServerGit            = "git"
	ServerFlutterRuntime = "flutterRuntime"
)

// Definition is a resolved agent type's prompt and MCP server subset.
type Definition struct {
	SystemPrompt string
	MCPServers   []string
}

// UserDefinedAgent is one entry in a project's agents.yaml.
type UserDefinedAgent struct {
	Name         string   `yaml:"name"`
	SystemPrompt string   `yaml:"systemPrompt"`
	MCPServers   []string `yaml:"mcpServers"`
}

// Builder resolves vide.AgentType values to Definitions, consulting
// user-defined agents loaded from YAML for the `userDefined:<name>`
// variant (spec §3).
type Builder struct {
	userDefined map[string]UserDefinedAgent
}

// userDefinedFile is the on-disk shape of a project's agents.yaml: a
// bare list under an `agents:` key, mirroring the teacher's
// internal/agents identity.go AgentsConfig wrapper.
type userDefinedFile struct {
	Agents []UserDefinedAgent `yaml:"agents"`
}

// LoadUserDefinedAgents reads a project's agents.yaml. A missing file
// is not an error: it returns an empty slice, since user-defined agents
// are optional (spec §3, §4.M).
func LoadUserDefinedAgents(path string) ([]UserDefinedAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var file userDefinedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Agents, nil
}

// NewBuilder constructs a Builder. userDefined may be nil.
func NewBuilder(userDefined []UserDefinedAgent) *Builder {
	b := &Builder{userDefined: make(map[string]UserDefinedAgent, len(userDefined))}
	for _, a := range userDefined {
		b.userDefined[a.Name] = a
	}
	return b
}

// Resolve returns the prompt and MCP server subset for agentType.
func (b *Builder) Resolve(agentType vide.AgentType) (Definition, error) {
	if name, ok := userDefinedName(agentType); ok {
		def, ok := b.userDefined[name]
		if !ok {
			return Definition{}, fmt.Errorf("no user-defined agent named %q", name)
		}
		servers := def.MCPServers
		if servers == nil {
			servers = []string{ServerMemory, ServerTaskManagement, ServerAgent}
		}
		return Definition{SystemPrompt: def.SystemPrompt, MCPServers: servers}, nil
	}

	switch agentType {
	case vide.AgentTypeMain:
		return Definition{
			SystemPrompt: mainAgentPrompt,
			MCPServers:   []string{ServerMemory, ServerTaskManagement, ServerAgent, ServerGit, ServerFlutterRuntime},
		}, nil
	case vide.AgentTypeImplementation:
		return Definition{
			SystemPrompt: implementationAgentPrompt,
			MCPServers:   []string{ServerMemory, ServerAgent, ServerGit},
		}, nil
	case vide.AgentTypePlanning:
		return Definition{
			SystemPrompt: planningAgentPrompt,
			MCPServers:   []string{ServerMemory, ServerTaskManagement, ServerAgent},
		}, nil
	case vide.AgentTypeContextCollection:
		return Definition{
			SystemPrompt: contextCollectionAgentPrompt,
			MCPServers:   []string{ServerMemory, ServerAgent, ServerGit},
		}, nil
	case vide.AgentTypeFlutterTester:
		return Definition{
			SystemPrompt: flutterTesterAgentPrompt,
			MCPServers:   []string{ServerMemory, ServerAgent, ServerFlutterRuntime},
		}, nil
	default:
		return Definition{}, fmt.Errorf("unknown agent type %q", agentType)
	}
}

func userDefinedName(agentType vide.AgentType) (string, bool) {
	const prefix = "userDefined:"
	s := string(agentType)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

const mainAgentPrompt = `You are the main agent coordinating work on this project. You can spawn specialist agents (implementation, planning, contextCollection, flutterTester) and route messages between them.`

const implementationAgentPrompt = `You are an implementation agent. Write and modify code to satisfy the task you were spawned with.`

const planningAgentPrompt = `You are a planning agent. Break the task you were spawned with into concrete steps before any code is written.`

const contextCollectionAgentPrompt = `You are a context-collection agent. Gather the project context relevant to the task you were spawned with and report back.`

const flutterTesterAgentPrompt = `You are a Flutter testing agent. Drive the Flutter runtime to validate the behavior described in your task.`

// ClientConfig builds an agentclient.Config for a newly spawned agent,
// applying the resolved prompt is the caller's responsibility (the
// prompt is sent as the first user message, not baked into Config);
// this only carries process wiring.
func ClientConfig(command string, args []string, workingDirectory, sessionFilePath string, env []string) agentclient.Config {
	return agentclient.Config{
		Command:          command,
		Args:             args,
		WorkingDirectory: workingDirectory,
		Env:              env,
		SessionFilePath:  sessionFilePath,
	}
}
