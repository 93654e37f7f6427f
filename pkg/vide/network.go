package vide

import "time"

// AgentType enumerates the roles an agent can be spawned as (spec §3).
type AgentType string

const (
	AgentTypeMain              AgentType = "main"
	AgentTypeImplementation    AgentType = "implementation"
	AgentTypePlanning          AgentType = "planning"
	AgentTypeContextCollection AgentType = "contextCollection"
	AgentTypeFlutterTester     AgentType = "flutterTester"
)

// UserDefinedAgentType builds the `userDefined:<name>` variant.
func UserDefinedAgentType(name string) AgentType {
	return AgentType("userDefined:" + name)
}

// AgentStatus is the agent's coarse activity state, surfaced on the
// event stream as `status` events (spec §4.I).
type AgentStatus string

const (
	AgentIdle            AgentStatus = "idle"
	AgentWorking         AgentStatus = "working"
	AgentWaitingForAgent AgentStatus = "waitingForAgent"
	AgentWaitingForUser  AgentStatus = "waitingForUser"
)

// AgentMetadata is the persisted row for one agent within a Network. It
// is appended once on spawn and never reordered or removed (spec §3).
type AgentMetadata struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      AgentType   `json:"type"`
	Status    AgentStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`

	TotalInputTokens         int64   `json:"totalInputTokens"`
	TotalOutputTokens        int64   `json:"totalOutputTokens"`
	TotalCacheReadTokens     int64   `json:"totalCacheReadInputTokens"`
	TotalCacheCreationTokens int64   `json:"totalCacheCreationInputTokens"`
	TotalCostUsd             float64 `json:"totalCostUsd"`
}

// AgentNetwork is a flat, persisted set of cooperating agents (spec §3).
// There is no hierarchy: a spawning relationship is carried only in the
// `[SPAWNED BY AGENT: <id>]` prompt prefix (spec §4.H), never as a field
// here.
type AgentNetwork struct {
	ID           string          `json:"id"`
	Goal         string          `json:"goal"`
	Agents       []AgentMetadata `json:"agents"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActiveAt *time.Time      `json:"lastActiveAt,omitempty"`
	WorktreePath *string         `json:"worktreePath,omitempty"`
}

// AgentByID finds a row by id, or reports ok=false.
func (n *AgentNetwork) AgentByID(id string) (*AgentMetadata, bool) {
	for i := range n.Agents {
		if n.Agents[i].ID == id {
			return &n.Agents[i], true
		}
	}
	return nil, false
}

// PermissionRequest is raised by the Permission Broker when the
// subprocess's `canUseTool` control frame demands an out-of-band
// decision (spec §3, §4.J).
type PermissionRequest struct {
	RequestID             string         `json:"requestId"`
	AgentID               string         `json:"agentId"`
	Cwd                   string         `json:"cwd"`
	ToolName              string         `json:"toolName"`
	ToolInput             map[string]any `json:"toolInput"`
	PermissionSuggestions []string       `json:"permissionSuggestions,omitempty"`
	BlockedPath           string         `json:"blockedPath,omitempty"`
}

// PermissionResponse is the UI's decision on a PermissionRequest.
type PermissionResponse struct {
	Decision         PermissionDecision `json:"decision"`
	Reason           string             `json:"reason,omitempty"`
	UpdatedInput     map[string]any     `json:"updatedInput,omitempty"`
	RememberPattern  string             `json:"rememberPattern,omitempty"`
}

// PermissionDecision is the two-valued allow/deny outcome.
type PermissionDecision string

const (
	PermissionAllow PermissionDecision = "allow"
	PermissionDeny  PermissionDecision = "deny"
)

// MemoryEntry is one key/value row in a project's persisted memory
// store (spec §3, §6).
type MemoryEntry struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
