package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// AgentController is the subset of the Network Manager (spec §4.H) the
// built-in "agent" server drives on behalf of the subprocess: spawnAgent,
// sendMessageToAgent, setAgentStatus, terminateAgent (spec §4.G).
type AgentController interface {
	Spawn(ctx context.Context, parentAgentID, agentType, name, prompt string) (agentID string, err error)
	Route(ctx context.Context, senderAgentID, targetAgentID, message string) error
	SetStatus(ctx context.Context, agentID, status string) error
	Terminate(ctx context.Context, agentID, reason string) error
}

var spawnAgentSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "name": {"type": "string"},
    "initialPrompt": {"type": "string"}
  },
  "required": ["type", "name", "initialPrompt"]
}`)

var sendMessageSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"targetAgentId": {"type": "string"}, "message": {"type": "string"}},
  "required": ["targetAgentId", "message"]
}`)

var setStatusAgentSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"status": {"type": "string", "enum": ["idle", "working", "waitingForAgent", "waitingForUser"]}},
  "required": ["status"]
}`)

var terminateAgentSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"targetAgentId": {"type": "string"}, "reason": {"type": "string"}},
  "required": ["targetAgentId"]
}`)

// NewAgentServer builds the per-agent "agent" MCP server. callerAgentID
// is baked in per-instance since each agent's server must attribute
// spawnAgent/setAgentStatus calls to itself as parent/subject (spec
// §4.G).
func NewAgentServer(callerAgentID string, controller AgentController, logger *slog.Logger) *Server {
	return NewServer("agent", "1.0.0", []ToolSpec{
		{
			Name:        "spawnAgent",
			Description: "spawn a new agent in this network",
			Schema:      spawnAgentSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				agentType, _ := params["type"].(string)
				name, _ := params["name"].(string)
				prompt, _ := params["initialPrompt"].(string)
				id, err := controller.Spawn(ctx, callerAgentID, agentType, name, prompt)
				if err != nil {
					return err.Error(), true, nil
				}
				out, _ := json.Marshal(map[string]string{"agentId": id})
				return string(out), false, nil
			},
		},
		{
			Name:        "sendMessageToAgent",
			Description: "deliver a routed message to another agent in this network",
			Schema:      sendMessageSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				target, _ := params["targetAgentId"].(string)
				msg, _ := params["message"].(string)
				if err := controller.Route(ctx, callerAgentID, target, msg); err != nil {
					return err.Error(), true, nil
				}
				return "delivered", false, nil
			},
		},
		{
			Name:        "setAgentStatus",
			Description: "set this agent's own status",
			Schema:      setStatusAgentSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				status, _ := params["status"].(string)
				if err := controller.SetStatus(ctx, callerAgentID, status); err != nil {
					return err.Error(), true, nil
				}
				return "ok", false, nil
			},
		},
		{
			Name:        "terminateAgent",
			Description: "terminate another agent in this network",
			Schema:      terminateAgentSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				target, _ := params["targetAgentId"].(string)
				reason, _ := params["reason"].(string)
				if err := controller.Terminate(ctx, target, reason); err != nil {
					return err.Error(), true, nil
				}
				return fmt.Sprintf("terminated %s", target), false, nil
			},
		},
	}, logger)
}
