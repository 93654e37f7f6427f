package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MemoryBackend is the persistence a memory server delegates to;
// satisfied by storage.MemoryStore.
type MemoryBackend interface {
	All() ([]MemoryRecord, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryRecord mirrors the fields a memory server's tools surface,
// decoupled from vide.MemoryEntry so this package does not import
// pkg/vide just for a struct shape.
type MemoryRecord struct {
	Key   string
	Value string
}

var memorySetSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"key": {"type": "string"}, "value": {"type": "string"}},
  "required": ["key", "value"]
}`)

var memoryGetSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"key": {"type": "string"}},
  "required": ["key"]
}`)

var memoryRecallSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"key": {"type": "string"}}
}`)

// NewMemoryServer builds the shared "memory" MCP server (spec §4.H:
// every network's main agent gets memory, taskManagement, agent, git,
// flutterRuntime).
func NewMemoryServer(backend MemoryBackend, logger *slog.Logger) *Server {
	return NewServer("memory", "1.0.0", []ToolSpec{
		{
			Name:        "remember",
			Description: "store or update a project memory entry by key",
			Schema:      memorySetSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				key, _ := params["key"].(string)
				value, _ := params["value"].(string)
				if err := backend.Set(key, value); err != nil {
					return "", true, err
				}
				return fmt.Sprintf("remembered %q", key), false, nil
			},
		},
		{
			Name:        "recall",
			Description: "fetch a project memory entry by key, or list all if key is omitted",
			Schema:      memoryRecallSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				all, err := backend.All()
				if err != nil {
					return "", true, err
				}
				key, _ := params["key"].(string)
				if key == "" {
					data, _ := json.Marshal(all)
					return string(data), false, nil
				}
				for _, e := range all {
					if e.Key == key {
						return e.Value, false, nil
					}
				}
				return fmt.Sprintf("no memory entry for key %q", key), true, nil
			},
		},
		{
			Name:        "forget",
			Description: "remove a project memory entry by key",
			Schema:      memoryGetSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				key, _ := params["key"].(string)
				if err := backend.Delete(key); err != nil {
					return "", true, err
				}
				return fmt.Sprintf("forgot %q", key), false, nil
			},
		},
	}, logger)
}

func mustCompileSchema(doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", mustDecodeJSON(doc)); err != nil {
		panic(err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		panic(err)
	}
	return schema
}

func mustDecodeJSON(doc string) any {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		panic(err)
	}
	return v
}
