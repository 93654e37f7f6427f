package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TaskStatus is a todo item's coarse progress state, loosely grounded
// on the teacher's internal/tasks.TaskStatus naming but scoped to a
// single agent network's in-memory todo list rather than a cron
// scheduler.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one todo item an agent tracks for its own multi-step work.
type Task struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// taskList is the shared, in-memory backing store for one
// taskManagement server, shared by every agent the server is attached
// to (spec §4.H: shared across agents in a network).
type taskList struct {
	mu    sync.Mutex
	tasks []Task
}

var addTaskSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"title": {"type": "string"}},
  "required": ["title"]
}`)

var setStatusSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
  },
  "required": ["id", "status"]
}`)

// NewTaskManagementServer builds the shared "taskManagement" MCP server.
func NewTaskManagementServer(logger *slog.Logger) *Server {
	list := &taskList{}
	return NewServer("taskManagement", "1.0.0", []ToolSpec{
		{
			Name:        "add_task",
			Description: "add a new todo item to the shared task list",
			Schema:      addTaskSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				title, _ := params["title"].(string)
				if title == "" {
					return "title is required", true, nil
				}
				list.mu.Lock()
				defer list.mu.Unlock()
				t := Task{ID: uuid.NewString(), Title: title, Status: TaskPending}
				list.tasks = append(list.tasks, t)
				return t.ID, false, nil
			},
		},
		{
			Name:        "set_task_status",
			Description: "update a task's status",
			Schema:      setStatusSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				id, _ := params["id"].(string)
				status, _ := params["status"].(string)
				list.mu.Lock()
				defer list.mu.Unlock()
				for i := range list.tasks {
					if list.tasks[i].ID == id {
						list.tasks[i].Status = TaskStatus(status)
						return "updated", false, nil
					}
				}
				return fmt.Sprintf("no task with id %q", id), true, nil
			},
		},
		{
			Name:        "list_tasks",
			Description: "list every tracked task and its status",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				list.mu.Lock()
				defer list.mu.Unlock()
				data, err := json.Marshal(list.tasks)
				if err != nil {
					return "", true, err
				}
				return string(data), false, nil
			},
		},
	}, logger)
}
