package mcpserver

import (
	"context"
	"testing"
)

func TestServerStartIsIdempotent(t *testing.T) {
	called := 0
	s := NewServer("test", "1.0", []ToolSpec{
		{Name: "ping", Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
			called++
			return "pong", false, nil
		}},
	}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	out, isErr, err := s.CallTool(context.Background(), "ping", nil)
	if err != nil || isErr || out != "pong" {
		t.Fatalf("unexpected call result: out=%q isErr=%v err=%v", out, isErr, err)
	}
	if called != 1 {
		t.Fatalf("expected handler called once, got %d", called)
	}
}

func TestServeBeforeStartFails(t *testing.T) {
	s := NewServer("test", "1.0", nil, nil)
	if _, _, err := s.Serve(context.Background()); err == nil {
		t.Fatal("expected an error serving before Start")
	}
}

func TestServeReturnsDistinctPipeEnds(t *testing.T) {
	s := NewServer("test", "1.0", []ToolSpec{
		{Name: "ping", Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
			return "pong", false, nil
		}},
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	childIn, childOut, err := s.Serve(ctx)
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	defer childIn.Close()
	defer childOut.Close()

	if childIn == nil || childOut == nil {
		t.Fatal("expected non-nil pipe ends")
	}
	if childIn.Fd() == childOut.Fd() {
		t.Fatal("expected distinct file descriptors for request and response pipes")
	}
}

func TestCallToolBeforeStartFails(t *testing.T) {
	s := NewServer("test", "1.0", nil, nil)
	_, _, err := s.CallTool(context.Background(), "anything", nil)
	if err == nil {
		t.Fatal("expected an error calling a tool before Start")
	}
}

func TestCallToolValidatesSchema(t *testing.T) {
	s := NewServer("test", "1.0", []ToolSpec{
		{Name: "greet", Schema: memorySetSchema, Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
			return "ok", false, nil
		}},
	}, nil)
	_ = s.Start(context.Background())

	out, isErr, err := s.CallTool(context.Background(), "greet", map[string]any{"key": "k"}) // missing required "value"
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isErr {
		t.Fatalf("expected schema validation to fail, got out=%q", out)
	}
}

func TestMemoryServerRememberAndRecall(t *testing.T) {
	backend := &fakeMemoryBackend{}
	s := NewMemoryServer(backend, nil)
	_ = s.Start(context.Background())

	if _, isErr, err := s.CallTool(context.Background(), "remember", map[string]any{"key": "goal", "value": "ship it"}); err != nil || isErr {
		t.Fatalf("remember failed: isErr=%v err=%v", isErr, err)
	}
	out, isErr, err := s.CallTool(context.Background(), "recall", map[string]any{"key": "goal"})
	if err != nil || isErr || out != "ship it" {
		t.Fatalf("unexpected recall result: out=%q isErr=%v err=%v", out, isErr, err)
	}
}

type fakeMemoryBackend struct {
	entries []MemoryRecord
}

func (f *fakeMemoryBackend) All() ([]MemoryRecord, error) { return f.entries, nil }
func (f *fakeMemoryBackend) Set(key, value string) error {
	for i := range f.entries {
		if f.entries[i].Key == key {
			f.entries[i].Value = value
			return nil
		}
	}
	f.entries = append(f.entries, MemoryRecord{Key: key, Value: value})
	return nil
}
func (f *fakeMemoryBackend) Delete(key string) error {
	out := f.entries[:0]
	for _, e := range f.entries {
		if e.Key != key {
			out = append(out, e)
		}
	}
	f.entries = out
	return nil
}

func TestTaskManagementAddAndListTasks(t *testing.T) {
	s := NewTaskManagementServer(nil)
	_ = s.Start(context.Background())

	id, isErr, err := s.CallTool(context.Background(), "add_task", map[string]any{"title": "write tests"})
	if err != nil || isErr {
		t.Fatalf("add_task failed: isErr=%v err=%v", isErr, err)
	}

	if _, isErr, err := s.CallTool(context.Background(), "set_task_status", map[string]any{"id": id, "status": "completed"}); err != nil || isErr {
		t.Fatalf("set_task_status failed: isErr=%v err=%v", isErr, err)
	}

	out, _, _ := s.CallTool(context.Background(), "list_tasks", nil)
	if out == "[]" || out == "" {
		t.Fatalf("expected non-empty task list, got %q", out)
	}
}

type fakeController struct {
	spawnedType string
	routed      bool
}

func (f *fakeController) Spawn(ctx context.Context, parentAgentID, agentType, name, prompt string) (string, error) {
	f.spawnedType = agentType
	return "new-agent-id", nil
}
func (f *fakeController) Route(ctx context.Context, senderAgentID, targetAgentID, message string) error {
	f.routed = true
	return nil
}
func (f *fakeController) SetStatus(ctx context.Context, agentID, status string) error { return nil }
func (f *fakeController) Terminate(ctx context.Context, agentID, reason string) error  { return nil }

func TestAgentServerSpawnAndRoute(t *testing.T) {
	fc := &fakeController{}
	s := NewAgentServer("main-agent", fc, nil)
	_ = s.Start(context.Background())

	out, isErr, err := s.CallTool(context.Background(), "spawnAgent", map[string]any{
		"type": "implementation", "name": "impl-1", "initialPrompt": "do it",
	})
	if err != nil || isErr {
		t.Fatalf("spawnAgent failed: out=%q isErr=%v err=%v", out, isErr, err)
	}
	if fc.spawnedType != "implementation" {
		t.Fatalf("expected spawn to forward agent type, got %q", fc.spawnedType)
	}

	if _, isErr, err := s.CallTool(context.Background(), "sendMessageToAgent", map[string]any{
		"targetAgentId": "new-agent-id", "message": "hi",
	}); err != nil || isErr {
		t.Fatalf("sendMessageToAgent failed: isErr=%v err=%v", isErr, err)
	}
	if !fc.routed {
		t.Fatal("expected route to be forwarded to the controller")
	}
}
