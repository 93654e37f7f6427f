package agentclient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

func writeSession(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write session file: %v", err)
	}
	return path
}

func TestLoadSessionFileMissingIsNotAnError(t *testing.T) {
	conv, ok, err := loadSessionFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil || ok {
		t.Fatalf("expected no error and ok=false for a missing file, got ok=%v err=%v", ok, err)
	}
	if len(conv.Messages) != 0 {
		t.Fatalf("expected empty conversation, got %+v", conv)
	}
}

func TestLoadSessionFileReplaysPriorTurn(t *testing.T) {
	path := writeSession(t,
		`{"type":"assistant","id":"m1","message":{"role":"assistant","content":[{"type":"text","text":"hi there","is_partial":false}],"stop_reason":"end_turn","usage":{"input_tokens":3}}}`,
	)
	conv, ok, err := loadSessionFile(path)
	if err != nil || !ok {
		t.Fatalf("expected successful resume, got ok=%v err=%v", ok, err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "hi there" {
		t.Fatalf("unexpected replayed conversation: %+v", conv)
	}
	if conv.State != vide.StateIdle {
		t.Fatalf("expected idle state after resume, got %v", conv.State)
	}
}

func TestLoadSessionFileRepairsTruncatedTail(t *testing.T) {
	path := writeSession(t,
		`{"type":"assistant","id":"m1","message":{"role":"assistant","content":[{"type":"text","text":"hello","is_partial":false}],"stop_reason":"end_turn"}}`,
		`{"type":"assistant","id":"m2","message":{"role":"assistant","content":[{"type":"text","text":"wor`, // truncated
	)
	conv, ok, err := loadSessionFile(path)
	if err != nil || !ok {
		t.Fatalf("expected repaired resume to succeed, got ok=%v err=%v", ok, err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "hello" {
		t.Fatalf("expected only the complete first message to survive repair, got %+v", conv)
	}
}
