package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/csells/vide-cli-sub001/internal/storage"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"start", "resume"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestRunHookApprovesMatchedAllowPattern(t *testing.T) {
	cwd := t.TempDir()
	settings := storage.NewSettingsStore(cwd, "vide-core")
	if err := settings.AllowPattern("Read"); err != nil {
		t.Fatalf("AllowPattern: %v", err)
	}

	payload, err := json.Marshal(hookPayload{ToolName: "Read", Cwd: cwd})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	var out bytes.Buffer
	if err := runHook(context.Background(), bytes.NewReader(payload), &out); err != nil {
		t.Fatalf("runHook: %v", err)
	}

	var decision hookDecision
	if err := json.Unmarshal(out.Bytes(), &decision); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if decision.Decision != "approve" {
		t.Fatalf("expected approve, got %q", decision.Decision)
	}
}

func TestRunHookAsksWhenNoPatternMatches(t *testing.T) {
	cwd := t.TempDir()
	if err := os.MkdirAll(filepath.Join(cwd, ".claude"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	payload, err := json.Marshal(hookPayload{ToolName: "Bash", Cwd: cwd})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	var out bytes.Buffer
	if err := runHook(context.Background(), bytes.NewReader(payload), &out); err != nil {
		t.Fatalf("runHook: %v", err)
	}

	var decision hookDecision
	if err := json.Unmarshal(out.Bytes(), &decision); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if decision.Decision != "ask" {
		t.Fatalf("expected ask, got %q", decision.Decision)
	}
}

func TestRunHookRejectsMalformedPayload(t *testing.T) {
	var out bytes.Buffer
	if err := runHook(context.Background(), bytes.NewReader([]byte("not json")), &out); err == nil {
		t.Fatal("expected an error for malformed hook payload")
	}
}
