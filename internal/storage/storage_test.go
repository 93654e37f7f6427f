package storage

import (
	"path/filepath"
	"testing"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

func TestNetworkStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewNetworkStore(root, "/home/user/project")

	network := vide.AgentNetwork{ID: "net-1", Goal: "ship the feature"}
	if err := s.Save(network); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, found, err := s.Load("net-1")
	if err != nil || !found {
		t.Fatalf("load failed: found=%v err=%v", found, err)
	}
	if loaded.Goal != "ship the feature" {
		t.Fatalf("unexpected loaded network: %+v", loaded)
	}

	if _, found, err := s.Load("does-not-exist"); err != nil || found {
		t.Fatalf("expected found=false for missing network, got found=%v err=%v", found, err)
	}
}

func TestNetworkStoreListsPersistedNetworks(t *testing.T) {
	root := t.TempDir()
	s := NewNetworkStore(root, "/proj")
	_ = s.Save(vide.AgentNetwork{ID: "a"})
	_ = s.Save(vide.AgentNetwork{ID: "b"})

	ids, err := s.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 networks, got %v", ids)
	}
}

func TestMemoryStoreSetUpsertsAndReplaces(t *testing.T) {
	root := t.TempDir()
	s := NewMemoryStore(root, "/proj")

	if err := s.Set("goal", "v1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set("goal", "v2"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 1 || all[0].Value != "v2" || all[0].UpdatedAt == nil {
		t.Fatalf("expected a single replaced entry, got %+v", all)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	root := t.TempDir()
	s := NewMemoryStore(root, "/proj")
	_ = s.Set("k", "v")
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	all, _ := s.All()
	if len(all) != 0 {
		t.Fatalf("expected empty memory after delete, got %+v", all)
	}
}

func TestSettingsStoreAllowPatternIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s := NewSettingsStore(root, "vide-core")

	if err := s.AllowPattern("Bash(git *)"); err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if err := s.AllowPattern("Bash(git *)"); err != nil {
		t.Fatalf("allow failed: %v", err)
	}

	settings, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(settings.Permissions.Allow) != 1 {
		t.Fatalf("expected one deduplicated allow pattern, got %v", settings.Permissions.Allow)
	}
}

func TestSettingsStoreEnsureHookReplacesOwnPriorEntry(t *testing.T) {
	root := t.TempDir()
	s := NewSettingsStore(root, "vide-core")

	if err := s.EnsureHook("/usr/local/bin/vide --hook"); err != nil {
		t.Fatalf("ensure hook failed: %v", err)
	}
	if err := s.EnsureHook("/opt/vide/bin/vide --hook"); err != nil {
		t.Fatalf("ensure hook failed: %v", err)
	}

	settings, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(settings.Hooks.PreToolUse) != 1 {
		t.Fatalf("expected exactly one hook entry after re-installation, got %d", len(settings.Hooks.PreToolUse))
	}
	if settings.Hooks.PreToolUse[0].Hooks[0].Command != "/opt/vide/bin/vide --hook" {
		t.Fatalf("expected the hook command to be updated, got %+v", settings.Hooks.PreToolUse[0])
	}
}

func TestEncodeProjectPathIsFilesystemSafe(t *testing.T) {
	got := EncodeProjectPath("/Users/bob/My Project!")
	if filepath.Base(got) != got {
		t.Fatalf("encoded path must not contain path separators: %q", got)
	}
}
