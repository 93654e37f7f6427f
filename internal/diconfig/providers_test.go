package diconfig

import (
	"path/filepath"
	"testing"
)

func TestRESTWorkingDirectoryResolverAlwaysFails(t *testing.T) {
	if _, err := RESTWorkingDirectoryResolver(); err != ErrWorkingDirectoryRequired {
		t.Fatalf("expected ErrWorkingDirectoryRequired, got %v", err)
	}
}

func TestTerminalWorkingDirectoryResolverSucceeds(t *testing.T) {
	if _, err := TerminalWorkingDirectoryResolver(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEffectiveWorkingDirectoryPrefersWorktreePath(t *testing.T) {
	p := &Providers{ResolveWorkingDir: func() (string, error) {
		t.Fatal("should not consult the resolver when worktreePath is set")
		return "", nil
	}}
	worktree := "/tmp/project-worktree"
	got, err := p.EffectiveWorkingDirectory(&worktree)
	if err != nil || got != worktree {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestEffectiveWorkingDirectoryFallsBackToResolver(t *testing.T) {
	p := &Providers{ResolveWorkingDir: func() (string, error) { return "/cwd", nil }}
	got, err := p.EffectiveWorkingDirectory(nil)
	if err != nil || got != "/cwd" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestAPIProvidersRootEndsInAPISubdir(t *testing.T) {
	p, err := NewAPIProviders()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ConfigRoot == "" {
		t.Fatal("expected a non-empty config root")
	}
	if filepath.Base(p.ConfigRoot) != "api" {
		t.Fatalf("expected config root to end in the api subdirectory, got %q", p.ConfigRoot)
	}
}
