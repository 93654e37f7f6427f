// Package diconfig provides the dependency-injected providers the TUI
// and REST surfaces each bind differently (spec §4.L): the config
// root directory and the working-directory resolver. The Permission
// Broker and the memory store are not part of Providers; callers
// construct them separately. Grounded on the teacher's
// internal/config defaulting pattern (os.UserHomeDir + a dotted
// subdirectory), generalized from a single global config file to a
// set of swappable provider functions.
package diconfig

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrWorkingDirectoryRequired is returned by the REST surface's
// resolver: unlike the terminal surface, which falls back to the
// process CWD, the REST surface must be told the working directory
// explicitly per request (spec §4.H "Working-directory rule").
var ErrWorkingDirectoryRequired = errors.New("working directory must be provided explicitly")

// WorkingDirectoryResolver supplies the working directory to use when
// a network has no worktreePath of its own.
type WorkingDirectoryResolver func() (string, error)

// TerminalWorkingDirectoryResolver falls back to the process's current
// working directory, matching the terminal surface's default (spec §4.H).
func TerminalWorkingDirectoryResolver() (string, error) {
	return os.Getwd()
}

// RESTWorkingDirectoryResolver always fails: the REST surface must
// receive a working directory as part of the request that creates or
// resumes a network (spec §4.H).
func RESTWorkingDirectoryResolver() (string, error) {
	return "", ErrWorkingDirectoryRequired
}

// DefaultConfigRoot returns `~/.vide` for the terminal surface.
func DefaultConfigRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vide"), nil
}

// DefaultAPIConfigRoot returns `~/.vide/api` for the REST surface,
// keeping its persisted networks/memory/settings isolated from any
// concurrently running terminal session (spec §4.L).
func DefaultAPIConfigRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vide", "api"), nil
}

// Providers bundles the injected dependencies a surface binds once at
// startup and threads through to the Network Manager and Agent Client
// constructors.
type Providers struct {
	ConfigRoot       string
	ResolveWorkingDir WorkingDirectoryResolver
}

// NewTerminalProviders builds the terminal surface's default bindings.
func NewTerminalProviders() (*Providers, error) {
	root, err := DefaultConfigRoot()
	if err != nil {
		return nil, err
	}
	return &Providers{ConfigRoot: root, ResolveWorkingDir: TerminalWorkingDirectoryResolver}, nil
}

// NewAPIProviders builds the REST surface's default bindings.
func NewAPIProviders() (*Providers, error) {
	root, err := DefaultAPIConfigRoot()
	if err != nil {
		return nil, err
	}
	return &Providers{ConfigRoot: root, ResolveWorkingDir: RESTWorkingDirectoryResolver}, nil
}

// EffectiveWorkingDirectory implements `effectiveWorkingDirectory(agent)
// = network.worktreePath ?? workingDirProvider()` (spec §4.H).
func (p *Providers) EffectiveWorkingDirectory(worktreePath *string) (string, error) {
	if worktreePath != nil && *worktreePath != "" {
		return *worktreePath, nil
	}
	return p.ResolveWorkingDir()
}
