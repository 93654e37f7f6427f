package mcpserver

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
)

var gitRunSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {"args": {"type": "array", "items": {"type": "string"}}},
  "required": ["args"]
}`)

// NewGitServer builds the "git" MCP server: a thin wrapper running a
// fixed allowlist of read-mostly git subcommands in workingDirectory,
// grounded on the teacher's internal/mcp.StdioTransport subprocess
// invocation pattern (exec.CommandContext + captured stdout).
func NewGitServer(workingDirectory string, logger *slog.Logger) *Server {
	return NewServer("git", "1.0.0", []ToolSpec{
		{
			Name:        "status",
			Description: "run git status --porcelain",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				return runGit(ctx, workingDirectory, "status", "--porcelain")
			},
		},
		{
			Name:        "diff",
			Description: "run git diff",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				return runGit(ctx, workingDirectory, "diff")
			},
		},
		{
			Name:        "log",
			Description: "run git log --oneline -n 20",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				return runGit(ctx, workingDirectory, "log", "--oneline", "-n", "20")
			},
		},
		{
			Name:        "run",
			Description: "run a git subcommand from a fixed allowlist",
			Schema:      gitRunSchema,
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				raw, _ := params["args"].([]any)
				args := make([]string, 0, len(raw))
				for _, a := range raw {
					if s, ok := a.(string); ok {
						args = append(args, s)
					}
				}
				if len(args) == 0 || !isAllowedGitSubcommand(args[0]) {
					return "subcommand not allowed", true, nil
				}
				return runGit(ctx, workingDirectory, args...)
			},
		},
	}, logger)
}

var allowedGitSubcommands = map[string]bool{
	"status": true, "diff": true, "log": true, "show": true,
	"branch": true, "blame": true, "rev-parse": true,
}

func isAllowedGitSubcommand(name string) bool {
	return allowedGitSubcommands[strings.TrimSpace(name)]
}

func runGit(ctx context.Context, dir string, args ...string) (string, bool, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return errOut.String(), true, nil
	}
	return out.String(), false, nil
}
