// Command vide is the core binary's CLI surface (spec §6): a root
// command that either starts a network and streams its multiplexed
// events to stdout, resumes a persisted one, or — given --hook — acts
// as the permission-handler the subprocess CLI invokes via the
// settings file's preToolUse hook entry.
//
// Grounded on the teacher's cmd/nexus/main.go (buildRootCmd +
// buildXCmd()-per-subcommand shape, persistent flags, slog JSON
// logging configured in main before rootCmd.Execute), generalized from
// a channel gateway's service commands to vide's network lifecycle
// commands.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/csells/vide-cli-sub001/internal/agentconfig"
	"github.com/csells/vide-cli-sub001/internal/diconfig"
	"github.com/csells/vide-cli-sub001/internal/multiplex"
	"github.com/csells/vide-cli-sub001/internal/network"
	"github.com/csells/vide-cli-sub001/internal/permission"
	"github.com/csells/vide-cli-sub001/internal/storage"
	"github.com/csells/vide-cli-sub001/pkg/vide"
	"github.com/spf13/cobra"
)

var hookMode bool

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command. Separated from main for
// testability, matching the teacher's shape.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vide",
		Short: "vide drives a network of cooperating AI coding agents against one project",
		Long: `vide is the core orchestration runtime: it owns one LLM-subprocess
Client per agent, persists and routes a flat Network of them, and
multiplexes their output onto one attributed event stream.

Invoked with --hook and no subcommand, the process instead answers one
preToolUse hook call raised by a subprocess CLI via the project's
settings file (spec §6).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !hookMode {
				return cmd.Help()
			}
			return runHook(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	rootCmd.PersistentFlags().BoolVar(&hookMode, "hook", false, "run as the settings-file preToolUse hook handler")

	rootCmd.AddCommand(
		buildStartCmd(),
		buildResumeCmd(),
	)
	return rootCmd
}

// hookPayload is the subset of the subprocess CLI's preToolUse hook
// call the core answers (spec §6 settings file / §182 CLI surface):
// tool name, its input, and the cwd whose settings.local.json governs
// it.
type hookPayload struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	Cwd       string         `json:"cwd"`
}

// hookDecision is printed back to the subprocess CLI on stdout.
type hookDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// runHook answers one preToolUse hook invocation (spec §182: "Exit
// code 0 on success; non-zero on protocol error"). It consults only
// the durable settings allow-list for cwd: a live "ask the running
// network's Broker" round trip would need an IPC channel to a parent
// instance that spec.md leaves unspecified (an Open Question, recorded
// in DESIGN.md), so an unmatched tool is answered "ask" rather than
// blocking this short-lived process indefinitely.
func runHook(ctx context.Context, in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read hook payload: %w", err)
	}
	var payload hookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode hook payload: %w", err)
	}

	settings := storage.NewSettingsStore(payload.Cwd, "vide-core")
	loaded, err := settings.Load()
	if err != nil {
		return fmt.Errorf("load settings for %q: %w", payload.Cwd, err)
	}

	decision := hookDecision{Decision: "ask"}
	for _, pattern := range loaded.Permissions.Allow {
		if permission.MatchesPattern(pattern, payload.ToolName) {
			decision = hookDecision{Decision: "approve", Reason: "matched remembered allow pattern " + pattern}
			break
		}
	}

	enc := json.NewEncoder(out)
	return enc.Encode(decision)
}

// buildStartCmd starts a brand-new network with one main agent and
// streams its multiplexed events to stdout until the main agent goes
// idle (spec §4.H startNew, §4.I).
func buildStartCmd() *cobra.Command {
	var (
		workingDir string
		command    string
	)
	cmd := &cobra.Command{
		Use:   "start [initial message]",
		Short: "start a new network and stream its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newTerminalManager(command)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var wd *string
			if workingDir != "" {
				wd = &workingDir
			}

			net, err := mgr.StartNew(ctx, args[0], wd)
			if err != nil {
				return fmt.Errorf("start network: %w", err)
			}
			slog.Info("network started", "networkId", net.ID, "mainAgentId", net.Agents[0].ID)

			return streamUntilIdle(ctx, mgr, net.ID, net.Agents[0].ID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "project working directory (defaults to the process cwd)")
	cmd.Flags().StringVar(&command, "command", "claude", "subprocess CLI command to launch for each agent")
	return cmd
}

// buildResumeCmd reattaches Clients to every agent of a previously
// persisted network and streams its events (spec §4.H resume).
func buildResumeCmd() *cobra.Command {
	var (
		workingDir string
		command    string
	)
	cmd := &cobra.Command{
		Use:   "resume [networkId]",
		Short: "resume a persisted network and stream its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newTerminalManager(command)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			wd := workingDir
			if wd == "" {
				wd, err = os.Getwd()
				if err != nil {
					return err
				}
			}
			store := storage.NewNetworkStore(mgr.Providers().ConfigRoot, wd)
			net, found, err := store.Load(args[0])
			if err != nil {
				return fmt.Errorf("load network %q: %w", args[0], err)
			}
			if !found {
				return fmt.Errorf("network %q not found under %q", args[0], wd)
			}

			if err := mgr.Resume(ctx, net); err != nil {
				return fmt.Errorf("resume network: %w", err)
			}
			slog.Info("network resumed", "networkId", net.ID, "agents", len(net.Agents))

			mainAgentID := net.Agents[0].ID
			for _, a := range net.Agents {
				if a.Type == vide.AgentTypeMain {
					mainAgentID = a.ID
					break
				}
			}
			return streamUntilIdle(ctx, mgr, net.ID, mainAgentID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "project working directory that owns the persisted network")
	cmd.Flags().StringVar(&command, "command", "claude", "subprocess CLI command to launch for each agent")
	return cmd
}

// streamUntilIdle drains mux's subscriber channel to out as JSON lines
// until the main agent reaches StateIdle (spec §4.F turn-complete,
// §4.I done events), or ctx is canceled.
func streamUntilIdle(ctx context.Context, mgr *network.Manager, networkID, mainAgentID string, out io.Writer) error {
	w := bufio.NewWriter(out)
	defer w.Flush()

	events := mgr.Multiplexer(networkID).Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			line, err := json.Marshal(eventView{
				AgentID:   e.AgentID,
				AgentType: e.AgentType,
				AgentName: e.AgentName,
				Type:      string(e.Type),
				Data:      e.Data,
			})
			if err != nil {
				return err
			}
			w.Write(line)
			w.WriteString("\n")
			w.Flush()

			if e.Type == multiplex.EventDone && e.AgentID == mainAgentID {
				if client, ok := mgr.Client(mainAgentID); ok {
					if client.Conversation().State == vide.StateIdle {
						return nil
					}
				}
			}
		}
	}
}

// eventView is the JSON-line shape printed by the start/resume
// commands; it re-exposes multiplex.Event's fields with a plain
// string Type so every consumer can grep/jq it without importing this
// module.
type eventView struct {
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	AgentName string `json:"agentName"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

// newTerminalManager wires a Network Manager bound to the terminal
// surface's providers (spec §4.L: config root `~/.vide`, working
// directory falls back to the process cwd).
func newTerminalManager(command string) (*network.Manager, error) {
	providers, err := diconfig.NewTerminalProviders()
	if err != nil {
		return nil, fmt.Errorf("build terminal providers: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	settings := storage.NewSettingsStore(wd, "vide-core")
	broker := permission.New(settings)

	userDefined, err := agentconfig.LoadUserDefinedAgents(filepath.Join(wd, "agents.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load agents.yaml: %w", err)
	}
	builder := agentconfig.NewBuilder(userDefined)

	return network.NewManager(providers, builder, broker, network.AgentCommand{
		Command: command,
	}, slog.Default()), nil
}
