// Package main is the CLI entry point for ralph, an interactive coding
// agent: an iterative LLM tool-calling loop gated by an approval policy
// engine, with subagent processes supervised as plain child processes.
//
// # Basic Usage
//
// Start an interactive session:
//
//	ralph chat
//
// Run as a supervised subagent (invoked by the supervisor, not by a user):
//
//	ralph --subagent --task "..." --context "..."
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - RALPH_CONFIG: path to the YAML policy/runtime config file
//   - APPROVAL_REQUEST_FD, APPROVAL_RESPONSE_FD, PARENT_AGENT_ID: set by the
//     supervisor when it spawns a subagent process; read automatically in
//     --subagent mode
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ralphagent/ralph/internal/agent"
	"github.com/ralphagent/ralph/internal/config"
	"github.com/ralphagent/ralph/internal/history"
	"github.com/ralphagent/ralph/internal/metrics"
	"github.com/ralphagent/ralph/internal/policy"
	"github.com/ralphagent/ralph/internal/sink"
	"github.com/ralphagent/ralph/internal/subagent"
	"github.com/ralphagent/ralph/internal/toolschema"
	"github.com/ralphagent/ralph/internal/toolsimpl"
	"github.com/ralphagent/ralph/internal/transport"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath   string
	subagentMode bool
	taskFlag     string
	contextFlag  string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ralph",
		Short:        "ralph - an interactive coding agent",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		// The supervisor re-execs this binary as `ralph --subagent --task
		// ...` with no subcommand, so the root command itself must run the
		// loop when --subagent is set.
		RunE: func(cmd *cobra.Command, args []string) error {
			if subagentMode {
				return runChat(cmd, args)
			}
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("RALPH_CONFIG"), "path to ralph.yaml")
	root.PersistentFlags().BoolVar(&subagentMode, "subagent", false, "run in non-interactive subagent mode")
	root.PersistentFlags().StringVar(&taskFlag, "task", "", "task description (subagent mode)")
	root.PersistentFlags().StringVar(&contextFlag, "context", "", "additional context (subagent mode)")

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Run the iterative agent loop",
		RunE:  runChat,
	}
	root.AddCommand(chat)

	return root
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.Default().With("component", "ralph")

	if subagentMode {
		return runSubagent(ctx, cfg, logger)
	}
	return runInteractive(ctx, cfg, logger)
}

// engineParts is everything buildEngine wires that both interactive and
// subagent mode share: the schema-gated tool registry, the executor, the
// policy engine, the metrics/tracing hooks, and the tool definitions the
// transport advertises to the model.
type engineParts struct {
	registry *agent.ToolRegistry
	executor *agent.Executor
	engine   *policy.Engine
	instr    agent.Instrumentation
	toolDefs []transport.ToolDefinition
}

// buildEngine wires the policy engine, tool registry, executor, and
// metrics common to both interactive and subagent mode. Every reference
// tool is registered behind its argument-schema gate, and the same schema
// is what the transport advertises for it.
func buildEngine(cfg config.Config, logger *slog.Logger) (engineParts, error) {
	memories, err := toolsimpl.OpenMemoryStore(os.Getenv("RALPH_MEMORY_DB"))
	if err != nil {
		return engineParts{}, err
	}

	tools := []struct {
		tool   agent.Tool
		schema []byte
	}{
		{toolsimpl.ReadFile{}, toolsimpl.ReadFileSchema},
		{toolsimpl.WriteFile{}, toolsimpl.WriteFileSchema},
		{toolsimpl.Shell{}, toolsimpl.ShellSchema},
		{toolsimpl.Remember{Store: memories}, toolsimpl.RememberSchema},
		{toolsimpl.RecallMemories{Store: memories}, toolsimpl.RecallMemoriesSchema},
	}

	registry := agent.NewToolRegistry()
	toolDefs := make([]transport.ToolDefinition, 0, len(tools))
	for _, entry := range tools {
		gated, err := toolschema.Wrap(entry.tool, entry.schema)
		if err != nil {
			return engineParts{}, err
		}
		registry.Register(gated)

		var inputSchema map[string]any
		if err := json.Unmarshal(entry.schema, &inputSchema); err != nil {
			return engineParts{}, fmt.Errorf("tool schema for %s is not valid JSON: %w", entry.tool.Name(), err)
		}
		toolDefs = append(toolDefs, transport.ToolDefinition{
			Name:        entry.tool.Name(),
			Description: entry.tool.Description(),
			InputSchema: inputSchema,
		})
	}

	engine := policy.NewEngine(cfg.Policy.ToPolicyConfig(logger))
	if cwd, err := os.Getwd(); err == nil {
		engine.WatchProtectedDir(cwd)
	}

	return engineParts{
		registry: registry,
		executor: agent.NewExecutor(registry, nil),
		engine:   engine,
		instr:    metrics.NewEngineInstrumentation(metrics.New(), metrics.NewTracer("ralph")),
		toolDefs: toolDefs,
	}, nil
}

func buildTransport(cfg config.Config, toolDefs []transport.ToolDefinition) (*transport.AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	return transport.NewAnthropicClient(transport.Config{
		APIKey:       apiKey,
		Model:        cfg.Runtime.Model,
		SystemPrompt: cfg.Runtime.SystemPrompt,
		Tools:        toolDefs,
	})
}

func runInteractive(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	parts, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	client, err := buildTransport(cfg, parts.toolDefs)
	if err != nil {
		return err
	}

	prompter := policy.NewPrompter(os.Stdin, os.Stdout)
	approver := agent.NewTTYApprover(prompter)
	gate := agent.NewApprovalGate(parts.engine, approver, cfg.Policy.IsInteractive)
	gate.SetInstrumentation(parts.instr)

	self, err := os.Executable()
	if err != nil {
		return err
	}
	supervisor := subagent.NewSupervisor(cfg.Subagent.MaxActive, self)
	defer supervisor.Cleanup()

	orch := agent.NewOrchestrationContext()
	interrupt := agent.NewInterruptFlag()
	out := sink.NewTerminal(os.Stdout)
	guard := agent.ToolResultGuard{
		Enabled:         true,
		MaxChars:        agent.DefaultMaxToolResultSize,
		SanitizeSecrets: true,
		RedactionText:   "[redacted]",
		TruncateSuffix:  "...[truncated]",
	}

	batch := agent.NewBatchExecutor(orch, gate, parts.registry, parts.executor, supervisor, guard, out, interrupt)
	batch.SetInstrumentation(parts.instr)
	store := history.New(cfg.Runtime.Model)
	loopCfg := agent.NewLoopConfig()
	if cfg.Runtime.MaxIterations > 0 {
		loopCfg.MaxIterations = cfg.Runtime.MaxIterations
	}
	loop := agent.NewIterativeLoop(orch, batch, client, store, out, interrupt, loopCfg, logger)
	loop.SetInstrumentation(parts.instr)

	fmt.Println("ralph ready. Type your request, Ctrl-C to quit.")
	scanner := newLineScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reason, err := loop.ProcessMessage(ctx, line)
		if err != nil {
			logger.Error("turn ended in error", "reason", reason, "error", err)
			continue
		}
		logger.Debug("turn complete", "reason", reason)
	}
	return scanner.Err()
}

// runSubagent runs exactly one ProcessMessage call non-interactively,
// proxying approvals to the parent process over the fds it was spawned
// with.
func runSubagent(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if taskFlag == "" {
		return fmt.Errorf("--subagent requires --task")
	}
	logger = logger.With("parent_agent_id", parentAgentID())

	parts, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	client, err := buildTransport(cfg, parts.toolDefs)
	if err != nil {
		return err
	}

	var gate *agent.ApprovalGate
	if reqW, respR, ok := approvalFDsFromEnv(); ok {
		approver := agent.NewProxyApprover(reqW, respR, agent.DefaultApprovalProxyTimeout)
		gate = agent.NewApprovalGate(parts.engine, approver, true)
	} else {
		gate = agent.NewApprovalGate(parts.engine, nil, false)
	}
	gate.SetInstrumentation(parts.instr)

	orch := agent.NewOrchestrationContext()
	interrupt := agent.NewInterruptFlag()
	out := sink.NewJSONLines(os.Stdout)
	guard := agent.ToolResultGuard{
		Enabled:         true,
		MaxChars:        agent.DefaultMaxToolResultSize,
		SanitizeSecrets: true,
	}

	// A subagent never gets a supervisor of its own: the spawn cap is
	// enforced here, in the child, by leaving it nil — any "subagent" tool
	// call comes back as subagent_spawn_failed instead of forking deeper.
	batch := agent.NewBatchExecutor(orch, gate, parts.registry, parts.executor, nil, guard, out, interrupt)
	batch.SetInstrumentation(parts.instr)
	store := history.New(cfg.Runtime.Model)
	loopCfg := agent.NewLoopConfig()
	if cfg.Runtime.MaxIterations > 0 {
		loopCfg.MaxIterations = cfg.Runtime.MaxIterations
	}
	loop := agent.NewIterativeLoop(orch, batch, client, store, out, interrupt, loopCfg, logger)
	loop.SetInstrumentation(parts.instr)

	message := taskFlag
	if contextFlag != "" {
		message = taskFlag + "\n\n" + contextFlag
	}

	reason, err := loop.ProcessMessage(ctx, message)
	if err != nil {
		return fmt.Errorf("subagent %s: %w", reason, err)
	}
	return nil
}

// approvalFDsFromEnv parses APPROVAL_REQUEST_FD/APPROVAL_RESPONSE_FD, the
// file descriptors the supervisor hands a freshly spawned subagent via
// exec.Cmd.ExtraFiles.
func approvalFDsFromEnv() (reqW, respR *os.File, ok bool) {
	reqFD, err1 := parseFD(os.Getenv("APPROVAL_REQUEST_FD"))
	respFD, err2 := parseFD(os.Getenv("APPROVAL_RESPONSE_FD"))
	if err1 != nil || err2 != nil {
		return nil, nil, false
	}
	return os.NewFile(reqFD, "approval-request"), os.NewFile(respFD, "approval-response"), true
}

// newLineScanner wraps a bufio.Scanner reading whole lines from in.
func newLineScanner(in *os.File) *bufio.Scanner {
	return bufio.NewScanner(in)
}

// parseFD parses an fd handed down by the supervisor. Stdio descriptors
// (0-2) and anything outside the int range are rejected, so a corrupted or
// hostile environment variable can never alias the child's own stdio.
func parseFD(s string) (uintptr, error) {
	if s == "" {
		return 0, fmt.Errorf("empty fd")
	}
	fd, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if fd <= 2 || fd > math.MaxInt32 {
		return 0, fmt.Errorf("fd %d out of range", fd)
	}
	return uintptr(fd), nil
}

// parentAgentID returns PARENT_AGENT_ID if set, else a fresh id — used for
// correlating this subagent's own logs/metrics with its parent.
func parentAgentID() string {
	if id := os.Getenv("PARENT_AGENT_ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
