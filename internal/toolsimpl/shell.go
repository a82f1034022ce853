package toolsimpl

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	execsafety "github.com/ralphagent/ralph/internal/exec"
	"github.com/ralphagent/ralph/pkg/models"
)

// Shell implements the Shell category's tool. It is not thread-safe: shell
// commands may touch shared state (the working directory, files other
// calls in the same batch also read) so the batch executor must run them
// one at a time.
type Shell struct {
	// WorkDir is the directory commands run in; empty means the process's
	// own working directory.
	WorkDir string
}

func (Shell) Name() string        { return "shell" }
func (Shell) Description() string { return "Runs a shell command and returns its combined output." }
func (Shell) ThreadSafe() bool    { return false }

type shellArgs struct {
	Command string `json:"command"`
}

// Execute rejects a command whose first token doesn't look like a safe
// executable name or path before ever invoking it, using the same check
// the policy engine's allowlist synthesis relies on.
func (s Shell) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewErrorResult("", "invalid_arguments", err.Error()), nil
	}
	command := strings.TrimSpace(a.Command)
	if command == "" {
		return models.NewErrorResult("", "invalid_arguments", "command is required"), nil
	}

	first := strings.Fields(command)
	if len(first) == 0 || !execsafety.IsSafeExecutableValue(first[0]) {
		return models.NewErrorResult("", "unsafe_command", "command does not look like a safe executable invocation"), nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	body, _ := json.Marshal(map[string]string{"output": out.String()})
	if runErr != nil {
		return models.NewErrorResult("", "command_failed", runErr.Error()+": "+out.String()), nil
	}
	return models.ToolResult{Result: string(body), Success: true}, nil
}
