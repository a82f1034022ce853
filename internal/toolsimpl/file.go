// Package toolsimpl provides the reference Tool implementations that give
// the registry something real to dispatch to: file read/write gated by
// policy's TOCTOU-safe verification, a shell tool gated by internal/exec's
// argument safety checks, and a small SQLite-backed memory store.
package toolsimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ralphagent/ralph/internal/policy"
	"github.com/ralphagent/ralph/pkg/models"
)

// ReadFile implements the FileRead category's tool.
type ReadFile struct{}

func (ReadFile) Name() string        { return "read_file" }
func (ReadFile) Description() string { return "Reads a file's contents from disk." }
func (ReadFile) ThreadSafe() bool    { return true }

type readFileArgs struct {
	Path string `json:"path"`
}

// Execute resolves and verifies path immediately before opening it, closing
// the window between any approval prompt and the actual read.
func (ReadFile) Execute(_ context.Context, args json.RawMessage) (models.ToolResult, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewErrorResult("", "invalid_arguments", err.Error()), nil
	}
	if a.Path == "" {
		return models.NewErrorResult("", "invalid_arguments", "path is required"), nil
	}

	ap, err := policy.Resolve(a.Path)
	if err != nil {
		return models.NewErrorResult("", "path_changed", err.Error()), nil
	}
	if !ap.Existed {
		return models.NewErrorResult("", "not_found", "file does not exist: "+a.Path), nil
	}

	f, err := policy.VerifyAndOpen(ap, os.O_RDONLY, 0)
	if err != nil {
		return models.NewErrorResult("", "path_changed", err.Error()), nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return models.NewErrorResult("", "read_failed", err.Error()), nil
	}

	body, _ := json.Marshal(map[string]string{"content": string(data)})
	return models.ToolResult{Result: string(body), Success: true}, nil
}

// WriteFile implements the FileWrite category's tool.
type WriteFile struct{}

func (WriteFile) Name() string        { return "write_file" }
func (WriteFile) Description() string { return "Writes content to a file, creating or truncating it." }
func (WriteFile) ThreadSafe() bool    { return false }

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Execute resolves path, then — for a new file — verifies the parent
// directory hasn't changed and creates exclusively; for an existing file it
// re-verifies the file's identity before truncating and writing, the same
// TOCTOU-safe sequence read_file uses.
func (WriteFile) Execute(_ context.Context, args json.RawMessage) (models.ToolResult, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewErrorResult("", "invalid_arguments", err.Error()), nil
	}
	if a.Path == "" {
		return models.NewErrorResult("", "invalid_arguments", "path is required"), nil
	}

	ap, err := policy.Resolve(a.Path)
	if err != nil {
		return models.NewErrorResult("", "path_changed", err.Error()), nil
	}

	f, err := policy.VerifyAndOpen(ap, os.O_WRONLY, 0o644)
	if err != nil {
		return models.NewErrorResult("", "path_changed", err.Error()), nil
	}
	defer f.Close()

	if ap.Existed {
		if err := f.Truncate(0); err != nil {
			return models.NewErrorResult("", "write_failed", err.Error()), nil
		}
	}

	if _, err := f.WriteString(a.Content); err != nil {
		return models.NewErrorResult("", "write_failed", err.Error()), nil
	}

	body, _ := json.Marshal(map[string]string{"status": fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path)})
	return models.ToolResult{Result: string(body), Success: true}, nil
}
