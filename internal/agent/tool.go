package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ralphagent/ralph/pkg/models"
)

// Tool is anything invocable by name with JSON arguments. Implementations
// report whether they are safe to run concurrently with other tools in the
// same batch; the batch executor uses this to decide whether to fan calls
// out or run them one at a time.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error)
	ThreadSafe() bool
}

// Tool parameter limits, guarding against resource exhaustion from a
// misbehaving or adversarial model response.
const (
	MaxToolNameLength = 256
	MaxToolArgsSize   = 10 << 20
)

// ToolRegistry holds the tools available to a loop, keyed by name.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsThreadSafe reports whether a named tool (MCP-routed names included) may
// run concurrently with other calls in the same batch. An unknown tool is
// treated as unsafe so the executor falls back to sequential dispatch.
func (r *ToolRegistry) IsThreadSafe(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	return t.ThreadSafe()
}

// Execute runs a tool by name, validating size limits first. Validation
// failures and missing-tool lookups are returned as failed ToolResults, not
// Go errors, so the caller can feed them straight back to the model.
func (r *ToolRegistry) Execute(ctx context.Context, callID, name string, args json.RawMessage) models.ToolResult {
	if len(name) > MaxToolNameLength {
		return models.NewErrorResult(callID, "invalid_tool", fmt.Sprintf("tool name exceeds %d characters", MaxToolNameLength))
	}
	if len(args) > MaxToolArgsSize {
		return models.NewErrorResult(callID, "invalid_arguments", fmt.Sprintf("tool arguments exceed %d bytes", MaxToolArgsSize))
	}

	t, ok := r.Get(name)
	if !ok {
		return models.NewErrorResult(callID, "tool_not_found", "tool not found: "+name)
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		toolErr := NewToolError(name, err).WithToolCallID(callID)
		return models.NewErrorResult(callID, string(toolErr.Type), toolErr.Error())
	}
	result.ToolCallID = callID
	return result
}

// AsList returns every registered tool, order unspecified. Useful for
// presenting the tool catalog to an LLM transport.
func (r *ToolRegistry) AsList() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}
