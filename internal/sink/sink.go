// Package sink implements the agent.OutputSink the CLI wires into the
// iterative loop: a human-readable terminal renderer for interactive
// sessions, and a line-delimited JSON renderer for --subagent mode and
// scripted callers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ralphagent/ralph/pkg/models"
)

// Terminal renders RuntimeEvents as short human-readable lines, the way an
// interactive session expects to see tool activity scroll by.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal returns a Terminal writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// Emit implements agent.OutputSink.
func (t *Terminal) Emit(_ context.Context, event models.RuntimeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Type {
	case models.EventThinkingStart:
		fmt.Fprintln(t.out, "…")
	case models.EventAssistantMessage:
		if event.Message != "" {
			fmt.Fprintln(t.out, event.Message)
		}
	case models.EventToolStarted:
		fmt.Fprintf(t.out, "→ %s\n", event.ToolName)
	case models.EventToolCompleted:
		fmt.Fprintf(t.out, "✓ %s\n", event.ToolName)
	case models.EventToolFailed:
		fmt.Fprintf(t.out, "✗ %s: %s\n", event.ToolName, event.Message)
	case models.EventToolTimeout:
		fmt.Fprintf(t.out, "✗ %s timed out\n", event.ToolName)
	case models.EventSummarizing:
		fmt.Fprintln(t.out, "(compacting conversation history)")
	}
}

// JSONLines renders every RuntimeEvent as one line of JSON, for
// --subagent mode and any caller that wants to parse engine progress
// programmatically instead of reading prose.
type JSONLines struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONLines returns a JSONLines sink writing to out.
func NewJSONLines(out io.Writer) *JSONLines {
	return &JSONLines{out: out}
}

// Emit implements agent.OutputSink.
func (j *JSONLines) Emit(_ context.Context, event models.RuntimeEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintln(j.out, string(body))
}
