package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ralphagent/ralph/pkg/models"
)

// memoryStore is a minimal in-memory ConversationStore for loop tests.
type memoryStore struct {
	mu      sync.Mutex
	history models.ConversationHistory
	budget  BudgetOutcome
}

func newMemoryStore(availableTokens int) *memoryStore {
	return &memoryStore{budget: BudgetOutcome{AvailableResponseTokens: availableTokens}}
}

func (s *memoryStore) AppendUser(_ context.Context, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.AppendUser(content)
	return nil
}

func (s *memoryStore) AppendAssistant(_ context.Context, content string, toolCalls []models.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.AppendAssistant(content, toolCalls)
	return nil
}

func (s *memoryStore) AppendTool(_ context.Context, toolCallID, toolName, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.AppendTool(toolCallID, toolName, content)
	return nil
}

func (s *memoryStore) CompactIfNeeded(_ context.Context) error { return nil }

func (s *memoryStore) ComputeBudget(_ context.Context) (BudgetOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget, nil
}

func (s *memoryStore) History() models.ConversationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

func (s *memoryStore) ClearForReplan(_ context.Context, stubToolCalls []models.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
	s.history.AppendAssistant("", stubToolCalls)
	s.history.Messages = RepairTranscript(s.history.Messages)
	return nil
}

func (s *memoryStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history.Messages)
}

// scriptedTransport replays a fixed sequence of responses, one per
// RoundTrip call, and errors once the script is exhausted.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []models.ParsedResponse
	errs      []error
	calls     int
}

func (t *scriptedTransport) RoundTrip(_ context.Context, _ models.ConversationHistory, _ int) (models.ParsedResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calls >= len(t.responses) {
		return models.ParsedResponse{}, errors.New("scriptedTransport: no more scripted responses")
	}
	resp := t.responses[t.calls]
	var err error
	if t.calls < len(t.errs) {
		err = t.errs[t.calls]
	}
	t.calls++
	return resp, err
}

type nopSink struct{}

func (nopSink) Emit(context.Context, models.RuntimeEvent) {}

func newLoopFixture(tools ...Tool) (*IterativeLoop, *memoryStore, *scriptedTransport, *OrchestrationContext) {
	registry := NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	executor := NewExecutor(registry, nil)
	orch := NewOrchestrationContext()
	gate := newAllowAllGate()
	batch := NewBatchExecutor(orch, gate, registry, executor, nil, ToolResultGuard{}, nil, nil)
	store := newMemoryStore(1000)
	transport := &scriptedTransport{}
	loop := NewIterativeLoop(orch, batch, transport, store, nopSink{}, NewInterruptFlag(), NewLoopConfig(), nil)
	return loop, store, transport, orch
}

func TestIterativeLoop_NoToolCallsEndsImmediately(t *testing.T) {
	loop, _, transport, _ := newLoopFixture()
	transport.responses = []models.ParsedResponse{{Text: "all done"}}

	reason, err := loop.ProcessMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != EndNoMoreTools {
		t.Fatalf("reason = %v, want EndNoMoreTools", reason)
	}
}

func TestIterativeLoop_RunsInitialBatchThenStops(t *testing.T) {
	tool := &echoTool{name: "echo", threadSafe: true}
	loop, store, transport, _ := newLoopFixture(tool)
	transport.responses = []models.ParsedResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo", Arguments: `{"n":1}`}}},
		{Text: "done"},
	}

	reason, err := loop.ProcessMessage(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != EndNoMoreTools {
		t.Fatalf("reason = %v, want EndNoMoreTools", reason)
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool invoked %d times, want 1", tool.callCount())
	}
	// user, assistant+tool_call, tool result, assistant (final) = 4 messages
	if got := store.messageCount(); got != 4 {
		t.Fatalf("messageCount = %d, want 4", got)
	}
}

func TestIterativeLoop_DuplicateToolCallEndsLoop(t *testing.T) {
	tool := &echoTool{name: "echo", threadSafe: true}
	loop, _, transport, _ := newLoopFixture(tool)
	call := models.ToolCall{ID: "1", Name: "echo", Arguments: `{}`}
	transport.responses = []models.ParsedResponse{
		{ToolCalls: []models.ToolCall{call}},
		// The model re-emits the exact same call id; the loop must treat
		// this as "no fresh work" rather than re-executing it.
		{ToolCalls: []models.ToolCall{call}},
	}

	reason, err := loop.ProcessMessage(context.Background(), "do it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != EndNoMoreTools {
		t.Fatalf("reason = %v, want EndNoMoreTools", reason)
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool invoked %d times, want 1 (second emission is a duplicate)", tool.callCount())
	}
}

func TestIterativeLoop_ContextFullEndsLoop(t *testing.T) {
	loop, store, _, _ := newLoopFixture()
	store.budget = BudgetOutcome{ContextFull: true}

	reason, err := loop.ProcessMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != EndContextFull {
		t.Fatalf("reason = %v, want EndContextFull", reason)
	}
}

func TestIterativeLoop_TransportErrorIsNonFatal(t *testing.T) {
	tool := &echoTool{name: "echo", threadSafe: true}
	loop, _, transport, _ := newLoopFixture(tool)
	transport.responses = []models.ParsedResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo", Arguments: `{}`}}},
		{},
	}
	transport.errs = []error{nil, errors.New("upstream 500")}

	reason, err := loop.ProcessMessage(context.Background(), "do it")
	if reason != EndAPIError {
		t.Fatalf("reason = %v, want EndAPIError", reason)
	}
	if err == nil {
		t.Fatal("expected a non-nil error describing the transport failure")
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool invoked %d times, want 1 (the initial batch should still have run)", tool.callCount())
	}
}

func TestIterativeLoop_MaxIterationsSafetyLimit(t *testing.T) {
	tool := &echoTool{name: "echo", threadSafe: true}
	loop, _, transport, _ := newLoopFixture(tool)
	loop.config.MaxIterations = 2

	// The model never stops requesting a (uniquely-id'd) tool call, so the
	// loop must hit the safety limit rather than spin forever.
	transport.responses = []models.ParsedResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo", Arguments: `{}`}}},
		{ToolCalls: []models.ToolCall{{ID: "2", Name: "echo", Arguments: `{}`}}},
		{ToolCalls: []models.ToolCall{{ID: "3", Name: "echo", Arguments: `{}`}}},
	}

	reason, err := loop.ProcessMessage(context.Background(), "loop forever")
	if reason != EndSafetyLimit {
		t.Fatalf("reason = %v, want EndSafetyLimit", reason)
	}
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("err = %v, want to wrap ErrMaxIterations", err)
	}
}

func TestIterativeLoop_ClearHistoryPreservesPairing(t *testing.T) {
	tool := &echoTool{name: "clearer", threadSafe: true}
	registry := NewToolRegistry()
	registry.Register(&clearingTool{echoTool: tool})
	executor := NewExecutor(registry, nil)
	orch := NewOrchestrationContext()
	gate := newAllowAllGate()
	batch := NewBatchExecutor(orch, gate, registry, executor, nil, ToolResultGuard{}, nil, nil)
	store := newMemoryStore(1000)
	transport := &scriptedTransport{responses: []models.ParsedResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "clearer", Arguments: `{}`}}},
		{Text: "done"},
	}}
	loop := NewIterativeLoop(orch, batch, transport, store, nopSink{}, NewInterruptFlag(), NewLoopConfig(), nil)

	reason, err := loop.ProcessMessage(context.Background(), "reset please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != EndNoMoreTools {
		t.Fatalf("reason = %v, want EndNoMoreTools", reason)
	}

	history := store.History()
	// [assistant stub w/ tool call, tool result, final assistant "done"]
	if len(history.Messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3 (assistant stub + tool result + final assistant message)", len(history.Messages))
	}
	if history.Messages[0].Role != models.RoleAssistant || len(history.Messages[0].ToolCalls) != 1 {
		t.Fatalf("messages[0] = %+v, want assistant stub with one tool call", history.Messages[0])
	}
	if history.Messages[1].Role != models.RoleTool || history.Messages[1].ToolCallID != "1" {
		t.Fatalf("messages[1] = %+v, want tool result paired to call 1", history.Messages[1])
	}
}

// clearingTool wraps echoTool and always asks the loop to clear history.
type clearingTool struct {
	*echoTool
}

func (c *clearingTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	result, err := c.echoTool.Execute(ctx, args)
	result.ClearHistory = true
	result.Success = true
	return result, err
}
