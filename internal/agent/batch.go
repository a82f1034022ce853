package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ralphagent/ralph/internal/policy"
	"github.com/ralphagent/ralph/internal/subagent"
	"github.com/ralphagent/ralph/pkg/models"
)

// BatchOutcome is the terminal disposition of one BatchExecutor run.
type BatchOutcome int

const (
	// BatchOK means every call in the batch was processed to a result
	// (whether that result is a success, a tool failure, or a policy
	// denial) without the batch itself being cut short.
	BatchOK BatchOutcome = iota
	// BatchAborted means the user denied approval for some call via an
	// interactive Ctrl+C during the prompt; the call being prompted and
	// every call after it in the batch are filled with an aborted result.
	BatchAborted
	// BatchInterrupted means SIGINT was observed between calls; every
	// remaining unfilled slot is filled with an interrupted result.
	BatchInterrupted
)

// pathExtractorKeys are the argument object keys BatchExecutor checks, in
// order, for a file-targeted tool call's path, used for protected-file
// classification. A tool whose schema uses some other key is simply never
// subject to the protected-file check — the check is a defense-in-depth
// backstop, not the tool's own validation.
var pathExtractorKeys = []string{"path", "file_path", "filename"}

func extractPathArgument(argumentsJSON string) string {
	if argumentsJSON == "" {
		return ""
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(argumentsJSON), &raw); err != nil {
		return ""
	}
	for _, key := range pathExtractorKeys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// summarizeCall renders the one-line text shown to an approver (TTY prompt
// or proxied subagent display) for a tool call.
func summarizeCall(call models.ToolCall) string {
	const maxArgsLen = 400
	args := call.Arguments
	if len(args) > maxArgsLen {
		args = args[:maxArgsLen] + "...(truncated)"
	}
	return fmt.Sprintf("%s %s", call.Name, args)
}

type pendingCall struct {
	index int
	call  models.ToolCall
}

// BatchExecutor runs one flat list of tool calls through the full pipeline:
// interrupt handling, per-session deduplication, the per-batch subagent
// cap, approval, dispatch (including the subagent spawn/status special
// cases), and — when every call in the batch targets a thread-safe tool —
// bounded parallel dispatch.
type BatchExecutor struct {
	orchestration *OrchestrationContext
	gate          *ApprovalGate
	registry      *ToolRegistry
	executor      *Executor
	subagents     *subagent.Supervisor
	guard         ToolResultGuard
	sink          OutputSink
	interrupt     *InterruptFlag
	instr         Instrumentation
}

// SetInstrumentation attaches optional metrics/tracing hooks. A nil value
// leaves the executor uninstrumented.
func (b *BatchExecutor) SetInstrumentation(instr Instrumentation) {
	b.instr = instr
}

// NewBatchExecutor wires the per-session orchestration context, approval
// gate, tool registry/executor, and (optional) subagent supervisor into one
// batch pipeline. sink and interrupt may be nil; a nil sink silently drops
// events and a nil interrupt flag disables interrupt handling (useful in
// tests).
func NewBatchExecutor(orchestration *OrchestrationContext, gate *ApprovalGate, registry *ToolRegistry, executor *Executor, subagents *subagent.Supervisor, guard ToolResultGuard, sink OutputSink, interrupt *InterruptFlag) *BatchExecutor {
	return &BatchExecutor{
		orchestration: orchestration,
		gate:          gate,
		registry:      registry,
		executor:      executor,
		subagents:     subagents,
		guard:         guard,
		sink:          sink,
		interrupt:     interrupt,
	}
}

// ExecuteDirect runs calls in direct mode: no deduplication, and every
// index of calls gets exactly one result at the same index. Used for the
// initial batch following a user message, where the assistant-tool pairing
// invariant requires a result for every tool call the model just emitted.
func (b *BatchExecutor) ExecuteDirect(ctx context.Context, calls []models.ToolCall) ([]models.ToolResult, BatchOutcome) {
	results := make([]models.ToolResult, len(calls))
	outcome := b.run(ctx, calls, false, results, nil)
	return results, outcome
}

// ExecuteCompact runs calls in compact mode: calls whose id has already
// been executed this session are skipped (no slot emitted for them), and
// callIndices[k] names the index into calls that produced results[k]. Used
// inside the iterative loop, where a model that re-emits a prior call id
// must not be re-executed.
func (b *BatchExecutor) ExecuteCompact(ctx context.Context, calls []models.ToolCall) (results []models.ToolResult, callIndices []int, outcome BatchOutcome) {
	slots := make([]models.ToolResult, len(calls))
	filled := make([]bool, len(calls))
	outcome = b.run(ctx, calls, true, nil, func(i int, r models.ToolResult) {
		slots[i] = r
		filled[i] = true
	})
	for i, ok := range filled {
		if ok {
			results = append(results, slots[i])
			callIndices = append(callIndices, i)
		}
	}
	return results, callIndices, outcome
}

// run drives the shared pipeline for both modes. In direct mode, slots is
// pre-sized to len(calls) and every index is written exactly once. In
// compact mode, slots is nil and emit is called exactly once per
// non-duplicate call, possibly from parallel workers and so not in call
// order; ExecuteCompact puts the emitted results back in call order.
func (b *BatchExecutor) run(ctx context.Context, calls []models.ToolCall, compact bool, slots []models.ToolResult, emit func(i int, r models.ToolResult)) (outcome BatchOutcome) {
	if b.instr != nil {
		defer func() { b.instr.BatchFinished(batchOutcomeLabel(outcome)) }()
	}
	if b.gate != nil {
		b.gate.RefreshProtected()
	}
	set := func(i int, r models.ToolResult) {
		r.ToolCallID = calls[i].ID
		if !compact {
			slots[i] = r
			return
		}
		emit(i, r)
	}

	var work []pendingCall

	for i, call := range calls {
		if b.interrupt != nil && b.interrupt.Consume() {
			for _, w := range work {
				set(w.index, models.NewErrorResult(w.call.ID, "interrupted", "cancelled by user"))
			}
			b.fillInterrupted(calls, i, compact, set)
			return BatchInterrupted
		}

		if compact && b.orchestration.IsDuplicate(call.ID) {
			continue
		}
		b.orchestration.MarkExecuted(call.ID)

		if !b.orchestration.CanSpawnSubagent(call.Name) {
			set(i, models.NewErrorResult(call.ID, "duplicate_subagent", "only one subagent may be spawned per batch"))
			continue
		}
		if call.Name == "subagent" {
			b.orchestration.MarkSubagentSpawned()
		}

		policyCall := policy.ToolCall{Name: call.Name, Arguments: call.Arguments, Path: extractPathArgument(call.Arguments)}
		decision, blockedResult := b.gate.CheckAndPrompt(policyCall, summarizeCall(call))
		switch decision {
		case GateAborted:
			set(i, models.NewErrorResult(call.ID, "aborted", "cancelled by user"))
			b.fillAborted(calls, i+1, compact, set)
			b.dispatchWork(ctx, work, set)
			return BatchAborted
		case GateBlocked:
			set(i, blockedResult)
			continue
		}

		work = append(work, pendingCall{index: i, call: call})
	}

	b.dispatchWork(ctx, work, set)
	return BatchOK
}

func (b *BatchExecutor) fillInterrupted(calls []models.ToolCall, from int, compact bool, set func(int, models.ToolResult)) {
	for i := from; i < len(calls); i++ {
		if compact && b.orchestration.IsDuplicate(calls[i].ID) {
			continue
		}
		set(i, models.NewErrorResult(calls[i].ID, "interrupted", "cancelled by user"))
	}
}

func (b *BatchExecutor) fillAborted(calls []models.ToolCall, from int, compact bool, set func(int, models.ToolResult)) {
	for i := from; i < len(calls); i++ {
		if compact && b.orchestration.IsDuplicate(calls[i].ID) {
			continue
		}
		set(i, models.NewErrorResult(calls[i].ID, "aborted", "cancelled by user"))
	}
}

// dispatchWork runs every approved call's dispatch-and-post-execution step.
// Calls run sequentially unless there is more than one and every one of
// them names a thread-safe tool, in which case they fan out over the
// shared executor's bounded worker pool; result slots are still written at
// their pre-assigned index so batch ordering on the wire is deterministic
// regardless of completion order.
func (b *BatchExecutor) dispatchWork(ctx context.Context, work []pendingCall, set func(int, models.ToolResult)) {
	if len(work) == 0 {
		return
	}

	allThreadSafe := len(work) > 1
	if allThreadSafe {
		for _, w := range work {
			if !b.isThreadSafe(w.call.Name) {
				allThreadSafe = false
				break
			}
		}
	}

	if !allThreadSafe {
		for _, w := range work {
			set(w.index, b.dispatchOne(ctx, w.call))
		}
		return
	}

	var wg sync.WaitGroup
	for _, w := range work {
		wg.Add(1)
		go func(w pendingCall) {
			defer wg.Done()
			result := b.dispatchOne(ctx, w.call)
			set(w.index, result)
		}(w)
	}
	wg.Wait()
}

func (b *BatchExecutor) isThreadSafe(name string) bool {
	switch name {
	case "subagent", "subagent_status":
		return false
	}
	return b.registry.IsThreadSafe(name)
}

// dispatchOne runs a single approved call's dispatch step and applies the
// tool-result guard before returning. Subagent spawn/status calls are
// special-cased ahead of the generic tool registry.
func (b *BatchExecutor) dispatchOne(ctx context.Context, call models.ToolCall) (final models.ToolResult) {
	if b.instr != nil {
		var finish func(bool)
		ctx, finish = b.instr.ToolDispatchStarted(ctx, call.Name)
		defer func() { finish(final.Success) }()
	}
	var result models.ToolResult
	switch call.Name {
	case "subagent":
		result = b.dispatchSubagentSpawn(call)
	case "subagent_status":
		result = b.dispatchSubagentStatus(ctx, call)
	default:
		result = b.executor.Execute(ctx, call).Result
	}
	result.ToolCallID = call.ID
	result = b.guard.Apply(call.Name, result)
	b.logResult(call, result)
	return result
}

func (b *BatchExecutor) logResult(call models.ToolCall, result models.ToolResult) {
	if b.sink == nil {
		return
	}
	stage := models.EventToolCompleted
	if !result.Success {
		stage = models.EventToolFailed
	}
	b.sink.Emit(context.Background(), models.RuntimeEvent{
		Type:       stage,
		ToolName:   call.Name,
		ToolCallID: call.ID,
	})
}

// subagentSpawnArgs is the argument shape of the "subagent" tool.
type subagentSpawnArgs struct {
	Task           string `json:"task"`
	Context        string `json:"context"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (b *BatchExecutor) dispatchSubagentSpawn(call models.ToolCall) models.ToolResult {
	if b.subagents == nil {
		return models.NewErrorResult(call.ID, "subagent_spawn_failed", "subagent supervisor is not configured")
	}
	var args subagentSpawnArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args.Task == "" {
		return models.NewErrorResult(call.ID, "invalid_arguments", "subagent requires a non-empty task")
	}
	timeout := time.Duration(args.TimeoutSeconds) * time.Second

	sa, err := b.subagents.Spawn(args.Task, args.Context, timeout)
	if err != nil {
		kind := "subagent_spawn_failed"
		return models.NewErrorResult(call.ID, kind, err.Error())
	}
	if b.instr != nil {
		b.instr.SubagentSpawned()
	}
	body, _ := json.Marshal(map[string]string{"subagent_id": sa.ID, "status": string(sa.StatusNow())})
	return models.ToolResult{ToolCallID: call.ID, Result: string(body), Success: true}
}

// subagentStatusArgs is the argument shape of the "subagent_status" tool.
type subagentStatusArgs struct {
	ID   string `json:"id"`
	Wait bool   `json:"wait"`
}

func (b *BatchExecutor) dispatchSubagentStatus(ctx context.Context, call models.ToolCall) models.ToolResult {
	if b.subagents == nil {
		return models.NewErrorResult(call.ID, "tool_failed", "subagent supervisor is not configured")
	}
	var args subagentStatusArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args.ID == "" {
		return models.NewErrorResult(call.ID, "invalid_arguments", "subagent_status requires an id")
	}
	sa, ok := b.subagents.Get(args.ID)
	if !ok {
		return models.NewErrorResult(call.ID, "tool_failed", "unknown subagent id: "+args.ID)
	}

	var status subagent.Status
	if args.Wait {
		var handler subagent.ApprovalHandler
		if b.gate != nil {
			handler = b.gate.HandleProxiedRequest
		}
		interrupted := func() bool {
			return b.interrupt != nil && b.interrupt.IsSet()
		}
		// GetStatus blocks internally until the subagent leaves Running, its
		// deadline passes, or interrupted() reports true; it already
		// services proxied approval requests while it waits.
		status = b.subagents.GetStatus(sa, handler, interrupted)
	} else {
		b.subagents.PollAll()
		status = sa.StatusNow()
	}

	if b.instr != nil && status != subagent.StatusRunning {
		b.instr.SubagentFinished(string(status))
	}

	result, execErr := sa.Result()
	body := map[string]any{"subagent_id": sa.ID, "status": string(status)}
	if execErr != nil {
		body["error"] = execErr.Error()
	}
	if status != subagent.StatusRunning {
		body["result"] = result
	}
	encoded, _ := json.Marshal(body)
	return models.ToolResult{ToolCallID: call.ID, Result: string(encoded), Success: status == subagent.StatusCompleted}
}
