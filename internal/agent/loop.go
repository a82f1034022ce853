package agent

import (
	"context"
	"log/slog"

	"github.com/ralphagent/ralph/pkg/models"
)

// MaxIterations bounds the iterative loop (§4.5): a buggy tool-call cycle
// must eventually surface as an error instead of burning tokens forever.
const MaxIterations = 200

// EndReason names why ProcessMessage returned.
type EndReason string

const (
	EndNoMoreTools EndReason = "no-more-tools"
	EndSafetyLimit EndReason = "safety-limit"
	EndInterrupt   EndReason = "user-interrupt"
	EndAbort       EndReason = "user-abort"
	EndContextFull EndReason = "context-full"
	EndAPIError    EndReason = "api-error"
)

// LoopConfig configures an IterativeLoop. A zero value is not usable;
// NewLoopConfig fills in MaxIterations.
type LoopConfig struct {
	MaxIterations int
}

// NewLoopConfig returns the default configuration: MaxIterations per §4.5.
func NewLoopConfig() LoopConfig {
	return LoopConfig{MaxIterations: MaxIterations}
}

// IterativeLoop is the top-level agent state machine (§4.5): one LLM round
// trip followed by one batch of tool calls, repeated until the model stops
// requesting tools, the conversation's token budget is exhausted, the user
// interrupts or aborts, or MaxIterations is reached.
type IterativeLoop struct {
	orchestration *OrchestrationContext
	batch         *BatchExecutor
	transport     RoundTripClient
	store         ConversationStore
	sink          OutputSink
	interrupt     *InterruptFlag
	config        LoopConfig
	log           *slog.Logger
	instr         Instrumentation
}

// SetInstrumentation attaches optional metrics/tracing hooks. Must be called
// before ProcessMessage; a nil value leaves the loop uninstrumented.
func (l *IterativeLoop) SetInstrumentation(instr Instrumentation) {
	l.instr = instr
}

// NewIterativeLoop wires an IterativeLoop. log may be nil, in which case
// slog.Default() is used.
func NewIterativeLoop(orchestration *OrchestrationContext, batch *BatchExecutor, transport RoundTripClient, store ConversationStore, sink OutputSink, interrupt *InterruptFlag, config LoopConfig, log *slog.Logger) *IterativeLoop {
	if config.MaxIterations <= 0 {
		config.MaxIterations = MaxIterations
	}
	if log == nil {
		log = slog.Default()
	}
	return &IterativeLoop{
		orchestration: orchestration,
		batch:         batch,
		transport:     transport,
		store:         store,
		sink:          sink,
		interrupt:     interrupt,
		config:        config,
		log:           log,
	}
}

// ProcessMessage is the session entrypoint: it appends userText, runs the
// initial direct-mode batch, and — if the model requested tools — hands off
// into the compact-mode iterative loop until one of the S_End states is
// reached.
func (l *IterativeLoop) ProcessMessage(ctx context.Context, userText string) (reason EndReason, err error) {
	if l.instr != nil {
		defer func() { l.instr.TurnFinished(string(reason)) }()
	}
	if l.interrupt != nil {
		l.interrupt.Clear()
	}

	if err := l.store.AppendUser(ctx, userText); err != nil {
		return EndAPIError, &LoopError{Phase: PhaseInit, Message: "append user message", Cause: err}
	}

	response, reason, err := l.roundTrip(ctx, 0)
	if err != nil || reason != "" {
		return l.endAPIError(reason, err)
	}

	if len(response.ToolCalls) == 0 {
		return EndNoMoreTools, nil
	}

	results, outcome := l.batch.ExecuteDirect(ctx, response.ToolCalls)
	switch outcome {
	case BatchAborted:
		if err := l.appendBatchResults(ctx, response.ToolCalls, results); err != nil {
			l.log.Warn("append aborted batch results", "error", err)
		}
		return EndAbort, nil
	case BatchInterrupted:
		if err := l.appendBatchResults(ctx, response.ToolCalls, results); err != nil {
			l.log.Warn("append interrupted batch results", "error", err)
		}
		return EndInterrupt, nil
	}
	if err := l.appendBatchResults(ctx, response.ToolCalls, results); err != nil {
		return EndAPIError, &LoopError{Phase: PhaseExecuteTools, Message: "append initial batch results", Cause: err}
	}

	return l.run(ctx)
}

// run drives the compact-mode loop described in §4.5's iteration contract,
// starting immediately after the initial direct-mode batch has been
// appended to conversation.
func (l *IterativeLoop) run(ctx context.Context) (EndReason, error) {
	for iteration := 1; iteration <= l.config.MaxIterations; iteration++ {
		l.orchestration.ResetBatch()

		response, reason, err := l.roundTrip(ctx, iteration)
		if err != nil || reason != "" {
			return l.endAPIError(reason, err)
		}

		if len(response.ToolCalls) == 0 {
			return EndNoMoreTools, nil
		}

		fresh := l.filterDuplicates(response.ToolCalls)
		if len(fresh) == 0 {
			return EndNoMoreTools, nil
		}

		results, indices, outcome := l.batch.ExecuteCompact(ctx, response.ToolCalls)
		executed := make([]models.ToolCall, len(indices))
		for k, idx := range indices {
			executed[k] = response.ToolCalls[idx]
		}

		switch outcome {
		case BatchAborted:
			if err := l.appendBatchResults(ctx, executed, results); err != nil {
				l.log.Warn("append aborted batch results", "error", err)
			}
			return EndAbort, nil
		case BatchInterrupted:
			if err := l.appendBatchResults(ctx, executed, results); err != nil {
				l.log.Warn("append interrupted batch results", "error", err)
			}
			return EndInterrupt, nil
		}

		if err := l.appendBatchResults(ctx, executed, results); err != nil {
			return EndAPIError, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Message: "append batch results", Cause: err}
		}
	}

	return EndSafetyLimit, &LoopError{Phase: PhaseContinue, Iteration: l.config.MaxIterations, Cause: ErrMaxIterations}
}

// filterDuplicates drops any call whose id the orchestration context has
// already recorded as executed, per the re-emit guard in step 7 of §4.5's
// iteration contract.
func (l *IterativeLoop) filterDuplicates(calls []models.ToolCall) []models.ToolCall {
	fresh := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		if !l.orchestration.IsDuplicate(c.ID) {
			fresh = append(fresh, c)
		}
	}
	return fresh
}

// roundTrip runs steps 2-5 of the iteration contract: budget check, one LLM
// call, UI events, and persisting the assistant message. A non-empty
// EndReason return means the caller should end the turn with that reason
// and no error; a non-nil error means the round trip failed and the caller
// should treat it as a non-fatal transport error per §4.5's error-recovery
// rule.
func (l *IterativeLoop) roundTrip(ctx context.Context, iteration int) (_ models.ParsedResponse, _ EndReason, err error) {
	if l.instr != nil {
		var finish func(error)
		ctx, finish = l.instr.IterationStarted(ctx, iteration)
		defer func() { finish(err) }()
	}

	if l.sink != nil {
		l.sink.Emit(ctx, models.RuntimeEvent{Type: models.EventIterationStart, Iteration: iteration})
	}

	budget, err := l.store.ComputeBudget(ctx)
	if err != nil {
		return models.ParsedResponse{}, "", &LoopError{Phase: PhaseContinue, Iteration: iteration, Message: "compute budget", Cause: err}
	}
	if budget.ContextFull {
		return models.ParsedResponse{}, EndContextFull, nil
	}

	response, err := l.transport.RoundTrip(ctx, l.store.History(), budget.AvailableResponseTokens)
	if err != nil {
		return models.ParsedResponse{}, "", &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
	}

	if l.sink != nil {
		if response.Thinking != "" {
			l.sink.Emit(ctx, models.RuntimeEvent{Type: models.EventThinkingEnd, Iteration: iteration, Message: response.Thinking})
		}
		if response.Text != "" {
			l.sink.Emit(ctx, models.RuntimeEvent{Type: models.EventAssistantMessage, Iteration: iteration, Message: response.Text})
		}
		for _, call := range response.ToolCalls {
			l.sink.Emit(ctx, models.RuntimeEvent{Type: models.EventToolQueued, Iteration: iteration, ToolName: call.Name, ToolCallID: call.ID})
		}
		l.sink.Emit(ctx, models.RuntimeEvent{Type: models.EventIterationEnd, Iteration: iteration})
	}

	if err := l.store.AppendAssistant(ctx, response.Text, response.ToolCalls); err != nil {
		return models.ParsedResponse{}, "", &LoopError{Phase: PhaseContinue, Iteration: iteration, Message: "append assistant message", Cause: err}
	}

	return response, "", nil
}

// appendBatchResults appends calls/results to conversation, pairing each
// result with the call at the same slice index. If any result carries
// ClearHistory, it first wipes the conversation and re-appends an
// assistant-with-tool-calls stub covering exactly these calls, so the
// pairing invariant holds across the wipe (§4.5 step 9).
func (l *IterativeLoop) appendBatchResults(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) error {
	clearHistory := false
	for _, r := range results {
		if r.ClearHistory {
			clearHistory = true
			break
		}
	}

	if clearHistory {
		if err := l.store.ClearForReplan(ctx, calls); err != nil {
			return err
		}
	}

	for i, r := range results {
		if i >= len(calls) {
			break
		}
		if err := l.store.AppendTool(ctx, r.ToolCallID, calls[i].Name, r.Result); err != nil {
			return err
		}
	}
	return nil
}

// endAPIError implements §4.5's error-recovery rule: a round-trip failure
// (reason == "" with a non-nil err) is logged and reported as EndAPIError
// without treating the session as corrupted; a round trip that legitimately
// resolved to an end state (reason != "") is returned as-is.
func (l *IterativeLoop) endAPIError(reason EndReason, err error) (EndReason, error) {
	if reason != "" {
		return reason, nil
	}
	l.log.Warn("llm round trip failed, ending turn", "error", err)
	return EndAPIError, err
}
