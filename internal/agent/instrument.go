package agent

import "context"

// Instrumentation receives lifecycle callbacks from the loop, the batch
// executor, and the approval gate. Implementations must be safe for
// concurrent use: dispatch hooks fire from parallel batch workers. All
// engine call sites tolerate a nil Instrumentation.
type Instrumentation interface {
	// IterationStarted fires at the top of each loop iteration. The
	// returned finish func is called when the iteration's round trip
	// resolves, with any transport error.
	IterationStarted(ctx context.Context, iteration int) (context.Context, func(err error))

	// ToolDispatchStarted fires immediately before a tool call is
	// dispatched. The returned finish func is called with the call's
	// success once its result is in hand.
	ToolDispatchStarted(ctx context.Context, toolName string) (context.Context, func(success bool))

	// BatchFinished fires once per batch run with "ok", "aborted", or
	// "interrupted".
	BatchFinished(outcome string)

	// TurnFinished fires once per ProcessMessage with the end reason.
	TurnFinished(reason string)

	// PolicyDecided fires once per gate check with the call's category and
	// the check outcome.
	PolicyDecided(category, outcome string)

	// SubagentSpawned and SubagentFinished bracket a subagent's lifetime as
	// observed through the batch executor's spawn/status dispatch.
	SubagentSpawned()
	SubagentFinished(status string)
}

func batchOutcomeLabel(o BatchOutcome) string {
	switch o {
	case BatchAborted:
		return "aborted"
	case BatchInterrupted:
		return "interrupted"
	default:
		return "ok"
	}
}
