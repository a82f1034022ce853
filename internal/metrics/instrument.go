package metrics

import (
	"context"
	"time"
)

// EngineInstrumentation adapts Metrics and Tracer to the engine's
// instrumentation hooks (agent.Instrumentation). Either field may be nil;
// a nil Metrics skips counters and a nil Tracer skips spans.
type EngineInstrumentation struct {
	M *Metrics
	T *Tracer
}

// NewEngineInstrumentation bundles m and t into one hook set.
func NewEngineInstrumentation(m *Metrics, t *Tracer) *EngineInstrumentation {
	return &EngineInstrumentation{M: m, T: t}
}

// IterationStarted opens one iteration span; the finish func ends it with
// any transport error recorded.
func (e *EngineInstrumentation) IterationStarted(ctx context.Context, iteration int) (context.Context, func(err error)) {
	if e.T == nil {
		return ctx, func(error) {}
	}
	ctx, span := e.T.StartIteration(ctx, iteration)
	return ctx, func(err error) { EndSpan(span, err) }
}

// ToolDispatchStarted opens one dispatch span and starts the duration
// clock; the finish func ends the span and records the counter/histogram
// samples.
func (e *EngineInstrumentation) ToolDispatchStarted(ctx context.Context, toolName string) (context.Context, func(success bool)) {
	start := time.Now()
	finishSpan := func(error) {}
	if e.T != nil {
		sctx, span := e.T.StartToolDispatch(ctx, toolName)
		ctx = sctx
		finishSpan = func(err error) { EndSpan(span, err) }
	}
	return ctx, func(success bool) {
		finishSpan(nil)
		if e.M == nil {
			return
		}
		status := "success"
		if !success {
			status = "failure"
		}
		e.M.ToolDispatches.WithLabelValues(toolName, status).Inc()
		e.M.ToolDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
	}
}

// BatchFinished counts one batch run by outcome.
func (e *EngineInstrumentation) BatchFinished(outcome string) {
	if e.M != nil {
		e.M.Batches.WithLabelValues(outcome).Inc()
	}
}

// TurnFinished counts one ProcessMessage turn by end reason.
func (e *EngineInstrumentation) TurnFinished(reason string) {
	if e.M != nil {
		e.M.Iterations.WithLabelValues(reason).Inc()
	}
}

// PolicyDecided counts one gate check by category and outcome.
func (e *EngineInstrumentation) PolicyDecided(category, outcome string) {
	if e.M != nil {
		e.M.PolicyDecisions.WithLabelValues(category, outcome).Inc()
	}
}

// SubagentSpawned bumps the active-subagent gauge.
func (e *EngineInstrumentation) SubagentSpawned() {
	if e.M != nil {
		e.M.ActiveSubagents.Inc()
	}
}

// SubagentFinished counts a terminal subagent status and drops the gauge.
func (e *EngineInstrumentation) SubagentFinished(status string) {
	if e.M != nil {
		e.M.SubagentTerminal.WithLabelValues(status).Inc()
		e.M.ActiveSubagents.Dec()
	}
}
