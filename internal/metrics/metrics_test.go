package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// sharedMetrics is the one Metrics instance the package's tests exercise;
// New uses promauto against the default registry, so constructing it twice
// in one process would panic on duplicate registration.
var sharedMetrics = New()

func TestNewRegistersAllCollectors(t *testing.T) {
	m := sharedMetrics

	m.Iterations.WithLabelValues("completed").Inc()
	m.Batches.WithLabelValues("ok").Inc()
	m.ToolDispatches.WithLabelValues("shell", "success").Inc()
	m.ToolDuration.WithLabelValues("shell").Observe(0.25)
	m.PolicyDecisions.WithLabelValues("shell", "allow").Inc()
	m.SubagentTerminal.WithLabelValues("completed").Inc()
	m.ActiveSubagents.Set(3)

	if got := testutil.ToFloat64(m.Iterations.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected iterations counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSubagents); got != 3 {
		t.Fatalf("expected active subagents gauge 3, got %v", got)
	}
}

func TestTracerStartIterationAndEndSpan(t *testing.T) {
	tracer := NewTracer("ralph-test")
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.StartIteration(context.Background(), 1)
	if ctx == nil || span == nil {
		t.Fatal("expected a non-nil context and span")
	}
	EndSpan(span, nil)
}

func TestTracerStartToolDispatchRecordsError(t *testing.T) {
	tracer := NewTracer("ralph-test-2")
	defer tracer.Shutdown(context.Background())

	_, span := tracer.StartToolDispatch(context.Background(), "shell")
	EndSpan(span, errors.New("boom"))
}

func TestEngineInstrumentationRecordsHooks(t *testing.T) {
	tracer := NewTracer("ralph-test-3")
	defer tracer.Shutdown(context.Background())
	instr := NewEngineInstrumentation(sharedMetrics, tracer)

	ctx, finishIter := instr.IterationStarted(context.Background(), 7)
	if ctx == nil {
		t.Fatal("expected a non-nil context from IterationStarted")
	}
	finishIter(nil)

	_, finishDispatch := instr.ToolDispatchStarted(context.Background(), "read_file")
	finishDispatch(true)
	if got := testutil.ToFloat64(sharedMetrics.ToolDispatches.WithLabelValues("read_file", "success")); got != 1 {
		t.Fatalf("expected 1 successful read_file dispatch, got %v", got)
	}

	_, finishFailed := instr.ToolDispatchStarted(context.Background(), "read_file")
	finishFailed(false)
	if got := testutil.ToFloat64(sharedMetrics.ToolDispatches.WithLabelValues("read_file", "failure")); got != 1 {
		t.Fatalf("expected 1 failed read_file dispatch, got %v", got)
	}

	instr.BatchFinished("interrupted")
	if got := testutil.ToFloat64(sharedMetrics.Batches.WithLabelValues("interrupted")); got != 1 {
		t.Fatalf("expected 1 interrupted batch, got %v", got)
	}

	instr.TurnFinished("no-more-tools")
	if got := testutil.ToFloat64(sharedMetrics.Iterations.WithLabelValues("no-more-tools")); got != 1 {
		t.Fatalf("expected 1 no-more-tools turn, got %v", got)
	}

	instr.PolicyDecided("file_write", "deny_protected")
	if got := testutil.ToFloat64(sharedMetrics.PolicyDecisions.WithLabelValues("file_write", "deny_protected")); got != 1 {
		t.Fatalf("expected 1 deny_protected decision, got %v", got)
	}

	before := testutil.ToFloat64(sharedMetrics.ActiveSubagents)
	instr.SubagentSpawned()
	instr.SubagentFinished("timeout")
	if got := testutil.ToFloat64(sharedMetrics.ActiveSubagents); got != before {
		t.Fatalf("expected gauge back at %v after spawn+finish, got %v", before, got)
	}
	if got := testutil.ToFloat64(sharedMetrics.SubagentTerminal.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("expected 1 timeout terminal status, got %v", got)
	}
}

func TestEngineInstrumentationNilComponentsNoop(t *testing.T) {
	instr := NewEngineInstrumentation(nil, nil)

	_, finishIter := instr.IterationStarted(context.Background(), 1)
	finishIter(errors.New("ignored"))
	_, finishDispatch := instr.ToolDispatchStarted(context.Background(), "shell")
	finishDispatch(false)
	instr.BatchFinished("ok")
	instr.TurnFinished("user-abort")
	instr.PolicyDecided("shell", "allow")
	instr.SubagentSpawned()
	instr.SubagentFinished("failed")
}
