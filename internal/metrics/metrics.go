// Package metrics instruments the agent execution engine with Prometheus
// counters/histograms and one OpenTelemetry span per iteration and per tool
// dispatch, in the shape and naming convention of the teacher's own
// observability package.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the engine's Prometheus surface: one vector per countable event
// in the loop/batch/policy/subagent pipeline.
type Metrics struct {
	// Iterations counts finished IterativeLoop turns (not individual loop
	// iterations), labeled by the turn's end reason.
	Iterations *prometheus.CounterVec

	// Batches counts BatchExecutor runs by outcome (ok|aborted|interrupted).
	Batches *prometheus.CounterVec

	// ToolDispatches counts individual tool executions by name and status.
	ToolDispatches *prometheus.CounterVec

	// ToolDuration measures tool execution latency in seconds.
	ToolDuration *prometheus.HistogramVec

	// PolicyDecisions counts Engine.Check outcomes by category and outcome.
	PolicyDecisions *prometheus.CounterVec

	// SubagentTerminal counts subagent lifecycle end states by status.
	SubagentTerminal *prometheus.CounterVec

	// ActiveSubagents gauges the number of currently running subagents.
	ActiveSubagents prometheus.Gauge
}

// New registers and returns a Metrics instance against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		Iterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_iterations_total",
				Help: "Total number of iterative loop turns, by end reason",
			},
			[]string{"end_reason"},
		),
		Batches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_batches_total",
				Help: "Total number of tool-call batches executed, by outcome",
			},
			[]string{"outcome"},
		),
		ToolDispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_tool_dispatches_total",
				Help: "Total number of tool dispatches, by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ralph_tool_duration_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		PolicyDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_policy_decisions_total",
				Help: "Total number of policy check outcomes, by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		SubagentTerminal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_subagent_terminal_total",
				Help: "Total number of subagents reaching a terminal status",
			},
			[]string{"status"},
		),
		ActiveSubagents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ralph_active_subagents",
				Help: "Current number of active subagents",
			},
		),
	}
}

// Tracer wraps a local OpenTelemetry tracer provider. No exporter is wired
// by default: spans are created and ended (useful for in-process
// propagation and future exporter attachment) but not shipped anywhere
// until a caller installs one via SetSpanProcessor-equivalent config,
// which this repo's scope doesn't require.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer named serviceName and installs its provider as
// the global otel tracer provider.
func NewTracer(serviceName string) *Tracer {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
	}
}

// StartIteration starts a span for one loop iteration.
func (t *Tracer) StartIteration(ctx context.Context, iteration int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.iteration", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
}

// StartToolDispatch starts a span for one tool execution.
func (t *Tracer) StartToolDispatch(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.tool_dispatch", trace.WithAttributes(
		attribute.String("tool_name", toolName),
	))
}

// EndSpan ends span, recording err on it if non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Shutdown flushes and shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
