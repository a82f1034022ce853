package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ralphagent/ralph/internal/retry"
	"github.com/ralphagent/ralph/pkg/models"
)

// ExecutorConfig configures the low-level concurrent tool executor:
// concurrency limits, timeouts, and retry strategy. The batch executor
// (batch.go) layers approval, dedup, and the subagent-per-batch cap on top
// of this.
type ExecutorConfig struct {
	MaxConcurrency  int
	DefaultTimeout  time.Duration
	DefaultRetries  int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  8,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  0,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig holds per-tool overrides for timeout and retry behavior.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Executor runs tool calls against a ToolRegistry with retry, timeout, and
// panic-recovery handling. It does not itself decide parallel-vs-sequential
// dispatch or perform approval checks; see BatchExecutor for that.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	sem     chan struct{}
	metrics *ExecutorMetrics
}

// ExecutorMetrics tracks aggregate execution counters.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates an executor bound to registry. A nil config uses
// DefaultExecutorConfig.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]*ToolConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
		metrics:    &ExecutorMetrics{},
	}
}

// ConfigureTool sets a per-tool override.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

func (e *Executor) getToolConfig(name string) *ToolConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolConfig[name]
}

// ExecutionResult is one call's outcome, including timing and attempt count.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     models.ToolResult
	Err        error
	Duration   time.Duration
	Attempts   int
}

// ExecuteParallel runs every call concurrently, bounded by the executor's
// semaphore, and returns results in the same order as calls. Callers that
// need sequential dispatch should call Execute directly in a loop instead.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single tool call with retry and timeout handling,
// acquiring a semaphore slot first for backpressure.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	res := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		res.Err = NewToolError(call.Name, ctx.Err()).WithType(ToolErrorTimeout).WithToolCallID(call.ID)
		res.Duration = time.Since(start)
		return res
	}

	tc := e.getToolConfig(call.Name)
	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff
	if tc != nil {
		if tc.Timeout > 0 {
			timeout = tc.Timeout
		}
		if tc.Retries >= 0 {
			maxRetries = tc.Retries
		}
		if tc.RetryBackoff > 0 {
			backoff = tc.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res.Attempts = attempt + 1
		result, err := e.executeWithTimeout(ctx, call, timeout)
		if err == nil {
			res.Result = result
			res.Duration = time.Since(start)
			e.metrics.mu.Lock()
			e.metrics.TotalExecutions++
			if attempt > 0 {
				e.metrics.TotalRetries += int64(attempt)
			}
			e.metrics.mu.Unlock()
			return res
		}

		lastErr = err
		if !IsToolRetryable(err) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := retry.Backoff(attempt+1, backoff, e.config.MaxRetryBackoff, 2.0)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).WithType(ToolErrorTimeout).WithToolCallID(call.ID)
		}
	}

	res.Err = lastErr
	res.Duration = time.Since(start)
	res.Result = models.NewErrorResult(call.ID, "tool_failed", lastErr.Error())

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if toolErr, ok := GetToolError(lastErr); ok {
		switch toolErr.Type {
		case ToolErrorTimeout:
			e.metrics.TotalTimeouts++
		case ToolErrorPanic:
			e.metrics.TotalPanics++
		}
	}
	e.metrics.mu.Unlock()

	return res
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (models.ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result models.ToolResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).WithToolCallID(call.ID)
				resultCh <- outcome{err: err}
			}
		}()
		result := e.registry.Execute(execCtx, call.ID, call.Name, []byte(call.Arguments))
		if !result.Success {
			var body models.ErrorBody
			_ = json.Unmarshal([]byte(result.Result), &body)
			err := NewToolError(call.Name, fmt.Errorf("%s", result.Result)).WithToolCallID(call.ID)
			if body.Error != "" {
				err = err.WithType(ToolErrorType(body.Error))
			}
			resultCh <- outcome{result: result, err: err}
			return
		}
		resultCh <- outcome{result: result}
	}()

	select {
	case o := <-resultCh:
		return o.result, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return models.ToolResult{}, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).WithToolCallID(call.ID).WithMessage("context cancelled")
		}
		return models.ToolResult{}, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// Metrics returns a copy-safe snapshot.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a point-in-time copy of executor metrics.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// AnyErrors reports whether any result in results carries an error.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}
