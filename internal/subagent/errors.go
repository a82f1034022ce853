package subagent

import "errors"

var (
	// ErrTooManyActive is returned by Spawn when the concurrency cap is
	// already reached.
	ErrTooManyActive = errors.New("subagent: too many active children")
	// ErrTimeout marks a subagent killed for exceeding its deadline.
	ErrTimeout = errors.New("subagent: timed out")
	// ErrInterrupted marks a subagent stopped because the user interrupted
	// the parent run.
	ErrInterrupted = errors.New("subagent: interrupted by user")
)
