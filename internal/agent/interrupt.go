package agent

import "sync/atomic"

// InterruptFlag is a process-wide, signal-handler-safe cancellation switch.
// SIGINT sets it; every long-running cooperative site (the approval prompt,
// the batch loop, a blocking subagent wait, the outer iterative loop) polls
// it between steps and unwinds through a distinguished Interrupted result
// rather than through panic/recover or a context cancellation, since a
// single SIGINT should only cancel the in-flight turn, not the whole
// process.
type InterruptFlag struct {
	set atomic.Bool
}

// NewInterruptFlag returns a cleared flag.
func NewInterruptFlag() *InterruptFlag {
	return &InterruptFlag{}
}

// Raise marks the flag set. Safe to call from a signal handler.
func (f *InterruptFlag) Raise() {
	f.set.Store(true)
}

// IsSet reports whether the flag is currently set, without clearing it.
func (f *InterruptFlag) IsSet() bool {
	return f.set.Load()
}

// Consume reports whether the flag was set and clears it atomically. Call
// sites that are about to unwind a batch or turn in response to an
// interrupt use this so a single SIGINT cancels exactly one batch rather
// than every subsequent one.
func (f *InterruptFlag) Consume() bool {
	return f.set.CompareAndSwap(true, false)
}

// Clear resets the flag unconditionally, used at the top of a new turn so a
// stale interrupt from a prior turn can't immediately cancel the next one.
func (f *InterruptFlag) Clear() {
	f.set.Store(false)
}
