package agent

import "sync"

// OrchestrationContext tracks cross-batch state for one conversation turn
// onward: which tool_call ids have already been executed (so a compact-mode
// batch can dedupe a model that re-emits the same call), and whether a
// subagent has already been spawned in the current batch (only one spawn is
// allowed per batch; repeats are reported as duplicate_subagent).
type OrchestrationContext struct {
	mu                      sync.Mutex
	executedIDs             map[string]struct{}
	subagentSpawnedThisBatch bool
}

// NewOrchestrationContext returns a context with no executed ids recorded.
func NewOrchestrationContext() *OrchestrationContext {
	return &OrchestrationContext{executedIDs: make(map[string]struct{})}
}

// IsDuplicate reports whether id has already been marked executed.
func (c *OrchestrationContext) IsDuplicate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.executedIDs[id]
	return ok
}

// MarkExecuted records id as executed. Idempotent.
func (c *OrchestrationContext) MarkExecuted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executedIDs[id] = struct{}{}
}

// CanSpawnSubagent reports whether a tool named name may spawn a subagent
// this batch. Only the literal "subagent" tool is gated; everything else is
// always allowed to proceed to the normal dispatch path.
func (c *OrchestrationContext) CanSpawnSubagent(name string) bool {
	if name != "subagent" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.subagentSpawnedThisBatch
}

// MarkSubagentSpawned records that a subagent was spawned in the current
// batch. Cleared by the next ResetBatch.
func (c *OrchestrationContext) MarkSubagentSpawned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subagentSpawnedThisBatch = true
}

// ResetBatch clears the per-batch subagent-spawn flag. It must be called at
// the top of every outer-loop iteration. It never touches executedIDs —
// dedup state persists for the lifetime of the context, not just one batch.
func (c *OrchestrationContext) ResetBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subagentSpawnedThisBatch = false
}
