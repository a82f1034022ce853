package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ralphagent/ralph/internal/policy"
	"github.com/ralphagent/ralph/internal/subagent"
	"github.com/ralphagent/ralph/pkg/models"
)

// DefaultApprovalProxyTimeout bounds how long a subagent will wait for its
// parent to answer a proxied approval request before treating the request
// as denied. The spec leaves this implementation-defined so long as it is
// finite and at least 30s; 60s matches the parent's own subagent-wait
// cadence closely enough to rarely fire in practice.
const DefaultApprovalProxyTimeout = 60 * time.Second

// ErrApprovalTimeout marks a proxied approval request that went unanswered
// within DefaultApprovalProxyTimeout.
var ErrApprovalTimeout = errors.New("agent: approval proxy timed out")

// ApprovalRequester answers one gated tool call's approval question, either
// by rendering an interactive prompt on this process's own TTY or by
// forwarding the question to a parent process over IPC. pattern is only
// meaningful when the result is AllowedAlways.
type ApprovalRequester interface {
	RequestApproval(call policy.ToolCall, summary string) (result policy.ApprovalResult, pattern string, err error)
}

// TTYApprover renders the interactive y/n/a/? prompt on this process's own
// controlling terminal. It is used by the root agent process.
type TTYApprover struct {
	prompter *policy.Prompter
}

// NewTTYApprover wraps prompter as an ApprovalRequester.
func NewTTYApprover(prompter *policy.Prompter) *TTYApprover {
	return &TTYApprover{prompter: prompter}
}

// RequestApproval renders summary and blocks for a keypress.
func (a *TTYApprover) RequestApproval(_ policy.ToolCall, summary string) (policy.ApprovalResult, string, error) {
	switch a.prompter.Ask(summary) {
	case policy.DecisionYes:
		return policy.ResultAllowed, "", nil
	case policy.DecisionNo:
		return policy.ResultDenied, "", nil
	case policy.DecisionAlways:
		return policy.ResultAllowedAlways, "", nil
	default:
		return policy.ResultAborted, "", nil
	}
}

// ProxyApprover forwards an approval request to a parent process over a
// pair of pipes (the subagent's side of its approval channel) and blocks
// for the matching response, up to a fixed timeout. Used by a process
// running in --subagent mode, which never touches a TTY directly.
type ProxyApprover struct {
	mu      sync.Mutex
	reqW    *os.File
	respR   *bufio.Reader
	nextID  uint32
	timeout time.Duration
}

// NewProxyApprover builds a ProxyApprover writing requests to reqW and
// reading responses from respR. A zero timeout uses
// DefaultApprovalProxyTimeout.
func NewProxyApprover(reqW, respR *os.File, timeout time.Duration) *ProxyApprover {
	if timeout <= 0 {
		timeout = DefaultApprovalProxyTimeout
	}
	return &ProxyApprover{
		reqW:    reqW,
		respR:   bufio.NewReader(respR),
		timeout: timeout,
	}
}

// RequestApproval writes a length-prefixed ApprovalRequest frame and waits
// for the matching ApprovalResponse. A write failure, a read failure, a
// mismatched request id, or a timeout are all treated as a denial — per the
// spec, a broken or slow approval pipe must never hang the subagent
// indefinitely.
func (p *ProxyApprover) RequestApproval(call policy.ToolCall, summary string) (policy.ApprovalResult, string, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	req := subagent.ApprovalRequest{
		RequestID:      id,
		ToolName:       call.Name,
		ArgumentsJSON:  call.Arguments,
		DisplaySummary: summary,
	}
	if err := subagent.WriteApprovalRequest(p.reqW, req); err != nil {
		p.mu.Unlock()
		return policy.ResultDenied, "", fmt.Errorf("write approval request: %w", err)
	}

	type readOutcome struct {
		resp subagent.ApprovalResponse
		err  error
	}
	done := make(chan readOutcome, 1)
	go func() {
		resp, err := subagent.ReadApprovalResponse(p.respR)
		done <- readOutcome{resp, err}
	}()

	select {
	case out := <-done:
		p.mu.Unlock()
		if out.err != nil {
			return policy.ResultDenied, "", fmt.Errorf("read approval response: %w", out.err)
		}
		if out.resp.RequestID != id {
			return policy.ResultDenied, "", fmt.Errorf("approval response id %d does not match request %d", out.resp.RequestID, id)
		}
		return approvalResultFromWire(out.resp.Result), out.resp.Pattern, nil
	case <-time.After(p.timeout):
		p.mu.Unlock()
		return policy.ResultDenied, "", ErrApprovalTimeout
	}
}

func approvalResultFromWire(s string) policy.ApprovalResult {
	switch s {
	case subagent.ApprovalAllowed:
		return policy.ResultAllowed
	case subagent.ApprovalAllowedAlways:
		return policy.ResultAllowedAlways
	case subagent.ApprovalAborted:
		return policy.ResultAborted
	case subagent.ApprovalRateLimited:
		return policy.ResultRateLimited
	default:
		return policy.ResultDenied
	}
}

func approvalResultToWire(r policy.ApprovalResult) string {
	switch r {
	case policy.ResultAllowed:
		return subagent.ApprovalAllowed
	case policy.ResultAllowedAlways:
		return subagent.ApprovalAllowedAlways
	case policy.ResultAborted:
		return subagent.ApprovalAborted
	case policy.ResultRateLimited:
		return subagent.ApprovalRateLimited
	default:
		return subagent.ApprovalDenied
	}
}

// GateDecision is the terminal disposition of ApprovalGate.CheckAndPrompt.
type GateDecision int

const (
	// GateAllowed means the call may proceed to dispatch.
	GateAllowed GateDecision = iota
	// GateBlocked means the call must not execute; Result carries the
	// error body to return to the model.
	GateBlocked
	// GateAborted means the user interrupted the approval prompt itself;
	// the whole batch (and turn) must unwind.
	GateAborted
)

// ApprovalGate composes a policy.Engine with an ApprovalRequester to
// implement the full check-then-prompt pipeline the batch executor drives
// per call: classification, protected-file/allowlist/rate-limit checks,
// and — only when those leave the category's action as "prompt" — an
// interactive (or proxied) approval dialog.
type ApprovalGate struct {
	engine      *policy.Engine
	approver    ApprovalRequester
	interactive bool
	instr       Instrumentation
}

// SetInstrumentation attaches optional metrics hooks. A nil value leaves the
// gate uninstrumented.
func (g *ApprovalGate) SetInstrumentation(instr Instrumentation) {
	g.instr = instr
}

// NewApprovalGate builds a gate. approver may be nil, in which case every
// OutcomePrompt call is denied as non_interactive_gated without blocking —
// this is the correct behavior for a subagent started with no approval
// channel (e.g. its fds failed to parse) and for a root process with no
// TTY.
func NewApprovalGate(engine *policy.Engine, approver ApprovalRequester, interactive bool) *ApprovalGate {
	return &ApprovalGate{engine: engine, approver: approver, interactive: interactive}
}

// RefreshProtected forces the engine's protected-file cache to re-stat on
// its next check. The batch executor calls this once per batch so a file
// created since the last batch can't slip past a stale cache.
func (g *ApprovalGate) RefreshProtected() {
	g.engine.RefreshProtected()
}

// CheckAndPrompt runs call through the policy engine and, if required,
// through the approver. summary is the human-readable text shown by an
// interactive prompt or forwarded to a proxying parent.
func (g *ApprovalGate) CheckAndPrompt(call policy.ToolCall, summary string) (GateDecision, models.ToolResult) {
	outcome := g.engine.Check(call)
	if g.instr != nil {
		g.instr.PolicyDecided(string(policy.Classify(call.Name)), string(outcome))
	}
	switch outcome {
	case policy.OutcomeDisabled, policy.OutcomeAllow:
		return GateAllowed, models.ToolResult{}
	case policy.OutcomeDenyProtected:
		return GateBlocked, models.NewErrorResult("", "protected_file", fmt.Sprintf("%s is a protected file and cannot be written to", call.Path))
	case policy.OutcomeDenyPolicy:
		return GateBlocked, models.NewErrorResult("", "operation_denied", fmt.Sprintf("%s tools are denied by policy", policy.Classify(call.Name)))
	case policy.OutcomeRateLimited:
		return GateBlocked, models.NewErrorResult("", "rate_limited", fmt.Sprintf("%s is rate limited after repeated denials", call.Name))
	default:
		return g.prompt(call, summary)
	}
}

func (g *ApprovalGate) prompt(call policy.ToolCall, summary string) (GateDecision, models.ToolResult) {
	if !g.interactive || g.approver == nil {
		return GateBlocked, models.NewErrorResult("", "non_interactive_gated", fmt.Sprintf("%s requires approval but no interactive session is available", call.Name))
	}

	result, pattern, err := g.approver.RequestApproval(call, summary)
	if err != nil {
		g.engine.RecordDenial(call.Name)
		return GateBlocked, models.NewErrorResult("", "operation_denied", "approval channel error: "+err.Error())
	}

	switch result {
	case policy.ResultAllowed:
		g.engine.RecordApproval(call.Name)
		return GateAllowed, models.ToolResult{}
	case policy.ResultAllowedAlways:
		g.engine.RecordApproval(call.Name)
		if pattern != "" {
			call.Arguments = pattern
		}
		g.engine.AllowAlways(call)
		return GateAllowed, models.ToolResult{}
	case policy.ResultAborted:
		return GateAborted, models.NewErrorResult("", "aborted", "cancelled by user")
	case policy.ResultRateLimited:
		return GateBlocked, models.NewErrorResult("", "rate_limited", fmt.Sprintf("%s is rate limited after repeated denials", call.Name))
	default:
		g.engine.RecordDenial(call.Name)
		return GateBlocked, models.NewErrorResult("", "operation_denied", "denied by user")
	}
}

// HandleProxiedRequest answers one ApprovalRequest received from a child
// subagent by running it through this gate's own policy+prompt pipeline
// (the parent's TTY), and returns the wire-ready ApprovalResponse. Used as
// the subagent.ApprovalHandler wired into the Supervisor.
func (g *ApprovalGate) HandleProxiedRequest(req subagent.ApprovalRequest) subagent.ApprovalResponse {
	call := policy.ToolCall{Name: req.ToolName, Arguments: req.ArgumentsJSON}
	decision, result := g.CheckAndPrompt(call, req.DisplaySummary)

	resp := subagent.ApprovalResponse{RequestID: req.RequestID}
	switch decision {
	case GateAllowed:
		resp.Result = subagent.ApprovalAllowed
	case GateAborted:
		resp.Result = subagent.ApprovalAborted
	default:
		var body models.ErrorBody
		_ = json.Unmarshal([]byte(result.Result), &body)
		resp.Result = approvalResultToWire(policy.ResultDenied)
		if body.Error == "rate_limited" {
			resp.Result = subagent.ApprovalRateLimited
		}
	}
	return resp
}
