package agent

import (
	"context"

	"github.com/ralphagent/ralph/pkg/models"
)

// RoundTripClient is the external LLM transport the iterative loop consumes.
// Implementations own retries, provider-specific encoding, and timeouts; the
// loop only ever sees a ConversationHistory going in and a ParsedResponse
// coming out.
type RoundTripClient interface {
	RoundTrip(ctx context.Context, history models.ConversationHistory, availableResponseTokens int) (models.ParsedResponse, error)
}

// OutputSink is the terminal UI / JSON-output collaborator. The loop emits a
// fixed vocabulary of events to it and never reads anything back.
type OutputSink interface {
	Emit(ctx context.Context, event models.RuntimeEvent)
}

// BudgetOutcome reports whether the conversation has room for another round
// trip, and if so, how many tokens are available for the response.
type BudgetOutcome struct {
	ContextFull             bool
	AvailableResponseTokens int
}

// ConversationStore is the persistence and token-budget collaborator. The
// loop appends messages to it, asks it to compact on demand, and consults it
// before every round trip to learn how much response budget remains.
type ConversationStore interface {
	AppendUser(ctx context.Context, content string) error
	AppendAssistant(ctx context.Context, content string, toolCalls []models.ToolCall) error
	AppendTool(ctx context.Context, toolCallID, toolName, content string) error
	CompactIfNeeded(ctx context.Context) error
	ComputeBudget(ctx context.Context) (BudgetOutcome, error)
	History() models.ConversationHistory
	ClearForReplan(ctx context.Context, stubToolCalls []models.ToolCall) error
}
