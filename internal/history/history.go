// Package history implements the agent.ConversationStore the iterative
// loop persists to: an in-memory message log with token-budget accounting
// and oldest-first compaction, following the character-per-token estimate
// and model context-window table the teacher's compaction/context packages
// use.
package history

import (
	"context"
	"sync"

	"github.com/ralphagent/ralph/internal/agent"
	"github.com/ralphagent/ralph/pkg/models"
)

// CharsPerToken is the character-to-token ratio used for estimation; 4
// chars/token matches the teacher's compaction package.
const CharsPerToken = 4

// ModelContextWindows maps model IDs to their context window size in
// tokens, mirroring the teacher's context.ModelContextWindows table.
var ModelContextWindows = map[string]int{
	"claude-sonnet-4-20250514":  200000,
	"claude-opus-4-20250514":    200000,
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-opus-20240229":    200000,
	"claude-3-haiku-20240307":   200000,
}

// DefaultContextWindow is used when model isn't found in ModelContextWindows.
const DefaultContextWindow = 128000

// ReservedResponseTokens is always held back from the budget for the
// model's own response, regardless of how much history fits.
const ReservedResponseTokens = 4096

// MinCompactionMessages is the fewest messages CompactIfNeeded will leave
// in place; below this it stops dropping even if still over budget, since a
// conversation can't usefully compact below its last user/assistant pair.
const MinCompactionMessages = 4

// Store is an in-memory ConversationStore.
type Store struct {
	mu           sync.Mutex
	history      models.ConversationHistory
	contextWindow int
}

// New returns a Store sized for model's context window (falling back to
// DefaultContextWindow for an unrecognized model).
func New(model string) *Store {
	window, ok := ModelContextWindows[model]
	if !ok {
		window = DefaultContextWindow
	}
	return &Store{contextWindow: window}
}

func estimateTokens(msg models.Message) int {
	chars := len(msg.Content)
	for _, call := range msg.ToolCalls {
		chars += len(call.Arguments) + len(call.Name)
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

func (s *Store) estimateTotalLocked() int {
	total := 0
	for _, msg := range s.history.Messages {
		total += estimateTokens(msg)
	}
	return total
}

// AppendUser implements agent.ConversationStore.
func (s *Store) AppendUser(_ context.Context, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.AppendUser(content)
	return nil
}

// AppendAssistant implements agent.ConversationStore.
func (s *Store) AppendAssistant(_ context.Context, content string, toolCalls []models.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.AppendAssistant(content, toolCalls)
	return nil
}

// AppendTool implements agent.ConversationStore.
func (s *Store) AppendTool(_ context.Context, toolCallID, toolName, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.AppendTool(toolCallID, toolName, content)
	return nil
}

// CompactIfNeeded drops the oldest messages (in assistant/tool_call-pair
// units, never splitting a pairing) while the estimated token count exceeds
// the context window, stopping once MinCompactionMessages remain.
func (s *Store) CompactIfNeeded(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	budget := s.contextWindow - ReservedResponseTokens
	for s.estimateTotalLocked() > budget && len(s.history.Messages) > MinCompactionMessages {
		drop := 1
		if s.history.Messages[0].Role == models.RoleAssistant && len(s.history.Messages[0].ToolCalls) > 0 {
			// Drop the assistant message together with its paired tool
			// results so no tool_call is ever left without a result.
			drop = 1
			for drop < len(s.history.Messages) && s.history.Messages[drop].Role == models.RoleTool {
				drop++
			}
		}
		if len(s.history.Messages)-drop < MinCompactionMessages {
			break
		}
		s.history.Messages = s.history.Messages[drop:]
	}
	// Compaction can expose a tool result whose originating assistant
	// message was dropped (when the budget forced a cut mid-unit); repair
	// the pairing invariant before anyone reads the history back.
	s.history.Messages = agent.RepairTranscript(s.history.Messages)
	return nil
}

// ComputeBudget implements agent.ConversationStore.
func (s *Store) ComputeBudget(_ context.Context) (agent.BudgetOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.estimateTotalLocked()
	available := s.contextWindow - used - ReservedResponseTokens
	if available <= 0 {
		return agent.BudgetOutcome{ContextFull: true}, nil
	}
	return agent.BudgetOutcome{AvailableResponseTokens: available}, nil
}

var _ agent.ConversationStore = (*Store)(nil)

// History implements agent.ConversationStore.
func (s *Store) History() models.ConversationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.history.Messages))
	copy(out, s.history.Messages)
	return models.ConversationHistory{Messages: out}
}

// ClearForReplan implements agent.ConversationStore.
func (s *Store) ClearForReplan(_ context.Context, stubToolCalls []models.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
	s.history.AppendAssistant("", stubToolCalls)
	return nil
}
