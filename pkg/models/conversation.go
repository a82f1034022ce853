// Package models defines the wire-level data types shared by the agent
// execution engine: tool calls and results, parsed model responses, and the
// conversation history the engine reads and appends to.
package models

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one LLM-requested tool invocation. ID is a provider-assigned
// token the engine treats opaquely; Arguments is a JSON object serialized as
// text.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall. Result is always JSON;
// on failure it is `{"error": kind, "message": text}`. ClearHistory is a
// back-channel from a tool asking the orchestrator to reset conversation
// history (used by plan-decomposition tools).
type ToolResult struct {
	ToolCallID   string `json:"tool_call_id"`
	Result       string `json:"result"`
	Success      bool   `json:"success"`
	ClearHistory bool   `json:"clear_history"`
}

// ErrorBody is the canonical shape of ToolResult.Result on failure.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewErrorResult builds a failed ToolResult whose Result is the JSON
// encoding of an ErrorBody. Marshalling an ErrorBody cannot fail, so errors
// are not surfaced to the caller.
func NewErrorResult(toolCallID, kind, message string) ToolResult {
	body, _ := json.Marshal(ErrorBody{Error: kind, Message: message})
	return ToolResult{ToolCallID: toolCallID, Result: string(body), Success: false}
}

// ParsedResponse is one LLM round-trip's decoded output. At least one of
// Thinking or Text may be empty; ToolCalls may be empty.
type ParsedResponse struct {
	Thinking         string
	Text             string
	ToolCalls        []ToolCall
	PromptTokens     int
	CompletionTokens int
}

// Message is one entry in a ConversationHistory.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCall
}

// ConversationHistory is the ordered sequence of messages making up a
// session. The engine only appends to and reads from it; persistence,
// compaction, and budget accounting belong to an external collaborator
// (see history.Store).
type ConversationHistory struct {
	Messages []Message
}

// AppendUser appends a user message.
func (h *ConversationHistory) AppendUser(content string) {
	h.Messages = append(h.Messages, Message{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant message, optionally carrying tool
// calls the assistant requested.
func (h *ConversationHistory) AppendAssistant(content string, toolCalls []ToolCall) {
	h.Messages = append(h.Messages, Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls})
}

// AppendTool appends a tool-result message, paired by ToolCallID with a
// preceding assistant message's tool call.
func (h *ConversationHistory) AppendTool(toolCallID, toolName, content string) {
	h.Messages = append(h.Messages, Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, ToolName: toolName})
}

// Clear wipes the history. Callers that need to preserve the
// assistant-with-tool-calls invariant after clearing must re-append a stub
// themselves (see agent.IterativeLoop's clear_history handling).
func (h *ConversationHistory) Clear() {
	h.Messages = nil
}

// Len returns the number of messages currently held.
func (h *ConversationHistory) Len() int {
	return len(h.Messages)
}
