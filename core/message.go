package core

import "encoding/json"

// MessageKind discriminates the closed set of conversation turn variants.
// Using an explicit tag instead of attribute probing makes the dangling
// tool-call sanitizer's precondition checkable at a glance.
type MessageKind string

const (
	// KindUser is a turn authored by the end user.
	KindUser MessageKind = "user"

	// KindAssistant is a model turn; it may carry pending tool calls.
	KindAssistant MessageKind = "assistant"

	// KindToolResult carries the results for a preceding assistant
	// turn's tool calls.
	KindToolResult MessageKind = "tool_result"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the recorded outcome of a single tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one typed turn in a conversation's history.
//
// Exactly one variant applies, selected by Kind:
//   - KindUser: Text is the user's utterance.
//   - KindAssistant: Text is the response so far; ToolCalls, when
//     non-empty, are requests that must be answered by a following
//     KindToolResult turn before the next model call.
//   - KindToolResult: Results answer the preceding assistant turn.
type Message struct {
	Kind      MessageKind  `json:"kind"`
	Text      string       `json:"text,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
}

// UserMessage builds a user turn.
func UserMessage(text string) Message {
	return Message{Kind: KindUser, Text: text}
}

// AssistantMessage builds an assistant turn with optional pending tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Kind: KindAssistant, Text: text, ToolCalls: calls}
}

// ToolResultMessage builds a tool-result turn.
func ToolResultMessage(results ...ToolResult) Message {
	return Message{Kind: KindToolResult, Results: results}
}

// HasPendingToolCalls reports whether m is an assistant turn whose tool
// calls have not been resolved by a following tool-result turn. A history
// must never be handed to the model while its last message satisfies this.
func (m Message) HasPendingToolCalls() bool {
	return m.Kind == KindAssistant && len(m.ToolCalls) > 0
}
