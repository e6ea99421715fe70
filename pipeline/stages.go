package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/memory"
)

// Sanitizer repairs a history left by a crash between a model's tool
// request and the recorded tool result. If the last message is an
// assistant turn with unresolved tool calls, it is dropped so the history
// again ends on the preceding user turn. This restores the precondition
// every later stage and the model call itself depend on; requesting the
// model with a dangling tool call is a hard API error.
type Sanitizer struct {
	Logger *log.Logger
}

func (s *Sanitizer) Name() string { return "sanitize_dangling_tool_calls" }

func (s *Sanitizer) Apply(ctx context.Context, state State, turn Turn) (State, string, error) {
	n := len(state.Messages)
	if n == 0 || !state.Messages[n-1].HasPendingToolCalls() {
		return state, "", nil
	}

	s.Logger.Warn("detected dangling tool call at end of history, removing",
		"tool_calls", len(state.Messages[n-1].ToolCalls))

	next := state.Clone()
	next.Messages = next.Messages[:n-1]
	return next, "", nil
}

// HistoryRecall queries the long-term memory store for entries similar to
// the incoming user message and exposes them as an ephemeral prompt
// augment. The augment is for the current call only and never persists.
type HistoryRecall struct {
	Store  *memory.Store
	Top    int
	Logger *log.Logger
}

func (h *HistoryRecall) Name() string { return "recall_similar_history" }

func (h *HistoryRecall) Apply(ctx context.Context, state State, turn Turn) (State, string, error) {
	query := strings.TrimSpace(turn.UserMessage)
	if query == "" {
		return state, "", nil
	}

	entries, err := h.Store.RetrieveSimilar(ctx, query, h.Top)
	if err != nil {
		return state, "", fmt.Errorf("retrieve similar history: %w", err)
	}
	if len(entries) == 0 {
		return state, "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Reference conversation history (memory):\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s\n", e.Content)
	}
	h.Logger.Info("recalled similar history", "entries", len(entries))
	return state, sb.String(), nil
}

// PersistUser writes the incoming user message to long-term memory under
// its content-hash id. It must run after HistoryRecall so the current
// question cannot retrieve itself as "similar history".
type PersistUser struct {
	Store  *memory.Store
	Logger *log.Logger
}

func (p *PersistUser) Name() string { return "persist_user_message" }

func (p *PersistUser) Apply(ctx context.Context, state State, turn Turn) (State, string, error) {
	content := strings.TrimSpace(turn.UserMessage)
	if content == "" {
		return state, "", nil
	}
	if err := p.Store.Persist(ctx, memory.RoleUser, content); err != nil {
		return state, "", fmt.Errorf("persist user message: %w", err)
	}
	return state, "", nil
}

// PersistAssistant writes the assistant's final text to long-term memory.
// A response still carrying tool calls is a working step, not
// conversational content, and is skipped.
type PersistAssistant struct {
	Store  *memory.Store
	Logger *log.Logger
}

func (p *PersistAssistant) Name() string { return "persist_assistant_response" }

func (p *PersistAssistant) After(ctx context.Context, state State, response core.Message) error {
	if response.Kind != core.KindAssistant || response.HasPendingToolCalls() {
		return nil
	}
	content := strings.TrimSpace(response.Text)
	if content == "" {
		return nil
	}
	if err := p.Store.Persist(ctx, memory.RoleAssistant, content); err != nil {
		return fmt.Errorf("persist assistant response: %w", err)
	}
	return nil
}
