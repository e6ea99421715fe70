package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/embedder/mock"
	"github.com/inception881/knowledgeGPT/memory"
)

func newTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.Open(t.TempDir(), mock.New(64), nil)
	require.NoError(t, err)
	return s
}

func danglingHistory() State {
	return State{Messages: []core.Message{
		core.UserMessage("tell me about the warranty"),
		core.AssistantMessage("Let me check.", core.ToolCall{
			ID:    "tc_1",
			Name:  "retrieve_documents",
			Input: json.RawMessage(`{"query":"warranty"}`),
		}),
	}}
}

func TestSanitizerDropsDanglingToolCall(t *testing.T) {
	s := &Sanitizer{Logger: log.Default()}
	state := danglingHistory()

	next, augment, err := s.Apply(context.Background(), state, Turn{UserMessage: "and returns?"})
	require.NoError(t, err)
	assert.Empty(t, augment)

	// Exactly one message fewer, and the history ends on the user turn.
	require.Len(t, next.Messages, len(state.Messages)-1)
	last := next.Messages[len(next.Messages)-1]
	assert.Equal(t, core.KindUser, last.Kind)
	assert.False(t, last.HasPendingToolCalls())
}

func TestSanitizerLeavesCleanHistoryAlone(t *testing.T) {
	s := &Sanitizer{Logger: log.Default()}
	state := State{Messages: []core.Message{
		core.UserMessage("hello"),
		core.AssistantMessage("hi there"),
	}}

	next, _, err := s.Apply(context.Background(), state, Turn{})
	require.NoError(t, err)
	assert.Equal(t, state.Messages, next.Messages)
}

func TestSanitizerOnEmptyHistory(t *testing.T) {
	s := &Sanitizer{Logger: log.Default()}

	next, _, err := s.Apply(context.Background(), State{}, Turn{})
	require.NoError(t, err)
	assert.Empty(t, next.Messages)
}

type failingStage struct{}

func (failingStage) Name() string { return "failing" }
func (failingStage) Apply(context.Context, State, Turn) (State, string, error) {
	return State{}, "", errors.New("boom")
}

func TestRunBeforeSkipsFailingStage(t *testing.T) {
	p := New(log.Default(), []Stage{failingStage{}}, nil)
	state := State{Messages: []core.Message{core.UserMessage("kept")}}

	next, augment := p.RunBefore(context.Background(), state, Turn{UserMessage: "q"})
	assert.Equal(t, state.Messages, next.Messages)
	assert.Empty(t, augment)
}

func TestRecallRunsBeforePersist(t *testing.T) {
	store := newTestMemory(t)
	p := New(log.Default(), []Stage{
		&HistoryRecall{Store: store, Top: 3, Logger: log.Default()},
		&PersistUser{Store: store, Logger: log.Default()},
	}, nil)
	ctx := context.Background()

	// First turn: nothing to recall, the utterance gets persisted.
	_, augment := p.RunBefore(ctx, State{}, Turn{UserMessage: "how do I reset the router"})
	assert.Empty(t, augment)
	assert.Equal(t, 1, store.Count())

	// Second turn: the first utterance is now recallable.
	_, augment = p.RunBefore(ctx, State{}, Turn{UserMessage: "router reset steps"})
	assert.Contains(t, augment, "## Reference conversation history (memory):")
	assert.Contains(t, augment, "how do I reset the router")
}

func TestRecallSkipsEmptyUtterance(t *testing.T) {
	store := newTestMemory(t)
	require.NoError(t, store.Persist(context.Background(), memory.RoleUser, "something stored"))

	h := &HistoryRecall{Store: store, Top: 3, Logger: log.Default()}
	_, augment, err := h.Apply(context.Background(), State{}, Turn{UserMessage: "   "})
	require.NoError(t, err)
	assert.Empty(t, augment)
}

func TestPersistAssistantSkipsToolCallResponses(t *testing.T) {
	store := newTestMemory(t)
	p := &PersistAssistant{Store: store, Logger: log.Default()}
	ctx := context.Background()

	require.NoError(t, p.After(ctx, State{}, core.AssistantMessage("working on it", core.ToolCall{
		ID: "tc_1", Name: "retrieve_documents", Input: json.RawMessage(`{}`),
	})))
	assert.Equal(t, 0, store.Count())

	require.NoError(t, p.After(ctx, State{}, core.AssistantMessage("the warranty lasts two years")))
	assert.Equal(t, 1, store.Count())
}

func longHistory(n int) State {
	filler := strings.Repeat("word ", 40)
	var msgs []core.Message
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, core.UserMessage(fmt.Sprintf("question %d: %s", i, filler)))
		} else {
			msgs = append(msgs, core.AssistantMessage(fmt.Sprintf("answer %d: %s", i, filler)))
		}
	}
	return State{Messages: msgs}
}

func TestSummarizerBelowThresholdIsNoOp(t *testing.T) {
	s := &Summarizer{
		Summarize: func(context.Context, string) (string, error) {
			t.Fatal("summarize must not be called below the threshold")
			return "", nil
		},
		TokenThreshold: 1 << 20,
		Keep:           4,
		Logger:         log.Default(),
	}
	state := longHistory(10)

	next, _, err := s.Apply(context.Background(), state, Turn{})
	require.NoError(t, err)
	assert.Equal(t, state.Messages, next.Messages)
}

func TestSummarizerReplacesOldHistory(t *testing.T) {
	var gotTranscript string
	s := &Summarizer{
		Summarize: func(_ context.Context, transcript string) (string, error) {
			gotTranscript = transcript
			return "they covered questions 0 through 15", nil
		},
		TokenThreshold: 100,
		Keep:           4,
		Logger:         log.Default(),
	}
	state := longHistory(20)

	next, _, err := s.Apply(context.Background(), state, Turn{})
	require.NoError(t, err)

	// One summary turn plus at most Keep kept messages.
	assert.LessOrEqual(t, len(next.Messages), 5)
	first := next.Messages[0]
	assert.Equal(t, core.KindUser, first.Kind)
	assert.Contains(t, first.Text, "Summary of the conversation so far:")
	assert.Contains(t, first.Text, "they covered questions 0 through 15")

	// The cut lands on a user turn so the kept tail starts with one.
	assert.Equal(t, core.KindUser, next.Messages[1].Kind)

	// The transcript covers the replaced prefix, not the kept tail.
	assert.Contains(t, gotTranscript, "question 0")
	lastKept := next.Messages[len(next.Messages)-1]
	assert.NotContains(t, gotTranscript, lastKept.Text)
}

func TestSummarizerFailureLeavesHistoryUnchanged(t *testing.T) {
	s := &Summarizer{
		Summarize: func(context.Context, string) (string, error) {
			return "", errors.New("model unavailable")
		},
		TokenThreshold: 100,
		Keep:           4,
		Logger:         log.Default(),
	}
	state := longHistory(20)

	p := New(log.Default(), []Stage{s}, nil)
	next, _ := p.RunBefore(context.Background(), state, Turn{})
	assert.Equal(t, state.Messages, next.Messages)
}

func TestSummaryCutNeverSplitsToolPairs(t *testing.T) {
	msgs := []core.Message{
		core.UserMessage("q1"),
		core.AssistantMessage("", core.ToolCall{ID: "tc", Name: "retrieve_documents"}),
		core.ToolResultMessage(core.ToolResult{ToolCallID: "tc", Content: "r"}),
		core.AssistantMessage("a1"),
		core.UserMessage("q2"),
		core.AssistantMessage("a2"),
	}

	// keep=5 would naively cut inside the tool exchange; the cut moves
	// forward to the next user turn instead.
	cut := summaryCut(msgs, 5)
	assert.Equal(t, 4, cut)
	assert.Equal(t, core.KindUser, msgs[cut].Kind)
}

func TestEstimateTokens(t *testing.T) {
	msgs := []core.Message{
		core.UserMessage(strings.Repeat("a", 400)),
		core.ToolResultMessage(core.ToolResult{ToolCallID: "tc", Content: strings.Repeat("b", 200)}),
	}
	assert.Equal(t, 150, EstimateTokens(msgs))
	assert.Equal(t, 0, EstimateTokens(nil))
}
