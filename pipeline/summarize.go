package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/core"
)

// SummaryFunc condenses a conversation transcript into a short summary,
// typically via a secondary model call.
type SummaryFunc func(ctx context.Context, transcript string) (string, error)

// summaryPrefix labels the synthetic message that replaces summarized
// history, so it is recognizable in checkpoints and transcripts.
const summaryPrefix = "Summary of the conversation so far:"

// Summarizer bounds context growth independent of conversation length.
// Once the estimated token count of the history exceeds TokenThreshold,
// everything but the most recent Keep messages is replaced by a single
// summary message. The cut lands on a user-turn boundary so an assistant
// turn is never separated from its tool results.
//
// A failed summarization leaves the history unsummarized for this turn;
// it is retried the next time the threshold is exceeded.
type Summarizer struct {
	Summarize      SummaryFunc
	TokenThreshold int
	Keep           int
	Logger         *log.Logger
}

func (s *Summarizer) Name() string { return "summarization_gate" }

func (s *Summarizer) Apply(ctx context.Context, state State, turn Turn) (State, string, error) {
	if EstimateTokens(state.Messages) <= s.TokenThreshold {
		return state, "", nil
	}

	cut := summaryCut(state.Messages, s.Keep)
	if cut <= 0 {
		return state, "", nil
	}

	transcript := renderTranscript(state.Messages[:cut])
	summary, err := s.Summarize(ctx, transcript)
	if err != nil {
		return state, "", fmt.Errorf("summarize history: %w", err)
	}

	next := State{Messages: make([]core.Message, 0, len(state.Messages)-cut+1)}
	next.Messages = append(next.Messages, core.UserMessage(summaryPrefix+"\n"+summary))
	next.Messages = append(next.Messages, state.Messages[cut:]...)

	s.Logger.Info("summarized history",
		"replaced", cut, "kept", len(state.Messages)-cut)
	return next, "", nil
}

// summaryCut returns the index of the first message to keep: the earliest
// user turn that leaves at most keep trailing messages. 0 means nothing
// can be summarized.
func summaryCut(msgs []core.Message, keep int) int {
	earliest := len(msgs) - keep
	if earliest <= 0 {
		return 0
	}
	for i := earliest; i < len(msgs); i++ {
		if msgs[i].Kind == core.KindUser {
			return i
		}
	}
	return 0
}

// EstimateTokens approximates the token count of a history. Four runes
// per token is close enough for a growth bound; exact counting would need
// a tokenizer dependency for no behavioral gain.
func EstimateTokens(msgs []core.Message) int {
	runes := 0
	for _, m := range msgs {
		runes += utf8.RuneCountInString(m.Text)
		for _, r := range m.Results {
			runes += utf8.RuneCountInString(r.Content)
		}
		for _, c := range m.ToolCalls {
			runes += utf8.RuneCountInString(string(c.Input))
		}
	}
	return runes / 4
}

func renderTranscript(msgs []core.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Kind {
		case core.KindUser:
			fmt.Fprintf(&sb, "User: %s\n", m.Text)
		case core.KindAssistant:
			if m.Text != "" {
				fmt.Fprintf(&sb, "Assistant: %s\n", m.Text)
			}
			for _, c := range m.ToolCalls {
				fmt.Fprintf(&sb, "Assistant (tool call): %s\n", c.Name)
			}
		case core.KindToolResult:
			for _, r := range m.Results {
				fmt.Fprintf(&sb, "Tool result: %s\n", r.Content)
			}
		}
	}
	return sb.String()
}
