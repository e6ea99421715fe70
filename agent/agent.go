// Package agent runs the conversational loop: it wraps each user turn in
// the memory pipeline, calls the model with the retrieval tool attached,
// dispatches tool calls, and checkpoints the history after every appended
// turn so a crash can lose at most the turn in flight.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/checkpoint"
	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/pipeline"
	"github.com/inception881/knowledgeGPT/tools"
)

// DefaultSystemPrompt instructs the model to ground answers in retrieved
// documents and say so when they don't cover the question.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions using the user's uploaded documents.

GUIDELINES:
- Use the retrieve_documents tool whenever the question may be answered by the documents.
- Ground your answer in the retrieved content. If the documents do not cover the question, say so instead of guessing.
- Answer in the language the user writes in.
- Be concise and direct.`

const summarySystemPrompt = `Condense the following conversation transcript into a short summary. ` +
	`Preserve concrete facts, decisions, and open questions. Write the summary in the transcript's language.`

// Options configures an Agent. Zero fields take the documented defaults.
type Options struct {
	Model        string // default claude-sonnet-4-20250514
	SummaryModel string // default: same as Model
	SystemPrompt string // default DefaultSystemPrompt
	MaxTokens    int64  // default 4096
	MaxTurns     int    // model calls per user turn, default 10
}

// Output is the result of one completed user turn.
type Output struct {
	// Text is the assistant's final answer.
	Text string

	// References lists the distinct source documents the answer drew on,
	// empty when no retrieval happened this turn.
	References []string
}

// Agent drives multi-turn conversations against the model.
type Agent struct {
	client       *anthropic.Client
	model        anthropic.Model
	summaryModel anthropic.Model
	systemPrompt string
	maxTokens    int64
	maxTurns     int

	retrieval   *tools.Retrieval
	pipeline    *pipeline.Pipeline
	checkpoints *checkpoint.Store
	logger      *log.Logger
}

// New builds an agent. The pipeline may be nil when no memory stages are
// wanted; the checkpoint store is required.
func New(client *anthropic.Client, retrieval *tools.Retrieval, pipe *pipeline.Pipeline,
	checkpoints *checkpoint.Store, logger *log.Logger, opts Options) *Agent {

	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-20250514"
	}
	if opts.SummaryModel == "" {
		opts.SummaryModel = opts.Model
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.MaxTurns == 0 {
		opts.MaxTurns = 10
	}
	if logger == nil {
		logger = log.Default().WithPrefix("agent")
	}

	return &Agent{
		client:       client,
		model:        anthropic.Model(opts.Model),
		summaryModel: anthropic.Model(opts.SummaryModel),
		systemPrompt: opts.SystemPrompt,
		maxTokens:    opts.MaxTokens,
		maxTurns:     opts.MaxTurns,
		retrieval:    retrieval,
		pipeline:     pipe,
		checkpoints:  checkpoints,
		logger:       logger,
	}
}

// Turn processes one user message on the given thread and returns the
// assistant's answer. When onDelta is non-nil, text deltas are streamed to
// it as they arrive; a failed or cancelled stream leaves no trace in the
// checkpoint.
func (a *Agent) Turn(ctx context.Context, threadID, userMessage string, onDelta func(string)) (*Output, error) {
	history, err := a.checkpoints.Load(threadID)
	if err != nil {
		return nil, err
	}

	state := pipeline.State{Messages: history}
	var augment string
	if a.pipeline != nil {
		state, augment = a.pipeline.RunBefore(ctx, state, pipeline.Turn{UserMessage: userMessage})
	}

	state.Messages = append(state.Messages, core.UserMessage(userMessage))
	if err := a.checkpoints.Save(threadID, state.Messages); err != nil {
		return nil, err
	}

	system := a.systemPrompt
	if augment != "" {
		system += "\n\n" + augment
	}

	// cited is this turn's citation slot. It lives on the turn's stack, so
	// concurrent sessions sharing the agent cannot clobber each other's
	// citations. The last retrieval of the turn wins.
	var cited []core.RetrievedChunk

	var final core.Message
	for calls := 0; ; calls++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if calls >= a.maxTurns {
			return nil, fmt.Errorf("exceeded maximum model calls per turn (%d)", a.maxTurns)
		}

		params := anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			Messages:  toAnthropicMessages(state.Messages),
			System:    []anthropic.TextBlockParam{{Text: system}},
			Tools:     []anthropic.ToolUnionParam{a.retrieval.Definition()},
		}

		var resp *anthropic.Message
		if onDelta != nil {
			resp, err = a.createMessageStreaming(ctx, params, onDelta)
		} else {
			resp, err = a.client.Messages.New(ctx, params)
		}
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		assistant := responseToMessage(resp)
		state.Messages = append(state.Messages, assistant)
		if err := a.checkpoints.Save(threadID, state.Messages); err != nil {
			return nil, err
		}

		if !assistant.HasPendingToolCalls() {
			final = assistant
			break
		}

		results, retrieved := a.runToolCalls(ctx, assistant.ToolCalls)
		if len(retrieved) > 0 {
			cited = retrieved
		}
		state.Messages = append(state.Messages, core.ToolResultMessage(results...))
		if err := a.checkpoints.Save(threadID, state.Messages); err != nil {
			return nil, err
		}
	}

	if a.pipeline != nil {
		a.pipeline.RunAfter(ctx, state, final)
	}

	return &Output{Text: final.Text, References: tools.Sources(cited)}, nil
}

// SummarizeTranscript condenses a transcript with the secondary model.
// It satisfies pipeline.SummaryFunc.
func (a *Agent) SummarizeTranscript(ctx context.Context, transcript string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.summaryModel,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: summarySystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary model call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// runToolCalls executes every tool call from an assistant turn. Failures
// become error results for the model to react to, never loop aborts. The
// second return value carries the chunks of the last retrieval that found
// anything, for citation.
func (a *Agent) runToolCalls(ctx context.Context, calls []core.ToolCall) ([]core.ToolResult, []core.RetrievedChunk) {
	results := make([]core.ToolResult, 0, len(calls))
	var retrieved []core.RetrievedChunk
	for _, call := range calls {
		if call.Name != tools.RetrievalToolName {
			results = append(results, core.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("unknown tool: %s", call.Name),
				IsError:    true,
			})
			continue
		}

		var input struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := json.Unmarshal(call.Input, &input); err != nil {
			results = append(results, core.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("invalid tool input JSON: %s", err),
				IsError:    true,
			})
			continue
		}

		content, chunks, err := a.retrieval.Run(ctx, input.Query, input.TopK)
		if err != nil {
			a.logger.Error("tool execution failed", "tool", call.Name, "err", err)
			results = append(results, core.ToolResult{
				ToolCallID: call.ID,
				Content:    err.Error(),
				IsError:    true,
			})
			continue
		}
		if len(chunks) > 0 {
			retrieved = chunks
		}
		results = append(results, core.ToolResult{ToolCallID: call.ID, Content: content})
	}
	return results, retrieved
}

// createMessageStreaming runs a streaming call, forwarding text deltas and
// accumulating the full message for the loop.
func (a *Agent) createMessageStreaming(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*anthropic.Message, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			a.logger.Warn("stream accumulation error", "err", err)
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

// responseToMessage converts an API response into a typed assistant turn.
func responseToMessage(resp *anthropic.Message) core.Message {
	msg := core.Message{Kind: core.KindAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Text += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return msg
}

// toAnthropicMessages converts a typed history to API message params.
// Tool results map to user-role messages, and consecutive same-role
// messages are merged because the API requires strict role alternation;
// a summary turn directly before a user turn is the common case.
func toAnthropicMessages(msgs []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Kind {
		case core.KindUser:
			appendBlocks(anthropic.MessageParamRoleUser,
				[]anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)})

		case core.KindAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks)

		case core.KindToolResult:
			var blocks []anthropic.ContentBlockParamUnion
			for _, r := range m.Results {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
			}
			appendBlocks(anthropic.MessageParamRoleUser, blocks)
		}
	}
	return out
}
