// Package pipeline runs the ordered state transforms wrapped around every
// model turn: crash sanitation, long-term history recall, user-message
// persistence, and summarization before the call; assistant persistence
// after it.
//
// Each stage takes an immutable snapshot of the conversation state and
// returns a new state plus an ephemeral system-prompt augment. Augments
// apply to the current model call only and are never checkpointed. A
// failing stage is logged and skipped: memory is best-effort, the chat
// turn is not.
package pipeline

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/core"
)

// State is the conversation state a stage operates on.
type State struct {
	Messages []core.Message
}

// Clone returns a state whose message slice can be mutated safely.
func (s State) Clone() State {
	msgs := make([]core.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return State{Messages: msgs}
}

// Turn carries the incoming user utterance for the current model call.
// It is not yet part of State; the agent appends it after the pre-stages
// have run.
type Turn struct {
	UserMessage string
}

// Stage is one pre-model transform. It returns the (possibly unchanged)
// state and an ephemeral augment to append to the system prompt for this
// call only.
type Stage interface {
	Name() string
	Apply(ctx context.Context, state State, turn Turn) (State, string, error)
}

// PostStage runs after the model call with the assistant's response.
type PostStage interface {
	Name() string
	After(ctx context.Context, state State, response core.Message) error
}

// Pipeline is a fixed, ordered sequence of stages.
type Pipeline struct {
	pre    []Stage
	post   []PostStage
	logger *log.Logger
}

// New builds a pipeline. Stage order is the caller's contract: the
// sanitizer must come first, and history recall must precede user-message
// persistence or the current utterance would retrieve itself.
func New(logger *log.Logger, pre []Stage, post []PostStage) *Pipeline {
	if logger == nil {
		logger = log.Default().WithPrefix("pipeline")
	}
	return &Pipeline{pre: pre, post: post, logger: logger}
}

// RunBefore applies every pre-stage in order and joins their augments.
// Stage failures are logged and the stage's effect skipped; RunBefore
// itself never fails.
func (p *Pipeline) RunBefore(ctx context.Context, state State, turn Turn) (State, string) {
	var augments []string
	for _, stage := range p.pre {
		next, augment, err := stage.Apply(ctx, state, turn)
		if err != nil {
			p.logger.Error("stage failed, skipping its effect", "stage", stage.Name(), "err", err)
			continue
		}
		state = next
		if augment != "" {
			augments = append(augments, augment)
		}
	}
	return state, strings.Join(augments, "\n\n")
}

// RunAfter applies every post-stage in order with the model's response.
func (p *Pipeline) RunAfter(ctx context.Context, state State, response core.Message) {
	for _, stage := range p.post {
		if err := stage.After(ctx, state, response); err != nil {
			p.logger.Error("stage failed, skipping its effect", "stage", stage.Name(), "err", err)
		}
	}
}
