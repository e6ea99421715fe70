// Package session tracks live conversations. A session binds a client
// identifier to a checkpoint thread and serializes turns so a thread's
// history is only ever appended by one in-flight turn.
package session

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/agent"
	"github.com/inception881/knowledgeGPT/checkpoint"
)

// Session is one live conversation.
type Session struct {
	ID       string
	ThreadID string

	mu    sync.Mutex
	agent *agent.Agent
}

// Ask runs one user turn on this session's thread. Turns on the same
// session run one at a time; concurrent callers queue.
func (s *Session) Ask(ctx context.Context, text string, onDelta func(string)) (*agent.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent.Turn(ctx, s.ThreadID, text, onDelta)
}

// Manager hands out sessions by id and clears them on request.
type Manager struct {
	agent       *agent.Agent
	checkpoints *checkpoint.Store
	logger      *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a session manager over the shared agent and
// checkpoint store.
func NewManager(ag *agent.Agent, checkpoints *checkpoint.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default().WithPrefix("session")
	}
	return &Manager{
		agent:       ag,
		checkpoints: checkpoints,
		logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it on first use. The
// session id doubles as the checkpoint thread id, so a returning client
// resumes its history.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{ID: id, ThreadID: id, agent: m.agent}
	m.sessions[id] = s
	m.logger.Debug("session created", "id", id)
	return s
}

// Clear forgets the session and deletes its checkpointed history. The
// long-term memory store is untouched; only the thread state resets.
func (m *Manager) Clear(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := m.checkpoints.Delete(id); err != nil {
		return err
	}
	m.logger.Info("session cleared", "id", id)
	return nil
}
