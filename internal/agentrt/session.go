// Package agentrt implements the Agent Runtime Server (C8, spec §4.8): the
// per-agent-instance HTTP surface, its in-memory session store, and the
// bounded LLM/tool reasoning loop. Grounded on the teacher's pkg/session and
// pkg/agent packages.
package agentrt

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageRole mirrors the teacher's session.MessageRole.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Session is one multi-turn conversation (spec §4.8 "Session contract").
type Session struct {
	ID         string    `json:"id"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	lastTouch  time.Time
	mu         sync.RWMutex
}

// AddMessage appends a message and bumps the session's idle clock.
func (s *Session) AddMessage(role MessageRole, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.UpdatedAt = time.Now()
	s.lastTouch = s.UpdatedAt
}

// Snapshot returns a safe copy of the conversation for the reasoning loop.
func (s *Session) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastTouch)
}

// SessionManager holds every active session for one agent instance and
// evicts idle ones (spec §4.8 "Sessions evict on idle > configured
// timeout; the sweep runs on every generate/chat and periodically from
// C12"). The teacher's session.Manager has no eviction — this is the
// domain's addition.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

// NewSessionManager returns a manager evicting sessions idle past timeout.
func NewSessionManager(timeout time.Duration) *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session), timeout: timeout}
}

// Create starts a new session seeded with a system prompt and the first
// user message.
func (m *SessionManager) Create(systemPrompt, userMessage string) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		lastTouch: now,
	}
	if systemPrompt != "" {
		s.Messages = append(s.Messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: userMessage})

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by id.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return s, nil
}

// Stats reports the active session count and the configured timeout, for
// GET /api/sessions/stats.
func (m *SessionManager) Stats() (count int, timeout time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), m.timeout
}

// Sweep evicts every session idle longer than the configured timeout,
// returning how many were removed. Called on every generate/chat request
// and periodically by the sweep ticker in cmd/agentrt.
func (m *SessionManager) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if s.idleSince(now) > m.timeout {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// CleanupAll force-evicts every session regardless of idle time, for
// POST /api/sessions/cleanup.
func (m *SessionManager) CleanupAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	return n
}
