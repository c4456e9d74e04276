package call

import (
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateAwaitingStart State = "awaiting_start"
	StateActive        State = "active"
	StateClosing       State = "closing"
	StateClosed        State = "closed"
)

var ErrNotFound = errors.New("call session not found")

// Session is the per-call record owned by one bridge instance.
type Session struct {
	CallControlID  string    `json:"call_control_id"`
	StreamID       string    `json:"stream_id"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Manager tracks live call sessions keyed by call control id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session on receipt of the media start frame.
func (m *Manager) Create(callControlID, streamID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		CallControlID:  callControlID,
		StreamID:       streamID,
		State:          StateActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[callControlID] = s
	return clone(s)
}

func (m *Manager) Get(callControlID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callControlID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(callControlID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callControlID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Closing marks the session as winding down (a pending operation is about to
// execute or a link has dropped).
func (m *Manager) Closing(callControlID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callControlID]
	if !ok {
		return ErrNotFound
	}
	if s.State == StateClosed {
		return nil
	}
	s.State = StateClosing
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Close ends the session and removes it from the registry.
func (m *Manager) Close(callControlID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callControlID]
	if !ok {
		return nil, ErrNotFound
	}
	s.State = StateClosed
	s.LastActivityAt = time.Now().UTC()
	delete(m.sessions, callControlID)
	return clone(s), nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.State == StateActive {
			count++
		}
	}
	return count
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
