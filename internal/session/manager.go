package session

import (
	"context"
	"sync"
)

// Manager is a thread-safe registry of live sessions keyed by session ID,
// used by the transport layer to route disconnects to the right lifecycle.
type Manager struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]*Session)}
}

// Add registers a session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.byID[s.ID] = s
	m.mu.Unlock()
}

// Get returns the session for the given ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s := m.byID[id]
	m.mu.RUnlock()
	return s
}

// Remove deregisters and returns the session, or nil if it was already
// gone. The caller is responsible for closing it.
func (m *Manager) Remove(id string) *Session {
	m.mu.Lock()
	s := m.byID[id]
	delete(m.byID, id)
	m.mu.Unlock()
	return s
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	n := len(m.byID)
	m.mu.RUnlock()
	return n
}

// CloseAll closes every registered session and empties the registry.
// Used during server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.byID = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}
