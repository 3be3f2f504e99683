package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoadFunc rebuilds a session from persistent storage. It returns an error
// wrapping ErrNotFound when the conversation does not exist.
type LoadFunc func(ctx context.Context, id uuid.UUID) (*Session, error)

// Manager owns the live sessions, one per conversation id. Idle sessions
// are dropped by Evict and rehydrated through load on next use.
type Manager struct {
	load LoadFunc
	now  func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager returns a Manager. load may be nil, in which case only
// sessions added with Add are visible.
func NewManager(load LoadFunc) *Manager {
	return &Manager{load: load, now: time.Now, sessions: make(map[uuid.UUID]*Session)}
}

func (m *Manager) Add(s *Session) {
	s.touch(m.now())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get returns the caller's session, rehydrating it if needed. Sessions
// owned by someone else read as not found.
func (m *Manager) Get(ctx context.Context, owner string, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		if s.Owner != owner {
			return nil, ErrNotFound
		}
		s.touch(m.now())
		return s, nil
	}

	if m.load == nil {
		return nil, ErrNotFound
	}
	loaded, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if loaded.Owner != owner {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		existing.touch(m.now())
		return existing, nil
	}
	loaded.touch(m.now())
	m.sessions[id] = loaded
	return loaded, nil
}

// Evict drops sessions not looked up for longer than idle. Sessions with a
// turn running or queued are kept. It returns the number dropped.
func (m *Manager) Evict(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.idle(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len is the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
