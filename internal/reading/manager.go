package reading

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the live sessions, at most one per user.
type Manager struct {
	deps    Deps
	log     *slog.Logger
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session // by session id
	byUser   map[string]string   // user id -> session id

	// OnDiscard is called for every session the manager drops.
	OnDiscard func(*Session)
}

// NewManager creates a manager whose sessions expire after idleTTL without
// a change.
func NewManager(deps Deps, idleTTL time.Duration) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		deps:     deps,
		log:      deps.Logger,
		idleTTL:  idleTTL,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]string),
	}
}

// Start begins a fresh reading for userID in PhaseIntro. Any previous
// session of the user is closed and forgotten.
func (m *Manager) Start(userID string, opts Options) *Session {
	s := NewSession(uuid.NewString(), userID, opts, m.deps)

	m.mu.Lock()
	prev := m.removeUserLocked(userID)
	m.sessions[s.id] = s
	m.byUser[userID] = s.id
	m.mu.Unlock()

	if prev != nil {
		m.discard(prev)
	}
	m.log.Info("reading started", "session_id", s.id, "user_id", userID, "spread", opts.Spread.ID)
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Current returns the user's live session.
func (m *Manager) Current(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUser[userID]
	if !ok {
		return nil, false
	}
	return m.sessions[id], true
}

// Remove closes and forgets the session with id.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if m.byUser[s.userID] == id {
			delete(m.byUser, s.userID)
		}
	}
	m.mu.Unlock()

	if ok {
		m.discard(s)
	}
	return ok
}

// Sweep drops closed sessions and those idle longer than the idle TTL as of
// now. It returns how many were dropped.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		snap := s.Snapshot()
		if snap.Closed || (!snap.Pending && now.Sub(snap.UpdatedAt) > m.idleTTL) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.Remove(id) {
			n++
		}
	}
	if n > 0 {
		m.log.Info("swept idle readings", "count", n)
	}
	return n
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) removeUserLocked(userID string) *Session {
	id, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	s := m.sessions[id]
	delete(m.sessions, id)
	delete(m.byUser, userID)
	return s
}

func (m *Manager) discard(s *Session) {
	s.Close()
	if m.OnDiscard != nil {
		m.OnDiscard(s)
	}
}
