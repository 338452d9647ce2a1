package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omnilingual-asr/transcriber/internal/models"
	"github.com/omnilingual-asr/transcriber/internal/workflow"
)

// MaxSessions limits concurrent sessions to bound memory and disk use
const MaxSessions = 10

// SessionMaxAge is how long an idle session is kept before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

// Factory builds the controller for a new session.
type Factory func() *workflow.Controller

// Manager tracks browsing sessions. Each session owns one workflow controller.
type Manager struct {
	sessions    map[string]*SessionState
	mu          sync.RWMutex
	factory     Factory
	maxSessions int
	keepAlive   time.Duration
}

// SessionState holds a session's controller and access times.
type SessionState struct {
	ID           string
	Controller   *workflow.Controller
	CreatedAt    time.Time
	LastAccessed time.Time // Last time the session was accessed (for keep-alive)
}

// NewManager creates a session manager with the default limits.
func NewManager(factory Factory) *Manager {
	return NewManagerWithLimits(factory, MaxSessions, SessionKeepAliveWindow)
}

// NewManagerWithLimits creates a session manager with explicit limits.
// A maxSessions of 0 or less disables the limit.
func NewManagerWithLimits(factory Factory, maxSessions int, keepAlive time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*SessionState),
		factory:     factory,
		maxSessions: maxSessions,
		keepAlive:   keepAlive,
	}
}

// Create starts a new session with an empty working set.
func (m *Manager) Create() (models.SessionInfo, error) {
	// Clean up old sessions if at limit
	m.cleanupOldSessionsIfNeeded()

	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return models.SessionInfo{}, ErrTooManySessions
	}

	now := time.Now()
	state := &SessionState{
		ID:           uuid.New().String(),
		Controller:   m.factory(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	m.sessions[state.ID] = state
	info := infoOf(state)
	m.mu.Unlock()

	fmt.Printf("[Session %s] Created (mode=%s, autoProcess=%v)\n", shortID(state.ID), info.Mode, info.AutoProcess)
	return info, nil
}

// Get returns the controller of a session.
func (m *Manager) Get(id string) (*workflow.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return state.Controller, true
}

// Info returns a summary of a session.
func (m *Manager) Info(id string) (models.SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.SessionInfo{}, false
	}
	return infoOf(state), true
}

// List returns every session, most recently used first.
func (m *Manager) List() []models.SessionInfo {
	m.mu.RLock()
	out := make([]models.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, infoOf(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out
}

// TouchSession updates the LastAccessed timestamp for a session.
// This should be called whenever a session is actively being used
// to prevent it from being cleaned up.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Delete destroys a session, its status table and its blobs.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	state.Controller.Close()
	fmt.Printf("[Session %s] Deleted\n", shortID(id))
	return nil
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close destroys every session.
func (m *Manager) Close() {
	m.mu.Lock()
	states := make([]*SessionState, 0, len(m.sessions))
	for id, s := range m.sessions {
		states = append(states, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range states {
		s.Controller.Close()
	}
}

// cleanupOldSessionsIfNeeded evicts the least recently used idle session if at capacity
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	if m.maxSessions <= 0 || len(m.sessions) < m.maxSessions {
		m.mu.Unlock()
		return
	}

	var idle []*SessionState
	for _, state := range m.sessions {
		if !state.Controller.Busy() {
			idle = append(idle, state)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastAccessed.Before(idle[j].LastAccessed)
	})

	toFree := len(m.sessions) - m.maxSessions + 1
	var evicted []*SessionState
	for _, state := range idle {
		if len(evicted) >= toFree {
			break
		}
		delete(m.sessions, state.ID)
		evicted = append(evicted, state)
	}
	m.mu.Unlock()

	for _, state := range evicted {
		state.Controller.Close()
		fmt.Printf("[Manager] Evicted idle session %s to stay under %d sessions\n", shortID(state.ID), m.maxSessions)
	}
}

// CleanupOldSessions removes idle sessions not accessed within maxAge,
// but keeps sessions that have been accessed within the keep-alive window
// and sessions with outstanding work.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-m.keepAlive)

	m.mu.Lock()
	var expired []*SessionState
	for id, state := range m.sessions {
		// Don't clean up sessions that are actively being used
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if !state.LastAccessed.Before(cutoff) {
			continue
		}
		if state.Controller.Busy() {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, state)
	}
	m.mu.Unlock()

	for _, state := range expired {
		state.Controller.Close()
		fmt.Printf("[Manager] Cleaned up aged session %s (last accessed: %s ago)\n",
			shortID(state.ID), time.Since(state.LastAccessed).Round(time.Second))
	}
}

// CleanupOldRuns drops finished runs older than maxAge from every session's history.
func (m *Manager) CleanupOldRuns(maxAge time.Duration) {
	m.mu.RLock()
	controllers := make([]*workflow.Controller, 0, len(m.sessions))
	for _, state := range m.sessions {
		controllers = append(controllers, state.Controller)
	}
	m.mu.RUnlock()

	for _, ctrl := range controllers {
		ctrl.CleanupOldRuns(maxAge)
	}
}

// infoOf must be called with m.mu held.
func infoOf(state *SessionState) models.SessionInfo {
	summary := state.Controller.Summary()
	info := models.SessionInfo{
		ID:           state.ID,
		CreatedAt:    state.CreatedAt,
		LastAccessed: state.LastAccessed,
		Mode:         string(state.Controller.Mode()),
		AutoProcess:  state.Controller.AutoProcess(),
		Counts:       summary.Counts,
	}
	if run, ok := state.Controller.ActiveRun(); ok {
		info.ActiveRun = &run
	}
	return info
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
