// Package session keeps the in-memory chat session registry: each session
// binds a conversation id to its owner and the missions it spawned. Sessions
// are transient; idle ones are swept after a TTL.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Manager is the thread-safe session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a registry sweeping sessions idle longer than idleTTL.
// A non-positive TTL falls back to the default of 30 minutes.
func NewManager(idleTTL time.Duration, logger *slog.Logger) *Manager {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With("component", "session"),
		stopCh:   make(chan struct{}),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// GetOrCreate returns the session for the given id, creating it on first
// contact. An empty id mints a fresh session.
func (m *Manager) GetOrCreate(sessionID, ownerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != "" {
		if s, ok := m.sessions[sessionID]; ok {
			s.Touch(m.now())
			return s
		}
	} else {
		sessionID = uuid.New().String()
	}
	now := m.now()
	s := &Session{
		SessionID:  sessionID,
		OwnerID:    ownerID,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	m.sessions[sessionID] = s
	return s
}

// Get returns the session, or false when unknown or already swept.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns copies of all live sessions.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the idle sweep loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop terminates the sweep loop and waits for it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep drops sessions idle longer than the TTL and returns the count.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, s := range m.sessions {
		if s.idleSince(now) > m.idleTTL {
			delete(m.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		m.logger.Debug("Swept idle chat sessions", "count", dropped)
	}
	return dropped
}
