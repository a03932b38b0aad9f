package session

import (
	"sync"
	"time"
)

// ResponseEnvelope is the structured chat reply. Raw execution traces never
// leave the engine; observers get the envelope plus the event stream.
type ResponseEnvelope struct {
	Status          string   `json:"status"`
	Summary         string   `json:"summary"`
	MissionsSpawned []string `json:"missions_spawned"`
	Artifacts       []string `json:"artifacts"`
	SignalsEmitted  []string `json:"signals_emitted"`
	LiveStreamID    string   `json:"live_stream_id,omitempty"`
}

// Session binds a chat conversation to its owner and the missions it spawned.
type Session struct {
	SessionID    string            `json:"session_id"`
	OwnerID      string            `json:"owner_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`
	MissionIDs   []string          `json:"mission_ids"`
	LastEnvelope *ResponseEnvelope `json:"last_envelope,omitempty"`

	mu sync.RWMutex
}

// Touch refreshes the idle clock.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastSeenAt = now
}

// RecordMission appends a spawned mission and stores the envelope it was
// announced with.
func (s *Session) RecordMission(missionID string, env *ResponseEnvelope, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if missionID != "" {
		s.MissionIDs = append(s.MissionIDs, missionID)
	}
	s.LastEnvelope = env
	s.LastSeenAt = now
}

// Clone returns a safe copy for readers.
func (s *Session) Clone() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Session{
		SessionID:  s.SessionID,
		OwnerID:    s.OwnerID,
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
		MissionIDs: append([]string(nil), s.MissionIDs...),
	}
	if s.LastEnvelope != nil {
		env := *s.LastEnvelope
		out.LastEnvelope = &env
	}
	return out
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastSeenAt)
}
