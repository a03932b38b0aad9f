package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// MemoryStore is the in-memory engine. It backs tests and single-node
// deployments with storage.backend: memory. The projection logic is shared
// with the postgres engine; only durability differs.
type MemoryStore struct {
	mu        sync.RWMutex
	missions  map[string]*missionState
	taskIndex map[string]string // task_id → mission_id
	controls  map[string]*models.ControlRequest
	profiles  map[string]*models.ToolProfile
	feedback  []*models.FeedbackRecord

	// recent submissions per owner for duplicate detection
	recent    map[string][]intake
	dupWindow time.Duration

	now func() time.Time
}

// missionState pairs a projection with its log under a single writer mutex.
type missionState struct {
	mu     sync.Mutex
	proj   *projection
	events []*models.Event
}

type intake struct {
	objective string
	missionID string
	at        time.Time
}

// NewMemoryStore creates an empty in-memory store. dupWindow bounds the
// duplicate-mission lookback; zero disables the check.
func NewMemoryStore(dupWindow time.Duration) *MemoryStore {
	return &MemoryStore{
		missions:  make(map[string]*missionState),
		taskIndex: make(map[string]string),
		controls:  make(map[string]*models.ControlRequest),
		profiles:  make(map[string]*models.ToolProfile),
		recent:    make(map[string][]intake),
		dupWindow: dupWindow,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// CreateMission registers a PROPOSED mission and appends MISSION_START.
func (s *MemoryStore) CreateMission(ctx context.Context, mission *models.Mission) (*models.Event, error) {
	if mission.MissionID == "" {
		mission.MissionID = uuid.New().String()
	}
	now := s.now()
	if mission.CreatedAt.IsZero() {
		mission.CreatedAt = now
	}
	if mission.Status == "" {
		mission.Status = models.MissionStatusProposed
	}

	s.mu.Lock()
	if s.isDuplicate(mission.OwnerID, mission.ObjectiveText, now) {
		s.mu.Unlock()
		return nil, ErrDuplicateMission
	}
	if _, exists := s.missions[mission.MissionID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("mission %s already exists", mission.MissionID)
	}
	state := &missionState{proj: newProjection(mission.Clone())}
	s.missions[mission.MissionID] = state
	s.recordIntake(mission.OwnerID, mission.ObjectiveText, mission.MissionID, now)
	s.mu.Unlock()

	return s.appendToState(ctx, state, mission.MissionID, models.EventMissionStart, models.MissionStartPayload{
		Objective:     mission.ObjectiveText,
		OwnerID:       mission.OwnerID,
		Domain:        mission.Domain,
		Priority:      mission.Priority,
		ExecutionMode: mission.ExecutionMode,
		Policy:        mission.Policy,
		TriggerTime:   mission.TriggerTime,
		Recurrence:    mission.Recurrence,
		DeadlineAt:    mission.DeadlineAt,
	})
}

// AppendEvent appends one event under the mission's writer lock.
func (s *MemoryStore) AppendEvent(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
	s.mu.RLock()
	state, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMissionNotFound
	}
	return s.appendToState(ctx, state, missionID, kind, payload)
}

func (s *MemoryStore) appendToState(_ context.Context, state *missionState, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.proj.mission.Status.IsTerminal() && !kind.IsAudit() {
		return nil, ErrMissionTerminal
	}

	evt := &models.Event{
		EventID:        uuid.New().String(),
		MissionID:      missionID,
		SequenceNumber: int64(len(state.events)) + 1,
		Timestamp:      s.now(),
		EventKind:      kind,
		Payload:        raw,
	}
	if err := state.proj.apply(evt); err != nil {
		return nil, err
	}
	state.events = append(state.events, evt)

	if kind == models.EventTaskScheduled {
		var pl models.TaskScheduledPayload
		if json.Unmarshal(raw, &pl) == nil && pl.Task != nil {
			s.mu.Lock()
			s.taskIndex[pl.Task.TaskID] = missionID
			s.mu.Unlock()
		}
	}

	out := *evt
	return &out, nil
}

// GetMission returns a deep copy of the projection.
func (s *MemoryStore) GetMission(_ context.Context, missionID string) (*models.Mission, error) {
	s.mu.RLock()
	state, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMissionNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	m, _ := state.proj.snapshot()
	return m, nil
}

// ListMissions returns matching projections, newest first.
func (s *MemoryStore) ListMissions(_ context.Context, filter models.MissionFilter) ([]*models.Mission, error) {
	s.mu.RLock()
	states := make([]*missionState, 0, len(s.missions))
	for _, st := range s.missions {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]*models.Mission, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		m, _ := st.proj.snapshot()
		st.mu.Unlock()
		if matchesFilter(m, filter) {
			out = append(out, m)
		}
	}
	sortMissionsNewestFirst(out)
	return paginate(out, filter.Offset, filter.Limit), nil
}

// GetTask returns a deep copy of one task.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	missionID, ok := s.taskIndex[taskID]
	var state *missionState
	if ok {
		state = s.missions[missionID]
	}
	s.mu.RUnlock()
	if state == nil {
		return nil, ErrTaskNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	t, ok := state.proj.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// ListTasks returns the mission's tasks in scheduling order.
func (s *MemoryStore) ListTasks(_ context.Context, missionID string) ([]*models.Task, error) {
	s.mu.RLock()
	state, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMissionNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	_, tasks := state.proj.snapshot()
	return tasks, nil
}

// ListEvents returns events after the given sequence, ascending.
func (s *MemoryStore) ListEvents(_ context.Context, missionID string, afterSeq int64, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	state, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMissionNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	out := make([]*models.Event, 0)
	for _, evt := range state.events {
		if evt.SequenceNumber <= afterSeq {
			continue
		}
		e := *evt
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveControl upserts a control request.
func (s *MemoryStore) SaveControl(_ context.Context, req *models.ControlRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *req
	s.controls[req.RequestID] = &c
	return nil
}

// GetControl returns one control request.
func (s *MemoryStore) GetControl(_ context.Context, requestID string) (*models.ControlRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.controls[requestID]
	if !ok {
		return nil, ErrControlNotFound
	}
	c := *req
	return &c, nil
}

// ListControls returns control requests, optionally filtered by status,
// oldest first.
func (s *MemoryStore) ListControls(_ context.Context, status models.ControlStatus) ([]*models.ControlRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ControlRequest, 0, len(s.controls))
	for _, req := range s.controls {
		if status != "" && req.Status != status {
			continue
		}
		c := *req
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// SaveProfile upserts a tool profile.
func (s *MemoryStore) SaveProfile(_ context.Context, profile *models.ToolProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profileKey(profile.Tool, profile.Domain)] = profile.Clone()
	return nil
}

// GetProfile returns one tool profile, or nil when the pair has no history.
func (s *MemoryStore) GetProfile(_ context.Context, tool, domain string) (*models.ToolProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileKey(tool, domain)]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

// ListProfiles returns every stored profile.
func (s *MemoryStore) ListProfiles(_ context.Context) ([]*models.ToolProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ToolProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool == out[j].Tool {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Tool < out[j].Tool
	})
	return out, nil
}

// SaveFeedback appends a feedback record.
func (s *MemoryStore) SaveFeedback(_ context.Context, rec *models.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.feedback = append(s.feedback, &r)
	return nil
}

// ListFeedback returns feedback for a (tool, domain) pair, oldest first.
// Empty tool or domain matches everything.
func (s *MemoryStore) ListFeedback(_ context.Context, tool, domain string) ([]*models.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.FeedbackRecord, 0)
	for _, rec := range s.feedback {
		if tool != "" && rec.ToolName != tool {
			continue
		}
		if domain != "" && rec.Domain != domain {
			continue
		}
		r := *rec
		out = append(out, &r)
	}
	return out, nil
}

// PruneMissions drops terminal missions that finished before the cutoff.
func (s *MemoryStore) PruneMissions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, state := range s.missions {
		state.mu.Lock()
		m := state.proj.mission
		expired := m.Status.IsTerminal() && m.FinishedAt != nil && m.FinishedAt.Before(cutoff)
		var taskIDs []string
		if expired {
			taskIDs = append(taskIDs, m.TaskIDs...)
		}
		state.mu.Unlock()
		if !expired {
			continue
		}
		delete(s.missions, id)
		for _, tid := range taskIDs {
			delete(s.taskIndex, tid)
		}
		pruned++
	}
	return pruned, nil
}

// Close is a no-op for the memory engine.
func (s *MemoryStore) Close() error { return nil }

// isDuplicate reports whether the owner submitted an identical objective
// within the duplicate window. Terminal missions do not count: a finished
// mission may be resubmitted, and recurrence respawns depend on that.
// Caller holds s.mu.
func (s *MemoryStore) isDuplicate(owner, objective string, now time.Time) bool {
	if s.dupWindow <= 0 {
		return false
	}
	kept := s.recent[owner][:0]
	dup := false
	for _, in := range s.recent[owner] {
		if now.Sub(in.at) > s.dupWindow {
			continue
		}
		kept = append(kept, in)
		if in.objective == objective && !s.missionTerminal(in.missionID) {
			dup = true
		}
	}
	s.recent[owner] = kept
	return dup
}

// missionTerminal reads the referenced projection's status. Caller holds s.mu.
func (s *MemoryStore) missionTerminal(missionID string) bool {
	state, ok := s.missions[missionID]
	if !ok {
		return true
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.proj.mission.Status.IsTerminal()
}

func (s *MemoryStore) recordIntake(owner, objective, missionID string, now time.Time) {
	if s.dupWindow <= 0 {
		return
	}
	s.recent[owner] = append(s.recent[owner], intake{objective: objective, missionID: missionID, at: now})
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		return raw, nil
	}
}

func sortMissionsNewestFirst(missions []*models.Mission) {
	sort.Slice(missions, func(i, j int) bool {
		if missions[i].CreatedAt.Equal(missions[j].CreatedAt) {
			return missions[i].MissionID < missions[j].MissionID
		}
		return missions[i].CreatedAt.After(missions[j].CreatedAt)
	})
}

func matchesFilter(m *models.Mission, f models.MissionFilter) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.OwnerID != "" && m.OwnerID != f.OwnerID {
		return false
	}
	if f.Domain != "" && m.Domain != f.Domain {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func profileKey(tool, domain string) string {
	return strings.ToLower(tool) + "|" + strings.ToLower(domain)
}
