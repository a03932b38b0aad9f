package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// recoveryParallelism bounds concurrent mission replays on startup.
const recoveryParallelism = 8

// PostgresStore is the durable engine. The event log lives in postgres;
// projections are kept in memory and rebuilt on startup from the latest
// snapshot plus the event tail. Writes go to the log first; a projection is
// never updated for an event that failed to persist.
type PostgresStore struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	snapshotEvery int64
	dupWindow     time.Duration

	mu        sync.RWMutex
	missions  map[string]*pgMissionState
	taskIndex map[string]string

	now func() time.Time
}

type pgMissionState struct {
	mu   sync.Mutex
	proj *projection
}

// PostgresOptions tunes the postgres engine.
type PostgresOptions struct {
	// SnapshotEvery writes a projection snapshot after this many events.
	SnapshotEvery int64

	// DupWindow bounds the duplicate-mission lookback; zero disables it.
	DupWindow time.Duration
}

// NewPostgresStore verifies the persisted schema version and rebuilds every
// mission projection from its snapshot and event tail.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, opts PostgresOptions) (*PostgresStore, error) {
	if opts.SnapshotEvery < 1 {
		opts.SnapshotEvery = 20
	}
	s := &PostgresStore{
		pool:          pool,
		logger:        logger.With("component", "store"),
		snapshotEvery: opts.SnapshotEvery,
		dupWindow:     opts.DupWindow,
		missions:      make(map[string]*pgMissionState),
		taskIndex:     make(map[string]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
	if err := s.checkSchemaVersion(ctx); err != nil {
		return nil, err
	}
	if err := s.recoverMissions(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) checkSchemaVersion(ctx context.Context) error {
	var version int
	err := s.pool.QueryRow(ctx, `SELECT schema_version FROM schema_meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: persisted version %d, supported up to %d", ErrSchemaVersion, version, SchemaVersion)
	}
	return nil
}

// recoverMissions rebuilds all projections. Replays run in parallel; a single
// corrupt log aborts startup rather than serving a wrong projection.
func (s *PostgresStore) recoverMissions(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT mission_id FROM mission_events`)
	if err != nil {
		return fmt.Errorf("list missions for recovery: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan mission id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if rows.Err() != nil {
		return fmt.Errorf("list missions for recovery: %w", rows.Err())
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryParallelism)

	states := make([]*pgMissionState, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			state, err := s.loadMission(gctx, id)
			if err != nil {
				return fmt.Errorf("recover mission %s: %w", id, err)
			}
			states[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	for i, id := range ids {
		s.missions[id] = states[i]
		for taskID := range states[i].proj.tasks {
			s.taskIndex[taskID] = id
		}
	}
	s.mu.Unlock()

	s.logger.Info("mission projections recovered",
		"missions", len(ids),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// loadMission restores one projection from its latest snapshot plus the
// events appended after it.
func (s *PostgresStore) loadMission(ctx context.Context, missionID string) (*pgMissionState, error) {
	proj := newProjection(&models.Mission{MissionID: missionID})
	var fromSeq int64

	var (
		schemaVersion int
		lastSeq       int64
		missionJSON   []byte
		tasksJSON     []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT schema_version, last_sequence, mission, tasks FROM mission_snapshots WHERE mission_id = $1`,
		missionID,
	).Scan(&schemaVersion, &lastSeq, &missionJSON, &tasksJSON)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Full replay from sequence 1.
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	case schemaVersion > SchemaVersion:
		return nil, fmt.Errorf("%w: snapshot version %d", ErrSchemaVersion, schemaVersion)
	default:
		var mission models.Mission
		if err := json.Unmarshal(missionJSON, &mission); err != nil {
			return nil, fmt.Errorf("decode snapshot mission: %w", err)
		}
		var tasks []*models.Task
		if err := json.Unmarshal(tasksJSON, &tasks); err != nil {
			return nil, fmt.Errorf("decode snapshot tasks: %w", err)
		}
		proj.mission = &mission
		for _, t := range tasks {
			proj.tasks[t.TaskID] = t
		}
		fromSeq = lastSeq
	}

	events, err := s.queryEvents(ctx, missionID, fromSeq, 0)
	if err != nil {
		return nil, err
	}
	for _, evt := range events {
		if err := proj.apply(evt); err != nil {
			return nil, fmt.Errorf("replay at sequence %d: %w", evt.SequenceNumber, err)
		}
	}
	return &pgMissionState{proj: proj}, nil
}

// CreateMission registers a PROPOSED mission and appends MISSION_START.
func (s *PostgresStore) CreateMission(ctx context.Context, mission *models.Mission) (*models.Event, error) {
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
	if s.hasRecentDuplicate(mission.OwnerID, mission.ObjectiveText, now) {
		s.mu.Unlock()
		return nil, ErrDuplicateMission
	}
	if _, exists := s.missions[mission.MissionID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("mission %s already exists", mission.MissionID)
	}
	state := &pgMissionState{proj: newProjection(mission.Clone())}
	s.missions[mission.MissionID] = state
	s.mu.Unlock()

	evt, err := s.appendToState(ctx, state, mission.MissionID, models.EventMissionStart, models.MissionStartPayload{
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
	if err != nil {
		s.mu.Lock()
		delete(s.missions, mission.MissionID)
		s.mu.Unlock()
		return nil, err
	}
	return evt, nil
}

// hasRecentDuplicate scans cached projections for a same-owner submission of
// the identical objective inside the window. Terminal missions do not count:
// a finished mission may be resubmitted, and recurrence respawns depend on
// that. Caller holds s.mu.
func (s *PostgresStore) hasRecentDuplicate(owner, objective string, now time.Time) bool {
	if s.dupWindow <= 0 {
		return false
	}
	for _, state := range s.missions {
		m := state.proj.mission
		if m.OwnerID == owner && m.ObjectiveText == objective &&
			!m.Status.IsTerminal() && now.Sub(m.CreatedAt) <= s.dupWindow {
			return true
		}
	}
	return false
}

// AppendEvent durably appends one event and applies it to the projection.
func (s *PostgresStore) AppendEvent(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
	s.mu.RLock()
	state, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMissionNotFound
	}
	return s.appendToState(ctx, state, missionID, kind, payload)
}

func (s *PostgresStore) appendToState(ctx context.Context, state *pgMissionState, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
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
		SequenceNumber: state.proj.mission.LastSequence + 1,
		Timestamp:      s.now(),
		EventKind:      kind,
		Payload:        raw,
	}

	// Log write first. On failure the projection stays untouched and the
	// caller sees the mission exactly as before the attempt.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO mission_events (event_id, mission_id, sequence_number, event_kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.EventID, evt.MissionID, evt.SequenceNumber, string(evt.EventKind), []byte(evt.Payload), evt.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: append event: %v", ErrStorageUnavailable, err)
	}

	if err := state.proj.apply(evt); err != nil {
		return nil, err
	}

	if kind == models.EventTaskScheduled {
		var pl models.TaskScheduledPayload
		if json.Unmarshal(raw, &pl) == nil && pl.Task != nil {
			s.mu.Lock()
			s.taskIndex[pl.Task.TaskID] = missionID
			s.mu.Unlock()
		}
	}

	if evt.SequenceNumber%s.snapshotEvery == 0 {
		if err := s.writeSnapshot(ctx, state.proj); err != nil {
			// Snapshots only bound replay cost; the log remains authoritative.
			s.logger.Warn("snapshot write failed",
				"mission_id", missionID,
				"sequence", evt.SequenceNumber,
				"error", err)
		}
	}

	out := *evt
	return &out, nil
}

// writeSnapshot upserts the current projection. Caller holds the state lock.
func (s *PostgresStore) writeSnapshot(ctx context.Context, proj *projection) error {
	mission, tasks := proj.snapshot()
	missionJSON, err := json.Marshal(mission)
	if err != nil {
		return fmt.Errorf("encode mission: %w", err)
	}
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO mission_snapshots (mission_id, schema_version, last_sequence, mission, tasks, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (mission_id) DO UPDATE SET
		   schema_version = EXCLUDED.schema_version,
		   last_sequence = EXCLUDED.last_sequence,
		   mission = EXCLUDED.mission,
		   tasks = EXCLUDED.tasks,
		   updated_at = EXCLUDED.updated_at`,
		mission.MissionID, SchemaVersion, mission.LastSequence, missionJSON, tasksJSON, s.now(),
	)
	return err
}

// GetMission returns a deep copy of the cached projection.
func (s *PostgresStore) GetMission(_ context.Context, missionID string) (*models.Mission, error) {
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

// ListMissions returns matching cached projections, newest first.
func (s *PostgresStore) ListMissions(_ context.Context, filter models.MissionFilter) ([]*models.Mission, error) {
	s.mu.RLock()
	states := make([]*pgMissionState, 0, len(s.missions))
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

// GetTask returns a deep copy of one cached task.
func (s *PostgresStore) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	missionID, ok := s.taskIndex[taskID]
	var state *pgMissionState
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
func (s *PostgresStore) ListTasks(_ context.Context, missionID string) ([]*models.Task, error) {
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

// ListEvents reads the durable log directly.
func (s *PostgresStore) ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	_, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMissionNotFound
	}
	return s.queryEvents(ctx, missionID, afterSeq, limit)
}

func (s *PostgresStore) queryEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]*models.Event, error) {
	query := `SELECT event_id, mission_id, sequence_number, event_kind, payload, created_at
	          FROM mission_events
	          WHERE mission_id = $1 AND sequence_number > $2
	          ORDER BY sequence_number`
	args := []any{missionID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		evt := &models.Event{}
		var kind string
		var payload []byte
		if err := rows.Scan(&evt.EventID, &evt.MissionID, &evt.SequenceNumber, &kind, &payload, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.EventKind = models.EventKind(kind)
		evt.Payload = payload
		events = append(events, evt)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("query events: %w", rows.Err())
	}
	return events, nil
}

// SaveControl upserts a control request.
func (s *PostgresStore) SaveControl(ctx context.Context, req *models.ControlRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode control request: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO control_requests (request_id, status, submitted_at, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (request_id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		req.RequestID, string(req.Status), req.SubmittedAt, data,
	)
	if err != nil {
		return fmt.Errorf("%w: save control request: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// GetControl returns one control request.
func (s *PostgresStore) GetControl(ctx context.Context, requestID string) (*models.ControlRequest, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM control_requests WHERE request_id = $1`, requestID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrControlNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get control request: %w", err)
	}
	var req models.ControlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode control request: %w", err)
	}
	return &req, nil
}

// ListControls returns control requests, optionally filtered by status,
// oldest first.
func (s *PostgresStore) ListControls(ctx context.Context, status models.ControlStatus) ([]*models.ControlRequest, error) {
	query := `SELECT data FROM control_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY submitted_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list control requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ControlRequest
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan control request: %w", err)
		}
		var req models.ControlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode control request: %w", err)
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

// SaveProfile upserts a tool profile.
func (s *PostgresStore) SaveProfile(ctx context.Context, profile *models.ToolProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode tool profile: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tool_profiles (tool, domain, data, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tool, domain) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		profile.Tool, profile.Domain, data, s.now(),
	)
	if err != nil {
		return fmt.Errorf("%w: save tool profile: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// GetProfile returns one tool profile, or nil when the pair has no history.
func (s *PostgresStore) GetProfile(ctx context.Context, tool, domain string) (*models.ToolProfile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM tool_profiles WHERE tool = $1 AND domain = $2`, tool, domain).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tool profile: %w", err)
	}
	var profile models.ToolProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode tool profile: %w", err)
	}
	return &profile, nil
}

// ListProfiles returns every stored profile.
func (s *PostgresStore) ListProfiles(ctx context.Context) ([]*models.ToolProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM tool_profiles ORDER BY tool, domain`)
	if err != nil {
		return nil, fmt.Errorf("list tool profiles: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolProfile
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan tool profile: %w", err)
		}
		var profile models.ToolProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("decode tool profile: %w", err)
		}
		out = append(out, &profile)
	}
	return out, rows.Err()
}

// SaveFeedback appends a feedback record.
func (s *PostgresStore) SaveFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode feedback record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO feedback_records (feedback_id, tool_name, domain, created_at, data)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.FeedbackID, rec.ToolName, rec.Domain, rec.Timestamp, data,
	)
	if err != nil {
		return fmt.Errorf("%w: save feedback record: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// ListFeedback returns feedback for a (tool, domain) pair, oldest first.
func (s *PostgresStore) ListFeedback(ctx context.Context, tool, domain string) ([]*models.FeedbackRecord, error) {
	query := `SELECT data FROM feedback_records WHERE 1=1`
	args := []any{}
	if tool != "" {
		args = append(args, tool)
		query += fmt.Sprintf(` AND tool_name = $%d`, len(args))
	}
	if domain != "" {
		args = append(args, domain)
		query += fmt.Sprintf(` AND domain = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback records: %w", err)
	}
	defer rows.Close()

	var out []*models.FeedbackRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}
		var rec models.FeedbackRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode feedback record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneMissions removes logs, snapshots, and cached projections of terminal
// missions that finished before the cutoff.
func (s *PostgresStore) PruneMissions(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	var expired []string
	for id, state := range s.missions {
		state.mu.Lock()
		m := state.proj.mission
		if m.Status.IsTerminal() && m.FinishedAt != nil && m.FinishedAt.Before(cutoff) {
			expired = append(expired, id)
		}
		state.mu.Unlock()
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return 0, nil
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM mission_events WHERE mission_id = ANY($1)`, expired); err != nil {
		return 0, fmt.Errorf("%w: prune events: %v", ErrStorageUnavailable, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM mission_snapshots WHERE mission_id = ANY($1)`, expired); err != nil {
		return 0, fmt.Errorf("%w: prune snapshots: %v", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	for _, id := range expired {
		if state, ok := s.missions[id]; ok {
			for _, tid := range state.proj.mission.TaskIDs {
				delete(s.taskIndex, tid)
			}
			delete(s.missions, id)
		}
	}
	s.mu.Unlock()

	return len(expired), nil
}

// Close is a no-op; the connection pool is owned by the database client.
func (s *PostgresStore) Close() error { return nil }
