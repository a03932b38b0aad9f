package store_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/test/util"
)

func newPostgresStore(t *testing.T) (*store.PostgresStore, func() *store.PostgresStore) {
	pool := util.SetupTestPool(t)
	logger := slog.Default()
	opts := store.PostgresOptions{SnapshotEvery: 3, DupWindow: time.Minute}

	s, err := store.NewPostgresStore(context.Background(), pool, logger, opts)
	require.NoError(t, err)

	reopen := func() *store.PostgresStore {
		s2, err := store.NewPostgresStore(context.Background(), pool, logger, opts)
		require.NoError(t, err)
		return s2
	}
	return s, reopen
}

func TestPostgresStore_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	s, _ := newPostgresStore(t)

	evt, err := s.CreateMission(ctx, &models.Mission{
		ObjectiveText: "postgres round trip",
		OwnerID:       "owner-1",
		Domain:        models.DomainResearch,
		Priority:      models.PriorityNormal,
		ExecutionMode: models.ModeMock,
	})
	require.NoError(t, err)
	missionID := evt.MissionID

	task := &models.Task{
		TaskID:      "task-1",
		MissionID:   missionID,
		ActionKind:  "web_extract",
		MaxAttempts: 3,
		RiskLevel:   models.RiskLow,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.AppendEvent(ctx, missionID, models.EventTaskScheduled, models.TaskScheduledPayload{Task: task})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, missionID, models.EventTaskStarted, models.TaskStartedPayload{
		TaskID: "task-1", WorkerID: "worker-1", Lane: models.LaneLocal, Attempt: 1,
	})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, missionID, models.EventTaskCompleted, models.TaskCompletedPayload{
		TaskID: "task-1", ResultHandle: "artifact:res", LatencyMS: 50,
	})
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, missionID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, evt := range events {
		assert.Equal(t, int64(i+1), evt.SequenceNumber)
	}

	m, err := s.GetMission(ctx, missionID)
	require.NoError(t, err)
	assert.Equal(t, models.MissionStatusRunning, m.Status)
	assert.Equal(t, 100, m.ProgressPercent)

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, "artifact:res", got.ResultHandle)
}

func TestPostgresStore_RecoveryMatchesLiveState(t *testing.T) {
	ctx := context.Background()
	s, reopen := newPostgresStore(t)

	evt, err := s.CreateMission(ctx, &models.Mission{
		ObjectiveText: "recovery equivalence",
		OwnerID:       "owner-1",
		Domain:        models.DomainMarketing,
		Priority:      models.PriorityHigh,
		ExecutionMode: models.ModeDryRun,
	})
	require.NoError(t, err)
	missionID := evt.MissionID

	// Enough events to cross the snapshot interval at least once.
	for i := 0; i < 7; i++ {
		_, err = s.AppendEvent(ctx, missionID, models.EventProgress, models.ProgressPayload{Percent: i * 10})
		require.NoError(t, err)
	}
	_, err = s.AppendEvent(ctx, missionID, models.EventMissionStop, models.MissionStopPayload{
		Status: models.MissionStatusCompleted,
	})
	require.NoError(t, err)

	live, err := s.GetMission(ctx, missionID)
	require.NoError(t, err)
	liveTasks, err := s.ListTasks(ctx, missionID)
	require.NoError(t, err)

	recovered := reopen()
	rebuilt, err := recovered.GetMission(ctx, missionID)
	require.NoError(t, err)
	rebuiltTasks, err := recovered.ListTasks(ctx, missionID)
	require.NoError(t, err)

	assert.Equal(t, live, rebuilt)
	assert.Equal(t, liveTasks, rebuiltTasks)
}

func TestPostgresStore_DuplicateWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := newPostgresStore(t)

	mission := func() *models.Mission {
		return &models.Mission{
			ObjectiveText: "nightly report",
			OwnerID:       "owner-1",
			Domain:        models.DomainOperations,
			Priority:      models.PriorityLow,
			ExecutionMode: models.ModeMock,
		}
	}
	_, err := s.CreateMission(ctx, mission())
	require.NoError(t, err)
	_, err = s.CreateMission(ctx, mission())
	assert.ErrorIs(t, err, store.ErrDuplicateMission)
}

func TestPostgresStore_ControlsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	s, reopen := newPostgresStore(t)

	req := &models.ControlRequest{
		RequestID:        "ctl-1",
		Action:           models.ControlLockDomain,
		TargetID:         "marketing",
		OperatorID:       "op-1",
		RequiresApproval: true,
		Status:           models.ControlStatusPending,
		SubmittedAt:      time.Now().UTC(),
		LockDuration:     time.Hour,
	}
	require.NoError(t, s.SaveControl(ctx, req))

	recovered := reopen()
	got, err := recovered.GetControl(ctx, "ctl-1")
	require.NoError(t, err)
	assert.Equal(t, models.ControlLockDomain, got.Action)
	assert.Equal(t, time.Hour, got.LockDuration)

	pending, err := recovered.ListControls(ctx, models.ControlStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPostgresStore_PruneMissions(t *testing.T) {
	ctx := context.Background()
	s, _ := newPostgresStore(t)

	evt, err := s.CreateMission(ctx, &models.Mission{
		ObjectiveText: "prune target",
		OwnerID:       "owner-1",
		Domain:        models.DomainResearch,
		Priority:      models.PriorityNormal,
		ExecutionMode: models.ModeMock,
	})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, evt.MissionID, models.EventMissionStop, models.MissionStopPayload{
		Status: models.MissionStatusCancelled,
	})
	require.NoError(t, err)

	pruned, err := s.PruneMissions(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = s.GetMission(ctx, evt.MissionID)
	assert.ErrorIs(t, err, store.ErrMissionNotFound)
}
