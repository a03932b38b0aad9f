package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/events"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/pkg/tools"
)

type recordingScheduler struct {
	mu       sync.Mutex
	enqueued []string
}

func (r *recordingScheduler) EnqueueMission(ctx context.Context, missionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, missionID)
	return nil
}

func (r *recordingScheduler) missions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.enqueued...)
}

type missionFixture struct {
	store     *store.MemoryStore
	svc       *MissionService
	scheduler *recordingScheduler
}

func newMissionFixture(t *testing.T) *missionFixture {
	t.Helper()
	s := store.NewMemoryStore(60 * time.Second)
	pub := events.NewPublisher(s, events.NewBroker(16), nil)
	scheduler := &recordingScheduler{}
	svc := NewMissionService(config.DefaultEngineConfig(), s, pub, tools.NewRegistry(), scheduler, nil)
	t.Cleanup(svc.Close)
	return &missionFixture{store: s, svc: svc, scheduler: scheduler}
}

func TestMissionService_IntakeAtomic(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()

	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "research competitor pricing for our product",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MissionStatusProposed, mission.Status)
	assert.Equal(t, models.DomainResearch, mission.Domain)
	assert.Equal(t, models.PriorityNormal, mission.Priority)
	require.Len(t, mission.TaskIDs, 1)

	tasks, err := f.store.ListTasks(ctx, mission.MissionID)
	require.NoError(t, err)
	assert.Equal(t, "web_search", tasks[0].ActionKind)
	assert.Equal(t, mission.ObjectiveText, tasks[0].ActionParams["query"])
	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, 3, tasks[0].MaxAttempts)
}

func TestMissionService_IntakeCompositeChainsDependencies(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()

	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "plan a marketing campaign for the spring launch",
	})
	require.NoError(t, err)
	require.Len(t, mission.TaskIDs, 3)

	tasks, err := f.store.ListTasks(ctx, mission.MissionID)
	require.NoError(t, err)
	assert.Equal(t, "web_search", tasks[0].ActionKind)
	assert.Equal(t, "data_analyze", tasks[1].ActionKind)
	assert.Equal(t, "report_compose", tasks[2].ActionKind)
	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, []string{tasks[0].TaskID}, tasks[1].DependsOn)
	assert.Equal(t, []string{tasks[1].TaskID}, tasks[2].DependsOn)
}

func TestMissionService_IntakeRejectsEmptyObjective(t *testing.T) {
	f := newMissionFixture(t)

	_, err := f.svc.Intake(context.Background(), IntakeInput{
		OwnerID:   "owner-1",
		Objective: "   ",
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	missions, err := f.store.ListMissions(context.Background(), models.MissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, missions)
}

func TestMissionService_IntakeDuplicateWindow(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	input := IntakeInput{OwnerID: "owner-1", Objective: "research market trends"}

	_, err := f.svc.Intake(ctx, input)
	require.NoError(t, err)
	_, err = f.svc.Intake(ctx, input)
	assert.ErrorIs(t, err, ErrDuplicateMission)
}

func TestMissionService_UnknownDomainNeedsClarification(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()

	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "frobnicate the widgets",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MissionStatusClarificationNeeded, mission.Status)
	assert.Empty(t, mission.TaskIDs)
}

func TestMissionService_ApproveQueuesMission(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "research competitor pricing",
	})
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, mission.MissionID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.MissionStatusQueued, approved.Status)
	assert.Contains(t, f.scheduler.missions(), mission.MissionID)

	// A single operator queues the mission but never arms HIGH-risk
	// execution; that takes a second operator through the control gate.
	assert.False(t, approved.ControlApproved)

	// A second approval is rejected: the mission already left PROPOSED.
	_, err = f.svc.Approve(ctx, mission.MissionID, "op-1")
	assert.ErrorIs(t, err, ErrMissionNotMutable)
}

func TestMissionService_ApproveClarificationPlansTasks(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "frobnicate the widgets",
	})
	require.NoError(t, err)
	require.Equal(t, models.MissionStatusClarificationNeeded, mission.Status)

	approved, err := f.svc.Approve(ctx, mission.MissionID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.MissionStatusQueued, approved.Status)
	assert.NotEmpty(t, approved.TaskIDs)
}

func TestMissionService_UpdateMutableFieldsOnly(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "research competitor pricing",
	})
	require.NoError(t, err)

	priority := models.PriorityHigh
	timeout := 30
	updated, err := f.svc.Update(ctx, mission.MissionID, UpdateInput{
		Priority: &priority,
		Policy:   &models.PolicyOverrides{PerTaskTimeoutS: &timeout},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, updated.Priority)
	require.NotNil(t, updated.Policy.PerTaskTimeoutS)
	assert.Equal(t, 30, *updated.Policy.PerTaskTimeoutS)

	_, err = f.svc.Approve(ctx, mission.MissionID, "op-1")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, mission.MissionID, UpdateInput{Priority: &priority})
	assert.ErrorIs(t, err, ErrMissionNotMutable)
}

func TestMissionService_ScheduleDelaysEnqueue(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "research weekly market trends",
	})
	require.NoError(t, err)

	trigger := time.Now().Add(30 * time.Millisecond).UTC()
	scheduled, err := f.svc.Schedule(ctx, mission.MissionID, &trigger, models.RecurrenceNone)
	require.NoError(t, err)
	require.NotNil(t, scheduled.TriggerTime)

	_, err = f.svc.Approve(ctx, mission.MissionID, "op-1")
	require.NoError(t, err)
	assert.Empty(t, f.scheduler.missions())

	assert.Eventually(t, func() bool {
		return len(f.scheduler.missions()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMissionService_RecurrenceRespawnsOnCompletion(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:    "owner-1",
		Objective:  "research weekly market digest",
		Recurrence: models.RecurrenceHourly,
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, mission.MissionID, "op-1")
	require.NoError(t, err)

	// Drive the mission to COMPLETED, then fire the executor hook.
	tasks, err := f.store.ListTasks(ctx, mission.MissionID)
	require.NoError(t, err)
	_, err = f.store.AppendEvent(ctx, mission.MissionID, models.EventTaskCompleted, models.TaskCompletedPayload{
		TaskID: tasks[0].TaskID,
	})
	require.NoError(t, err)
	_, err = f.store.AppendEvent(ctx, mission.MissionID, models.EventMissionStop, models.MissionStopPayload{
		Status: models.MissionStatusCompleted,
	})
	require.NoError(t, err)

	f.svc.HandleFinished(mission.MissionID, models.MissionStatusCompleted)

	missions, err := f.store.ListMissions(ctx, models.MissionFilter{Status: models.MissionStatusQueued})
	require.NoError(t, err)
	require.Len(t, missions, 1)
	respawn := missions[0]
	assert.NotEqual(t, mission.MissionID, respawn.MissionID)
	assert.Equal(t, mission.ObjectiveText, respawn.ObjectiveText)
	assert.Equal(t, models.RecurrenceHourly, respawn.Recurrence)
	require.NotNil(t, respawn.TriggerTime)
	assert.True(t, respawn.TriggerTime.After(time.Now()))
}

func TestMissionService_EventsReplay(t *testing.T) {
	f := newMissionFixture(t)
	ctx := context.Background()
	mission, err := f.svc.Intake(ctx, IntakeInput{
		OwnerID:   "owner-1",
		Objective: "research competitor pricing",
	})
	require.NoError(t, err)

	all, err := f.svc.Events(ctx, mission.MissionID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, models.EventMissionStart, all[0].EventKind)

	tail, err := f.svc.Events(ctx, mission.MissionID, all[0].SequenceNumber, 0)
	require.NoError(t, err)
	assert.Len(t, tail, len(all)-1)

	_, err = f.svc.Events(ctx, "no-such-mission", 0, 0)
	assert.ErrorIs(t, err, ErrMissionNotFound)
}
