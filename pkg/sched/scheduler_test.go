package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/plan"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/pkg/tools"
)

type storeAppender struct{ s *store.MemoryStore }

func (a *storeAppender) Append(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
	return a.s.AppendEvent(ctx, missionID, kind, payload)
}

// recordingRunner collects dispatched tasks and replies with a fixed result.
type recordingRunner struct {
	mu        sync.Mutex
	runs      []string
	lanes     []models.Lane
	caps      []models.ExecutionMode
	concluded []string
	result    RunResult
	done      chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan struct{}, 16)}
}

func (r *recordingRunner) Run(_ context.Context, task *models.Task, lane models.Lane, modeCap models.ExecutionMode) RunResult {
	r.mu.Lock()
	r.runs = append(r.runs, task.TaskID)
	r.lanes = append(r.lanes, lane)
	r.caps = append(r.caps, modeCap)
	res := r.result
	r.mu.Unlock()
	r.done <- struct{}{}
	return res
}

func (r *recordingRunner) Conclude(_ context.Context, missionID string) {
	r.mu.Lock()
	r.concluded = append(r.concluded, missionID)
	r.mu.Unlock()
}

func (r *recordingRunner) taskIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func (r *recordingRunner) modeCaps() []models.ExecutionMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ExecutionMode(nil), r.caps...)
}

func (r *recordingRunner) concludedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.concluded...)
}

func (r *recordingRunner) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was never invoked")
	}
}

type staticGuard struct {
	locked map[models.Domain]bool
	hosts  map[string]bool
}

func (g *staticGuard) Locked(d models.Domain) bool   { return g.locked[d] }
func (g *staticGuard) LockedLabel(label string) bool { return g.hosts[label] }

type idlePool struct{ workers []*models.WorkerInfo }

func (p *idlePool) IdleWorkers() []*models.WorkerInfo { return p.workers }

type schedFixture struct {
	sched  *Scheduler
	store  *store.MemoryStore
	runner *recordingRunner
	guard  *staticGuard
}

func newFixture(t *testing.T) *schedFixture {
	return newFixtureWithRules(t, nil)
}

func newFixtureWithRules(t *testing.T, rules []config.ConflictRule) *schedFixture {
	t.Helper()
	s := store.NewMemoryStore(0)
	runner := newRecordingRunner()
	guard := &staticGuard{locked: make(map[models.Domain]bool), hosts: make(map[string]bool)}
	pool := &idlePool{workers: []*models.WorkerInfo{
		{WorkerID: "worker-001", Status: models.WorkerIdle},
	}}
	cfg := config.DefaultSchedulerConfig()
	cfg.TickInterval = 10 * time.Millisecond
	if rules != nil {
		cfg.ConflictRules = rules
	}
	sc := NewScheduler(
		cfg, config.DefaultEngineConfig(),
		s, &storeAppender{s: s},
		plan.NewRouter(tools.NewRegistry()), pool,
		runner, guard, nil, nil,
	)
	sc.Backoff().SetUnit(time.Millisecond)
	return &schedFixture{sched: sc, store: s, runner: runner, guard: guard}
}

// queuedMission creates a mission in QUEUED with the given tasks scheduled.
func (f *schedFixture) queuedMission(t *testing.T, mode models.ExecutionMode, tasks ...*models.Task) string {
	t.Helper()
	ctx := context.Background()
	evt, err := f.store.CreateMission(ctx, &models.Mission{
		ObjectiveText: "research competitor pricing pages",
		OwnerID:       "owner-1",
		Domain:        models.DomainResearch,
		Priority:      models.PriorityNormal,
		ExecutionMode: mode,
	})
	require.NoError(t, err)
	missionID := evt.MissionID

	for _, task := range tasks {
		task.MissionID = missionID
		_, err = f.store.AppendEvent(ctx, missionID, models.EventTaskScheduled, models.TaskScheduledPayload{Task: task})
		require.NoError(t, err)
	}
	_, err = f.store.AppendEvent(ctx, missionID, models.EventStatusChange, models.StatusChangePayload{
		From: models.MissionStatusProposed, To: models.MissionStatusQueued,
	})
	require.NoError(t, err)
	return missionID
}

func pendingTask(id, kind string) *models.Task {
	return &models.Task{
		TaskID:       id,
		ActionKind:   kind,
		ActionParams: map[string]any{"url": "https://example.com/" + id},
		Status:       models.TaskStatusPending,
		MaxAttempts:  3,
		RiskLevel:    models.RiskLow,
		Confidence:   0.9,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestScheduler_DispatchesEligibleTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-1", "web_search")
	f.queuedMission(t, models.ModeMock, task)

	f.sched.Enqueue(task, models.PriorityNormal)
	f.sched.dispatchReady(ctx)
	f.runner.wait(t)

	require.Equal(t, []string{"task-1"}, f.runner.taskIDs())
	assert.Equal(t, models.LaneLocal, f.runner.lanes[0])
}

func TestScheduler_DependencyGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dep := pendingTask("task-dep", "web_search")
	child := pendingTask("task-child", "report_compose")
	child.DependsOn = []string{"task-dep"}
	missionID := f.queuedMission(t, models.ModeMock, dep, child)

	f.sched.Enqueue(child, models.PriorityNormal)
	f.sched.dispatchReady(ctx)
	assert.Empty(t, f.runner.taskIDs())

	_, err := f.store.AppendEvent(ctx, missionID, models.EventTaskCompleted, models.TaskCompletedPayload{
		TaskID: "task-dep", ResultHandle: "artifact-1",
	})
	require.NoError(t, err)

	f.sched.tryDispatch(ctx, Item{TaskID: "task-child", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	f.runner.wait(t)
	assert.Equal(t, []string{"task-child"}, f.runner.taskIDs())
}

func TestScheduler_FailedDependencyFailsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dep := pendingTask("task-dep", "web_search")
	child := pendingTask("task-child", "report_compose")
	child.DependsOn = []string{"task-dep"}
	missionID := f.queuedMission(t, models.ModeMock, dep, child)

	_, err := f.store.AppendEvent(ctx, missionID, models.EventTaskFailed, models.TaskFailedPayload{
		TaskID: "task-dep", Reason: "upstream unreachable", FailureKind: models.FailureNonRetryable, Attempt: 3,
	})
	require.NoError(t, err)

	f.sched.tryDispatch(ctx, Item{TaskID: "task-child", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})

	got, err := f.store.GetTask(ctx, "task-child")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "dependency_failed")
	assert.Empty(t, f.runner.taskIDs())
}

func TestScheduler_HighRiskDeferredOutsideLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-pub", "content_publish")
	task.RiskLevel = models.RiskHigh
	missionID := f.queuedMission(t, models.ModeMock, task)

	f.sched.tryDispatch(ctx, Item{TaskID: "task-pub", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})

	got, err := f.store.GetTask(ctx, "task-pub")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDeferred, got.Status)
	assert.Empty(t, f.runner.taskIDs())
}

func TestScheduler_HighRiskRunsWhenApprovedLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-pub", "content_publish")
	task.RiskLevel = models.RiskHigh
	task.Confidence = 0.9
	missionID := f.queuedMission(t, models.ModeLive, task)

	_, err := f.store.AppendEvent(ctx, missionID, models.EventControlApproved, models.ControlPayload{
		OperatorID: "op-1", ApproverID: "op-2", Scope: "control",
	})
	require.NoError(t, err)

	f.sched.tryDispatch(ctx, Item{TaskID: "task-pub", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	f.runner.wait(t)
	assert.Equal(t, []string{"task-pub"}, f.runner.taskIDs())
}

func TestScheduler_HighRiskIgnoresSingleOperatorApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-pub", "content_publish")
	task.RiskLevel = models.RiskHigh
	task.Confidence = 0.9
	missionID := f.queuedMission(t, models.ModeLive, task)
	it := Item{TaskID: "task-pub", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()}

	// An intake approval names only the operator and must not arm dispatch.
	_, err := f.store.AppendEvent(ctx, missionID, models.EventControlApproved, models.ControlPayload{
		TargetID: missionID, OperatorID: "op-1", Scope: "intake",
	})
	require.NoError(t, err)
	f.sched.tryDispatch(ctx, it)

	got, err := f.store.GetTask(ctx, "task-pub")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDeferred, got.Status)
	assert.Empty(t, f.runner.taskIDs())

	// Neither does an operator countersigning their own request.
	_, err = f.store.AppendEvent(ctx, missionID, models.EventControlApproved, models.ControlPayload{
		OperatorID: "op-1", ApproverID: "op-1", Scope: "control",
	})
	require.NoError(t, err)
	f.sched.tryDispatch(ctx, it)
	assert.Empty(t, f.runner.taskIDs())

	// A distinct approver finally arms the mission.
	_, err = f.store.AppendEvent(ctx, missionID, models.EventControlApproved, models.ControlPayload{
		OperatorID: "op-1", ApproverID: "op-2", Scope: "control",
	})
	require.NoError(t, err)
	f.sched.tryDispatch(ctx, it)
	f.runner.wait(t)
	assert.Equal(t, []string{"task-pub"}, f.runner.taskIDs())
}

func TestScheduler_DeferredHighRiskDispatchesOnceArmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-pub", "content_publish")
	task.RiskLevel = models.RiskHigh
	task.Confidence = 0.9
	missionID := f.queuedMission(t, models.ModeLive, task)

	f.sched.tryDispatch(ctx, Item{TaskID: "task-pub", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	got, err := f.store.GetTask(ctx, "task-pub")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusDeferred, got.Status)

	// The deferred task stays on the queue; once a second operator arms the
	// mission the next pass dispatches it without an explicit re-enqueue.
	_, err = f.store.AppendEvent(ctx, missionID, models.EventControlApproved, models.ControlPayload{
		OperatorID: "op-1", ApproverID: "op-2", Scope: "control",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f.sched.dispatchReady(ctx)
		return len(f.runner.taskIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_MissionDeadlineFailsStalledTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	evt, err := f.store.CreateMission(ctx, &models.Mission{
		ObjectiveText: "publish the launch announcement",
		OwnerID:       "owner-1",
		Domain:        models.DomainMarketing,
		Priority:      models.PriorityNormal,
		ExecutionMode: models.ModeMock,
		DeadlineAt:    &past,
	})
	require.NoError(t, err)
	missionID := evt.MissionID

	task := pendingTask("task-pub", "content_publish")
	task.RiskLevel = models.RiskHigh
	task.MissionID = missionID
	_, err = f.store.AppendEvent(ctx, missionID, models.EventTaskScheduled, models.TaskScheduledPayload{Task: task})
	require.NoError(t, err)
	_, err = f.store.AppendEvent(ctx, missionID, models.EventStatusChange, models.StatusChangePayload{
		From: models.MissionStatusProposed, To: models.MissionStatusQueued,
	})
	require.NoError(t, err)

	f.sched.tryDispatch(ctx, Item{TaskID: "task-pub", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})

	got, err := f.store.GetTask(ctx, "task-pub")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, "mission_deadline_exceeded", got.FailureReason)
	assert.Equal(t, []string{missionID}, f.runner.concludedIDs())
	assert.Empty(t, f.runner.taskIDs())
}

func TestScheduler_LockedDomainBlocksThenResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-1", "web_search")
	missionID := f.queuedMission(t, models.ModeMock, task)

	f.guard.locked[models.DomainResearch] = true
	f.sched.tryDispatch(ctx, Item{TaskID: "task-1", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	assert.Empty(t, f.runner.taskIDs())

	got, err := f.store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)

	f.guard.locked[models.DomainResearch] = false
	f.sched.tryDispatch(ctx, Item{TaskID: "task-1", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	f.runner.wait(t)
	assert.Equal(t, []string{"task-1"}, f.runner.taskIDs())
}

func TestScheduler_LockedHostParksTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-1", "web_extract")
	task.ActionParams = map[string]any{"url": "https://competitor-api.com/prices"}
	missionID := f.queuedMission(t, models.ModeMock, task)

	// The mission's classification domain is open; only the target host is
	// locked. Dispatch still parks the task.
	f.guard.hosts["competitor-api.com"] = true
	f.sched.tryDispatch(ctx, Item{TaskID: "task-1", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	assert.Empty(t, f.runner.taskIDs())

	got, err := f.store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)

	f.guard.hosts["competitor-api.com"] = false
	f.sched.tryDispatch(ctx, Item{TaskID: "task-1", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	f.runner.wait(t)
	assert.Equal(t, []string{"task-1"}, f.runner.taskIDs())
}

func TestScheduler_DowngradeConflictRunsDryRun(t *testing.T) {
	rules := []config.ConflictRule{
		{KindA: "content_publish", KindB: "content_publish", Class: config.ConflictDuplicateAction, Strategy: config.ResolveDowngrade},
	}
	f := newFixtureWithRules(t, rules)
	ctx := context.Background()
	executing := pendingTask("task-live", "content_publish")
	candidate := pendingTask("task-dup", "content_publish")
	missionID := f.queuedMission(t, models.ModeLive, executing, candidate)

	f.sched.mu.Lock()
	f.sched.executing["task-live"] = executing
	f.sched.mu.Unlock()

	f.sched.tryDispatch(ctx, Item{TaskID: "task-dup", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})
	f.runner.wait(t)

	// The conflicting task still runs this pass, capped to DRY_RUN.
	require.Equal(t, []string{"task-dup"}, f.runner.taskIDs())
	assert.Equal(t, models.ModeDryRun, f.runner.modeCaps()[0])
}

func TestScheduler_HaltIntakeStopsDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-1", "web_search")
	f.queuedMission(t, models.ModeMock, task)

	f.sched.Enqueue(task, models.PriorityNormal)
	f.sched.HaltIntake("invariant violated")
	f.sched.dispatchReady(ctx)
	assert.Empty(t, f.runner.taskIDs())

	halted, reason := f.sched.Halted()
	assert.True(t, halted)
	assert.Equal(t, "invariant violated", reason)

	f.sched.Acknowledge()
	f.sched.dispatchReady(ctx)
	f.runner.wait(t)
	assert.Equal(t, []string{"task-1"}, f.runner.taskIDs())
}

func TestScheduler_DuplicatePublishAborted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	executing := pendingTask("task-live", "content_publish")
	candidate := pendingTask("task-dup", "content_publish")
	missionID := f.queuedMission(t, models.ModeMock, executing, candidate)

	f.sched.mu.Lock()
	f.sched.executing["task-live"] = executing
	f.sched.mu.Unlock()

	f.sched.tryDispatch(ctx, Item{TaskID: "task-dup", MissionID: missionID, Priority: models.PriorityNormal, At: time.Now().UTC()})

	got, err := f.store.GetTask(ctx, "task-dup")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Empty(t, f.runner.taskIDs())
}

func TestScheduler_RunnerRequeueIsHonored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-1", "web_search")
	f.queuedMission(t, models.ModeMock, task)

	f.runner.result = RunResult{Requeue: true, Delay: time.Millisecond}
	f.sched.Enqueue(task, models.PriorityNormal)
	f.sched.dispatchReady(ctx)
	f.runner.wait(t)

	// The requeued item lands after its delay; dispatch it again.
	require.Eventually(t, func() bool {
		f.sched.dispatchReady(ctx)
		return len(f.runner.taskIDs()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_CriticalResultHaltsIntake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := pendingTask("task-1", "web_search")
	f.queuedMission(t, models.ModeMock, task)

	f.runner.result = RunResult{Critical: true}
	f.sched.Enqueue(task, models.PriorityNormal)
	f.sched.dispatchReady(ctx)
	f.runner.wait(t)

	require.Eventually(t, func() bool {
		halted, _ := f.sched.Halted()
		return halted
	}, time.Second, 5*time.Millisecond)
}
