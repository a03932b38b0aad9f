package sched

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/plan"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// RunResult is the runner's verdict on one dispatched attempt. Requeue asks
// the scheduler to put the task back after Delay; Critical halts intake until
// an operator acknowledges.
type RunResult struct {
	Requeue  bool
	Delay    time.Duration
	Critical bool
}

// Runner executes one assigned task attempt end to end, including all event
// appends. ModeCap, when non-empty, clamps the effective execution mode below
// the mission's own; conflict downgrades re-attempt through it. Conclude
// closes the mission log once every task is terminal, so tasks failed at
// dispatch still finish their mission. The execution controller implements
// both.
type Runner interface {
	Run(ctx context.Context, task *models.Task, lane models.Lane, modeCap models.ExecutionMode) RunResult
	Conclude(ctx context.Context, missionID string)
}

// DomainGuard answers whether a classification domain or a target host label
// is currently locked.
type DomainGuard interface {
	Locked(domain models.Domain) bool
	LockedLabel(label string) bool
}

// Gate is the resource monitor's dispatch permission.
type Gate interface {
	AllowNewTasks() bool
}

// Appender appends events to a mission log.
type Appender interface {
	Append(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error)
}

// Scheduler is the single dispatch coordinator. It pops eligible tasks off
// the ready queue, resolves conflicts, routes each task to a lane, and hands
// it to the runner on its own goroutine.
type Scheduler struct {
	cfg      config.SchedulerConfig
	engine   config.EngineConfig
	store    store.Store
	appender Appender
	queue    *Queue
	detector *Detector
	backoff  *Backoff
	router   *plan.Router
	pool     plan.PoolView
	runner   Runner
	guard    DomainGuard
	gate     Gate
	logger   *slog.Logger

	halted     atomic.Bool
	haltReason atomic.Value

	mu          sync.Mutex
	lastMission string
	executing   map[string]*models.Task

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

// NewScheduler wires the dispatch coordinator. Guard and gate may be nil
// (no locks, no pressure throttling).
func NewScheduler(
	cfg config.SchedulerConfig,
	engine config.EngineConfig,
	st store.Store,
	appender Appender,
	router *plan.Router,
	pool plan.PoolView,
	runner Runner,
	guard DomainGuard,
	gate Gate,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		engine:    engine,
		store:     st,
		appender:  appender,
		queue:     NewQueue(),
		detector:  NewDetector(cfg),
		backoff:   NewBackoff(engine),
		router:    router,
		pool:      pool,
		runner:    runner,
		guard:     guard,
		gate:      gate,
		logger:    logger.With("component", "scheduler"),
		executing: make(map[string]*models.Task),
		stopCh:    make(chan struct{}),
	}
}

// Backoff exposes the retry delay source so tests can shrink the unit.
func (s *Scheduler) Backoff() *Backoff { return s.backoff }

// Start launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for in-flight dispatches to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.inflight.Wait()
	s.queue.Close()
}

// Enqueue adds one task to the ready queue, honoring its scheduled start.
func (s *Scheduler) Enqueue(task *models.Task, priority models.Priority) {
	it := Item{
		TaskID:    task.TaskID,
		MissionID: task.MissionID,
		Priority:  priority,
		At:        task.CreatedAt,
	}
	if task.ScheduledStart != nil {
		it.At = *task.ScheduledStart
	}
	now := time.Now().UTC()
	if wait := it.At.Sub(now) - s.cfg.Lookahead; wait > 0 {
		s.queue.PushAfter(it, wait)
		return
	}
	if task.NextAttemptAt != nil {
		if wait := task.NextAttemptAt.Sub(now); wait > 0 {
			s.queue.PushAfter(it, wait)
			return
		}
	}
	s.queue.Push(it)
}

// EnqueueMission loads a mission's non-terminal tasks and enqueues them.
// Called when a mission is approved into QUEUED and on RESUME.
func (s *Scheduler) EnqueueMission(ctx context.Context, missionID string) error {
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, missionID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending, models.TaskStatusRetrying, models.TaskStatusDeferred:
			s.Enqueue(t, mission.Priority)
		}
	}
	return nil
}

// Remove drops a pending task from the queue. Used when a kill skips
// PENDING tasks.
func (s *Scheduler) Remove(taskID string) { s.queue.Remove(taskID) }

// HaltIntake stops all dispatch until Acknowledge. Raised on CRITICAL
// failures.
func (s *Scheduler) HaltIntake(reason string) {
	s.haltReason.Store(reason)
	if s.halted.CompareAndSwap(false, true) {
		s.logger.Error("Dispatch halted", "reason", reason)
	}
}

// Acknowledge lifts an intake halt.
func (s *Scheduler) Acknowledge() {
	if s.halted.CompareAndSwap(true, false) {
		s.logger.Info("Dispatch halt acknowledged, resuming")
	}
}

// Halted reports whether dispatch is stopped pending operator action.
func (s *Scheduler) Halted() (bool, string) {
	reason, _ := s.haltReason.Load().(string)
	return s.halted.Load(), reason
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.queue.Wake():
		}
		s.dispatchReady(ctx)
	}
}

// dispatchReady drains the queue until it is empty or dispatch is blocked.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if s.halted.Load() {
			return
		}
		if s.gate != nil && !s.gate.AllowNewTasks() {
			return
		}
		s.mu.Lock()
		last := s.lastMission
		s.mu.Unlock()
		it, ok := s.queue.PopPreferring(last)
		if !ok {
			return
		}
		s.tryDispatch(ctx, it)
	}
}

// tryDispatch re-reads the task, checks eligibility and conflicts, and hands
// it to the runner. Ineligible-for-now tasks go back on the queue delayed.
func (s *Scheduler) tryDispatch(ctx context.Context, it Item) {
	task, err := s.store.GetTask(ctx, it.TaskID)
	if err != nil {
		s.logger.Warn("Dropping queued task", "task_id", it.TaskID, "error", err)
		return
	}
	mission, err := s.store.GetMission(ctx, it.MissionID)
	if err != nil {
		s.logger.Warn("Dropping queued task", "task_id", it.TaskID, "error", err)
		return
	}

	switch task.Status {
	case models.TaskStatusPending, models.TaskStatusRetrying, models.TaskStatusDeferred:
	default:
		return
	}

	switch mission.Status {
	case models.MissionStatusQueued, models.MissionStatusRunning:
	case models.MissionStatusPaused, models.MissionStatusApproved,
		models.MissionStatusProposed, models.MissionStatusClarificationNeeded:
		s.requeue(it, s.cfg.TickInterval)
		return
	default:
		return
	}

	now := time.Now().UTC()
	if mission.DeadlineAt != nil && now.After(*mission.DeadlineAt) &&
		(mission.Policy.RetryOnTimeout == nil || !*mission.Policy.RetryOnTimeout) {
		s.failTask(ctx, task, "mission_deadline_exceeded", models.FailureNonRetryable)
		s.runner.Conclude(ctx, task.MissionID)
		return
	}

	if task.NextAttemptAt != nil {
		if wait := task.NextAttemptAt.Sub(now); wait > 0 {
			s.requeue(it, wait)
			return
		}
	}
	if task.ScheduledStart != nil {
		if wait := task.ScheduledStart.Sub(now) - s.cfg.Lookahead; wait > 0 {
			s.requeue(it, wait)
			return
		}
	}

	ready, failed := s.depsState(ctx, task)
	if failed != "" {
		s.failTask(ctx, task, "dependency_failed: "+failed, models.FailureNonRetryable)
		s.runner.Conclude(ctx, task.MissionID)
		return
	}
	if !ready {
		s.requeue(it, s.cfg.TickInterval)
		return
	}

	if s.guard != nil {
		if s.guard.Locked(mission.Domain) {
			s.requeue(it, s.cfg.TickInterval)
			return
		}
		if host := task.TargetHost(); host != "" && s.guard.LockedLabel(host) {
			s.requeue(it, s.cfg.TickInterval)
			return
		}
	}

	if task.AttemptCount >= s.maxAttempts(task, mission) {
		return
	}

	if task.RiskLevel == models.RiskHigh {
		if reason := s.highRiskBlock(task, mission); reason != "" {
			// Record the deferral once, then keep the task cycling so it
			// dispatches when the block lifts or fails at the mission
			// deadline.
			if task.Status != models.TaskStatusDeferred {
				s.deferTask(ctx, task, reason)
			}
			s.requeue(it, s.cfg.TickInterval)
			return
		}
	}

	lane := s.router.Route(task, mission.Priority, s.pool)
	var modeCap models.ExecutionMode

	if conflict := s.detector.Check(task, s.executingSnapshot()); conflict != nil {
		switch conflict.Strategy {
		case config.ResolveDelay:
			s.logger.Info("Conflict delays task",
				"task_id", task.TaskID, "class", string(conflict.Class), "with", conflict.WithTask)
			s.requeue(it, s.cfg.TickInterval)
			return
		case config.ResolveReassign:
			if lane == models.LaneLocal {
				lane = models.LaneCloud
			} else {
				lane = models.LaneLocal
			}
		case config.ResolveDowngrade:
			s.logger.Info("Conflict downgrades task to DRY_RUN",
				"task_id", task.TaskID, "class", string(conflict.Class), "with", conflict.WithTask)
			modeCap = models.ModeDryRun
		case config.ResolveAbort:
			s.failTask(ctx, task, conflict.Reason, models.FailurePolicyViolation)
			s.runner.Conclude(ctx, task.MissionID)
			return
		}
	}

	s.dispatch(ctx, task, lane, modeCap)
}

func (s *Scheduler) dispatch(ctx context.Context, task *models.Task, lane models.Lane, modeCap models.ExecutionMode) {
	s.mu.Lock()
	s.lastMission = task.MissionID
	s.executing[task.TaskID] = task
	s.mu.Unlock()

	metrics.TasksDispatched.WithLabelValues(string(lane), task.ActionKind).Inc()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		res := s.runner.Run(ctx, task, lane, modeCap)

		s.mu.Lock()
		delete(s.executing, task.TaskID)
		s.mu.Unlock()

		if res.Critical {
			s.HaltIntake("critical failure in task " + task.TaskID)
		}
		if res.Requeue {
			s.requeue(Item{
				TaskID:    task.TaskID,
				MissionID: task.MissionID,
				Priority:  s.priorityOf(ctx, task.MissionID),
				At:        time.Now().UTC(),
			}, res.Delay)
		}
	}()
}

// depsState reports whether all dependencies completed, or names the first
// terminally failed one.
func (s *Scheduler) depsState(ctx context.Context, task *models.Task) (ready bool, failed string) {
	for _, depID := range task.DependsOn {
		dep, err := s.store.GetTask(ctx, depID)
		if err != nil {
			return false, depID
		}
		switch dep.Status {
		case models.TaskStatusCompleted:
		case models.TaskStatusFailed, models.TaskStatusRolledBack:
			return false, depID
		default:
			return false, ""
		}
	}
	return true, ""
}

// highRiskBlock names why a HIGH risk task cannot run now, or returns empty.
func (s *Scheduler) highRiskBlock(task *models.Task, mission *models.Mission) string {
	if mission.ExecutionMode != models.ModeLive {
		return "high risk action requires LIVE mode"
	}
	if !mission.ControlApproved {
		return "high risk action awaits control approval"
	}
	if task.Confidence < s.engine.HighRiskConfidenceThreshold {
		return "confidence below high risk threshold"
	}
	return ""
}

func (s *Scheduler) maxAttempts(task *models.Task, mission *models.Mission) int {
	if task.MaxAttempts > 0 {
		return task.MaxAttempts
	}
	if mission.Policy.MaxRetriesPerTask != nil && *mission.Policy.MaxRetriesPerTask > 0 {
		return *mission.Policy.MaxRetriesPerTask
	}
	return s.engine.MaxRetriesPerTask
}

func (s *Scheduler) requeue(it Item, delay time.Duration) {
	s.queue.PushAfter(it, delay)
}

func (s *Scheduler) deferTask(ctx context.Context, task *models.Task, reason string) {
	_, err := s.appender.Append(ctx, task.MissionID, models.EventTaskAttempt, models.TaskAttemptPayload{
		TaskID:  task.TaskID,
		Attempt: task.AttemptCount,
		Status:  models.TaskStatusDeferred,
		Reason:  reason,
	})
	if err != nil {
		s.logger.Error("Failed to defer task", "task_id", task.TaskID, "error", err)
		return
	}
	s.logger.Info("Task deferred", "task_id", task.TaskID, "reason", reason)
}

func (s *Scheduler) failTask(ctx context.Context, task *models.Task, reason string, kind models.FailureKind) {
	_, err := s.appender.Append(ctx, task.MissionID, models.EventTaskFailed, models.TaskFailedPayload{
		TaskID:      task.TaskID,
		Reason:      reason,
		FailureKind: kind,
		Attempt:     task.AttemptCount,
	})
	if err != nil {
		s.logger.Error("Failed to fail task", "task_id", task.TaskID, "error", err)
		return
	}
	s.logger.Info("Task failed at dispatch", "task_id", task.TaskID, "reason", reason)
}

func (s *Scheduler) executingSnapshot() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(s.executing))
	for _, t := range s.executing {
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) priorityOf(ctx context.Context, missionID string) models.Priority {
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return models.PriorityNormal
	}
	return mission.Priority
}
