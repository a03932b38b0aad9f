package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/artifacts"
	"github.com/pathfind-io/pathfinder/pkg/cloud"
	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/sched"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/pkg/tools"
	"github.com/pathfind-io/pathfinder/pkg/worker"
)

// defaultKillGrace is how long a cancelled task may keep its worker before
// the session is forcibly recycled.
const defaultKillGrace = 5 * time.Second

// taskEntry tracks one executing task so a kill can cancel it and reclaim
// its worker.
type taskEntry struct {
	cancel   context.CancelFunc
	workerID string
	done     chan struct{}
}

// Executor runs dispatched tasks through the registered tools and writes
// every lifecycle event. It implements the scheduler's Runner.
type Executor struct {
	engine    config.EngineConfig
	store     store.Store
	appender  sched.Appender
	registry  *tools.Registry
	pool      *worker.Pool
	cloud     *cloud.Client
	scorer    *learning.Scorer
	locks     *Locks
	artifacts artifacts.Store
	backoff   *sched.Backoff
	logger    *slog.Logger
	killGrace time.Duration

	mu      sync.Mutex
	killed  map[string]string
	entries map[string]map[string]*taskEntry

	// onFinished fires after a mission reaches a terminal status. The
	// mission service hooks recurrence respawn here.
	onFinished func(missionID string, status models.MissionStatus)
}

// NewExecutor wires the execution controller. Cloud and scorer may be nil.
func NewExecutor(
	engine config.EngineConfig,
	st store.Store,
	appender sched.Appender,
	registry *tools.Registry,
	pool *worker.Pool,
	cloudClient *cloud.Client,
	scorer *learning.Scorer,
	locks *Locks,
	arts artifacts.Store,
	backoff *sched.Backoff,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:    engine,
		store:     st,
		appender:  appender,
		registry:  registry,
		pool:      pool,
		cloud:     cloudClient,
		scorer:    scorer,
		locks:     locks,
		artifacts: arts,
		backoff:   backoff,
		logger:    logger.With("component", "executor"),
		killGrace: defaultKillGrace,
		killed:    make(map[string]string),
		entries:   make(map[string]map[string]*taskEntry),
	}
}

// SetKillGrace shortens the kill grace period. Tests only.
func (e *Executor) SetKillGrace(d time.Duration) { e.killGrace = d }

// SetOnFinished registers the terminal-mission hook.
func (e *Executor) SetOnFinished(fn func(missionID string, status models.MissionStatus)) {
	e.onFinished = fn
}

// Run executes one task attempt end to end. A non-empty modeCap clamps the
// effective execution mode below the mission's own; conflict downgrades
// re-attempt through it.
func (e *Executor) Run(ctx context.Context, task *models.Task, lane models.Lane, modeCap models.ExecutionMode) sched.RunResult {
	mission, err := e.store.GetMission(ctx, task.MissionID)
	if err != nil {
		e.logger.Error("Failed to load mission for task", "task_id", task.TaskID, "error", err)
		return sched.RunResult{}
	}
	if mission.Status.IsTerminal() || e.missionKilled(mission.MissionID) {
		return sched.RunResult{}
	}

	if mission.DeadlineAt != nil && time.Now().UTC().After(*mission.DeadlineAt) {
		if mission.Policy.RetryOnTimeout == nil || !*mission.Policy.RetryOnTimeout {
			e.failTask(ctx, task, task.AttemptCount, "mission_deadline_exceeded", models.FailureNonRetryable)
			e.finishIfComplete(ctx, mission)
			return sched.RunResult{}
		}
	}

	if e.locks != nil {
		locked := e.locks.Locked(mission.Domain)
		if !locked {
			if host := task.TargetHost(); host != "" {
				locked = e.locks.LockedLabel(host)
			}
		}
		if locked {
			e.failTask(ctx, task, task.AttemptCount, "domain_locked", models.FailurePolicyViolation)
			e.finishIfComplete(ctx, mission)
			return sched.RunResult{}
		}
	}

	if e.scorer != nil && e.scorer.Constrained(task.ActionKind, string(mission.Domain)) {
		e.failTask(ctx, task, task.AttemptCount, "feedback_constraint", models.FailurePolicyViolation)
		e.finishIfComplete(ctx, mission)
		return sched.RunResult{}
	}

	mode := mission.ExecutionMode
	if modeCap != "" {
		mode = models.MinMode(mode, modeCap)
	}
	if task.RiskLevel == models.RiskHigh && mode == models.ModeMock {
		e.deferTask(ctx, task, "high risk action deferred in MOCK mode")
		return sched.RunResult{Requeue: true, Delay: e.backoff.Delay(1)}
	}

	attempt := task.AttemptCount + 1
	deadline := e.taskDeadline(mission)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	entry := e.track(mission.MissionID, task.TaskID, cancel)
	defer e.untrack(mission.MissionID, task.TaskID, entry)

	started := time.Now()
	params := e.invocationParams(ctx, task)
	var outcome *models.Outcome

	if lane == models.LaneCloud && e.cloud != nil && e.cloud.Available() {
		if !e.appendStarted(ctx, task, "", lane, attempt) {
			return sched.RunResult{}
		}
		cloudTask := task.Clone()
		cloudTask.ActionParams = params
		outcome = e.cloud.Execute(runCtx, cloudTask, mode, deadline)
	} else {
		lease, err := e.pool.Checkout(task.TaskID)
		if err != nil {
			if errors.Is(err, worker.ErrNoWorkersAvailable) {
				e.deferTask(ctx, task, "no workers available")
				return sched.RunResult{Requeue: true, Delay: e.backoff.Delay(1)}
			}
			e.logger.Error("Worker checkout failed", "task_id", task.TaskID, "error", err)
			return sched.RunResult{Requeue: true, Delay: e.backoff.Delay(1)}
		}
		e.mu.Lock()
		entry.workerID = lease.WorkerID
		e.mu.Unlock()

		if !e.appendStarted(ctx, task, lease.WorkerID, models.LaneLocal, attempt) {
			e.pool.Checkin(ctx, lease.WorkerID, false)
			return sched.RunResult{}
		}
		outcome = e.registry.InvokeWith(runCtx, task.ActionKind, params, mode, deadline, lease.Session)
		e.pool.Checkin(ctx, lease.WorkerID, outcome.Class.Succeeded())
	}

	metrics.TaskDuration.WithLabelValues(task.ActionKind, string(outcome.Class)).
		Observe(time.Since(started).Seconds())

	// A kill that landed mid-execution already wrote the terminal events.
	if e.missionKilled(mission.MissionID) {
		return sched.RunResult{}
	}

	return e.settle(ctx, mission, task, attempt, outcome)
}

// settle folds the normalized outcome into the mission log and decides the
// scheduler's follow-up.
func (e *Executor) settle(ctx context.Context, mission *models.Mission, task *models.Task, attempt int, outcome *models.Outcome) sched.RunResult {
	switch {
	case outcome.Class.Succeeded():
		handle := e.saveResult(ctx, outcome)
		evt, err := e.appender.Append(ctx, mission.MissionID, models.EventTaskCompleted, models.TaskCompletedPayload{
			TaskID:       task.TaskID,
			ResultHandle: handle,
			LatencyMS:    outcome.LatencyMS,
			Partial:      outcome.Class == models.OutcomePartialSuccess,
		})
		if err != nil {
			e.appendFailed(err, task.TaskID)
			return sched.RunResult{}
		}
		e.signalScorer(ctx, evt, mission, task, true, outcome, 1.0)
		e.finishIfComplete(ctx, mission)
		return sched.RunResult{}

	case outcome.FailureKind == models.FailureResourceExhaustion:
		e.deferTask(ctx, task, outcome.Reason)
		return sched.RunResult{Requeue: true, Delay: e.backoff.Delay(1)}

	case outcome.FailureKind == models.FailureCritical:
		e.failTask(ctx, task, attempt, outcome.Reason, models.FailureCritical)
		e.Rollback(ctx, mission.MissionID, task.TaskID, "critical failure in "+task.TaskID)
		e.stopMission(ctx, mission.MissionID, models.MissionStatusFailed, outcome.Reason)
		return sched.RunResult{Critical: true}

	case outcome.Class == models.OutcomeRetryableFailure:
		if attempt < e.maxAttempts(task, mission) {
			delay := e.backoff.Delay(attempt)
			nextAt := time.Now().UTC().Add(delay)
			evt, err := e.appender.Append(ctx, mission.MissionID, models.EventTaskAttempt, models.TaskAttemptPayload{
				TaskID:    task.TaskID,
				Attempt:   attempt,
				Status:    models.TaskStatusRetrying,
				Reason:    outcome.Reason,
				BackoffMS: delay.Milliseconds(),
				NextAt:    &nextAt,
			})
			if err != nil {
				e.appendFailed(err, task.TaskID)
				return sched.RunResult{}
			}
			metrics.TaskRetries.WithLabelValues(string(outcome.FailureKind)).Inc()
			e.signalScorer(ctx, evt, mission, task, false, outcome, 0.5)
			return sched.RunResult{Requeue: true, Delay: delay}
		}
		evt := e.failTask(ctx, task, attempt, "max_retries_exceeded: "+outcome.Reason, outcome.FailureKind)
		e.signalScorer(ctx, evt, mission, task, false, outcome, 1.0)
		e.finishIfComplete(ctx, mission)
		return sched.RunResult{}

	default:
		evt := e.failTask(ctx, task, attempt, outcome.Reason, outcome.FailureKind)
		e.signalScorer(ctx, evt, mission, task, false, outcome, 1.0)
		e.finishIfComplete(ctx, mission)
		return sched.RunResult{}
	}
}

// Kill marks the mission KILLED, cancels its executing tasks, and skips its
// pending ones. Workers still held after the grace period are recycled.
func (e *Executor) Kill(ctx context.Context, missionID, reason string) error {
	mission, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return err
	}
	if mission.Status.IsTerminal() {
		return store.ErrMissionTerminal
	}

	e.mu.Lock()
	e.killed[missionID] = reason
	running := make([]*taskEntry, 0, len(e.entries[missionID]))
	for _, en := range e.entries[missionID] {
		running = append(running, en)
	}
	e.mu.Unlock()

	for _, en := range running {
		en.cancel()
	}

	var cancelled []string
	tasks, err := e.store.ListTasks(ctx, missionID)
	if err == nil {
		for _, t := range tasks {
			switch t.Status {
			case models.TaskStatusPending, models.TaskStatusRetrying,
				models.TaskStatusDeferred, models.TaskStatusAssigned:
				cancelled = append(cancelled, t.TaskID)
			}
		}
	}

	if _, err := e.appender.Append(ctx, missionID, models.EventStatusChange, models.StatusChangePayload{
		From:             mission.Status,
		To:               models.MissionStatusKilled,
		Reason:           reason,
		CancelledTaskIDs: cancelled,
	}); err != nil {
		return err
	}
	if _, err := e.appender.Append(ctx, missionID, models.EventMissionStop, models.MissionStopPayload{
		Status: models.MissionStatusKilled,
		Reason: reason,
	}); err != nil && !errors.Is(err, store.ErrMissionTerminal) {
		e.logger.Error("Failed to close killed mission log", "mission_id", missionID, "error", err)
	}
	metrics.MissionsFinished.WithLabelValues(string(models.MissionStatusKilled)).Inc()
	e.logger.Info("Mission killed", "mission_id", missionID, "reason", reason, "cancelled_tasks", len(cancelled))

	go e.reapWorkers(missionID, running)
	if e.onFinished != nil {
		e.onFinished(missionID, models.MissionStatusKilled)
	}
	return nil
}

// Rollback reverses every reversible COMPLETED task of the mission except
// the excluded one, appending a ROLLBACK event per reversal.
func (e *Executor) Rollback(ctx context.Context, missionID, excludeTaskID, reason string) {
	mission, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		e.logger.Error("Rollback aborted", "mission_id", missionID, "error", err)
		return
	}
	tasks, err := e.store.ListTasks(ctx, missionID)
	if err != nil {
		e.logger.Error("Rollback aborted", "mission_id", missionID, "error", err)
		return
	}
	for _, t := range tasks {
		if t.TaskID == excludeTaskID || t.Status != models.TaskStatusCompleted {
			continue
		}
		def, ok := e.registry.Get(t.ActionKind)
		if !ok || !def.Reversible {
			continue
		}
		params := e.reversalParams(ctx, t)
		out := e.registry.Reverse(ctx, t.ActionKind, params, mission.ExecutionMode, e.taskDeadline(mission))
		if _, err := e.appender.Append(ctx, missionID, models.EventRollback, models.RollbackPayload{
			TaskID:     t.TaskID,
			ActionKind: t.ActionKind,
			Reason:     reason,
			Reversed:   out.Class.Succeeded(),
		}); err != nil {
			e.logger.Error("Failed to record rollback", "task_id", t.TaskID, "error", err)
		}
	}
}

// missionKilled reports whether a kill is in flight for the mission.
func (e *Executor) missionKilled(missionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.killed[missionID]
	return ok
}

func (e *Executor) reapWorkers(missionID string, running []*taskEntry) {
	timer := time.NewTimer(e.killGrace)
	defer timer.Stop()
	for _, en := range running {
		select {
		case <-en.done:
			continue
		case <-timer.C:
		}
		e.mu.Lock()
		workerID := en.workerID
		e.mu.Unlock()
		if workerID != "" {
			e.logger.Warn("Recycling worker held past kill grace",
				"mission_id", missionID, "worker_id", workerID)
			e.pool.Recycle(context.Background(), workerID)
		}
	}
	e.mu.Lock()
	delete(e.killed, missionID)
	e.mu.Unlock()
}

func (e *Executor) track(missionID, taskID string, cancel context.CancelFunc) *taskEntry {
	entry := &taskEntry{cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	if e.entries[missionID] == nil {
		e.entries[missionID] = make(map[string]*taskEntry)
	}
	e.entries[missionID][taskID] = entry
	e.mu.Unlock()
	return entry
}

func (e *Executor) untrack(missionID, taskID string, entry *taskEntry) {
	close(entry.done)
	e.mu.Lock()
	if m := e.entries[missionID]; m != nil {
		delete(m, taskID)
		if len(m) == 0 {
			delete(e.entries, missionID)
		}
	}
	e.mu.Unlock()
}

func (e *Executor) appendStarted(ctx context.Context, task *models.Task, workerID string, lane models.Lane, attempt int) bool {
	_, err := e.appender.Append(ctx, task.MissionID, models.EventTaskStarted, models.TaskStartedPayload{
		TaskID:   task.TaskID,
		WorkerID: workerID,
		Lane:     lane,
		Attempt:  attempt,
	})
	if err != nil {
		e.appendFailed(err, task.TaskID)
		return false
	}
	return true
}

func (e *Executor) failTask(ctx context.Context, task *models.Task, attempt int, reason string, kind models.FailureKind) *models.Event {
	evt, err := e.appender.Append(ctx, task.MissionID, models.EventTaskFailed, models.TaskFailedPayload{
		TaskID:      task.TaskID,
		Reason:      reason,
		FailureKind: kind,
		Attempt:     attempt,
	})
	if err != nil {
		e.appendFailed(err, task.TaskID)
		return nil
	}
	e.logger.Info("Task failed", "task_id", task.TaskID, "reason", reason, "failure_kind", string(kind))
	return evt
}

func (e *Executor) deferTask(ctx context.Context, task *models.Task, reason string) {
	_, err := e.appender.Append(ctx, task.MissionID, models.EventTaskAttempt, models.TaskAttemptPayload{
		TaskID:  task.TaskID,
		Attempt: task.AttemptCount,
		Status:  models.TaskStatusDeferred,
		Reason:  reason,
	})
	if err != nil {
		e.appendFailed(err, task.TaskID)
		return
	}
	e.logger.Info("Task deferred", "task_id", task.TaskID, "reason", reason)
}

// Conclude closes the mission log if every task is already terminal. The
// scheduler calls it after failing a task at dispatch, where no Run follows.
func (e *Executor) Conclude(ctx context.Context, missionID string) {
	mission, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		e.logger.Error("Failed to load mission for conclusion", "mission_id", missionID, "error", err)
		return
	}
	if mission.Status.IsTerminal() {
		return
	}
	e.finishIfComplete(ctx, mission)
}

// finishIfComplete closes the mission log once every task is terminal.
func (e *Executor) finishIfComplete(ctx context.Context, mission *models.Mission) {
	tasks, err := e.store.ListTasks(ctx, mission.MissionID)
	if err != nil || len(tasks) == 0 {
		return
	}
	anyFailed := false
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return
		}
		if t.Status == models.TaskStatusFailed {
			anyFailed = true
		}
	}
	status := models.MissionStatusCompleted
	reason := ""
	if anyFailed {
		status = models.MissionStatusFailed
		reason = "one or more tasks failed"
	}
	e.stopMission(ctx, mission.MissionID, status, reason)
}

func (e *Executor) stopMission(ctx context.Context, missionID string, status models.MissionStatus, reason string) {
	_, err := e.appender.Append(ctx, missionID, models.EventMissionStop, models.MissionStopPayload{
		Status: status,
		Reason: reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrMissionTerminal) {
			return
		}
		e.logger.Error("Failed to close mission log", "mission_id", missionID, "error", err)
		return
	}
	metrics.MissionsFinished.WithLabelValues(string(status)).Inc()
	e.logger.Info("Mission finished", "mission_id", missionID, "status", string(status))
	if e.onFinished != nil {
		e.onFinished(missionID, status)
	}
}

func (e *Executor) signalScorer(ctx context.Context, evt *models.Event, mission *models.Mission, task *models.Task, success bool, outcome *models.Outcome, weight float64) {
	if e.scorer == nil || evt == nil {
		return
	}
	e.scorer.RecordOutcome(ctx, learning.Signal{
		EventID:     evt.EventID,
		Tool:        task.ActionKind,
		Domain:      string(mission.Domain),
		Success:     success,
		LatencyMS:   float64(outcome.LatencyMS),
		FailureMode: outcome.Reason,
		Weight:      weight,
	})
}

func (e *Executor) saveResult(ctx context.Context, outcome *models.Outcome) string {
	if e.artifacts == nil || len(outcome.Result) == 0 {
		return ""
	}
	data, err := json.Marshal(outcome.Result)
	if err != nil {
		e.logger.Error("Failed to encode task result", "error", err)
		return ""
	}
	handle, err := e.artifacts.Put(ctx, "application/json", data)
	if err != nil {
		e.logger.Error("Failed to store task result", "error", err)
		return ""
	}
	return handle
}

// invocationParams returns the task's params with the results of completed
// dependencies merged under "upstream", so downstream tasks in a composite
// chain can consume what their predecessors produced.
func (e *Executor) invocationParams(ctx context.Context, task *models.Task) map[string]any {
	if len(task.DependsOn) == 0 || e.artifacts == nil {
		return task.ActionParams
	}
	params := make(map[string]any, len(task.ActionParams)+1)
	for k, v := range task.ActionParams {
		params[k] = v
	}
	upstream := make([]any, 0, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		dep, err := e.store.GetTask(ctx, depID)
		if err != nil || dep.ResultHandle == "" {
			continue
		}
		art, err := e.artifacts.Get(ctx, dep.ResultHandle)
		if err != nil {
			continue
		}
		var result map[string]any
		if err := json.Unmarshal(art.Data, &result); err != nil {
			continue
		}
		upstream = append(upstream, result)
	}
	if len(upstream) > 0 {
		params["upstream"] = upstream
	}
	return params
}

// reversalParams merges the stored result into the action params so reversal
// handlers see what the forward invocation produced.
func (e *Executor) reversalParams(ctx context.Context, task *models.Task) map[string]any {
	params := make(map[string]any, len(task.ActionParams))
	for k, v := range task.ActionParams {
		params[k] = v
	}
	if e.artifacts == nil || task.ResultHandle == "" {
		return params
	}
	art, err := e.artifacts.Get(ctx, task.ResultHandle)
	if err != nil {
		return params
	}
	var result map[string]any
	if err := json.Unmarshal(art.Data, &result); err != nil {
		return params
	}
	for k, v := range result {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}
	return params
}

func (e *Executor) taskDeadline(mission *models.Mission) time.Duration {
	if mission.Policy.PerTaskTimeoutS != nil && *mission.Policy.PerTaskTimeoutS > 0 {
		return time.Duration(*mission.Policy.PerTaskTimeoutS) * time.Second
	}
	return e.engine.PerTaskTimeout()
}

func (e *Executor) maxAttempts(task *models.Task, mission *models.Mission) int {
	if task.MaxAttempts > 0 {
		return task.MaxAttempts
	}
	if mission.Policy.MaxRetriesPerTask != nil && *mission.Policy.MaxRetriesPerTask > 0 {
		return *mission.Policy.MaxRetriesPerTask
	}
	return e.engine.MaxRetriesPerTask
}

func (e *Executor) appendFailed(err error, taskID string) {
	if errors.Is(err, store.ErrMissionTerminal) {
		return
	}
	e.logger.Error("Failed to append task event", "task_id", taskID, "error", err)
}
