package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/sched"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// defaultLockTTL applies to LOCK_DOMAIN requests without an explicit duration.
const defaultLockTTL = 10 * time.Minute

// Sentinel errors of the control gate.
var (
	// ErrSelfApproval rejects an approver matching the submitting operator.
	ErrSelfApproval = errors.New("approver must differ from the submitting operator")

	// ErrAlreadyDecided rejects a second decision on the same request.
	ErrAlreadyDecided = errors.New("control request already decided")

	// ErrNotPausable rejects pause or resume against a mission in the wrong state.
	ErrNotPausable = errors.New("mission cannot be paused or resumed in its current state")

	// ErrNotApproved rejects execution of an undecided gated request.
	ErrNotApproved = errors.New("control request is not approved")
)

// MissionQueue is the scheduler surface the control gate needs.
type MissionQueue interface {
	EnqueueMission(ctx context.Context, missionID string) error
	Remove(taskID string)
}

// Manager runs the operator control gate: submission, the two-person
// approval rule, and execution of approved actions.
type Manager struct {
	engine config.EngineConfig
	store  store.Store
	app    sched.Appender
	locks  *Locks
	exec   *Executor
	queue  MissionQueue
	logger *slog.Logger
}

// NewManager wires the control gate. Queue may be nil in tests.
func NewManager(engine config.EngineConfig, st store.Store, appender sched.Appender, locks *Locks, exec *Executor, queue MissionQueue, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine: engine,
		store:  st,
		app:    appender,
		locks:  locks,
		exec:   exec,
		queue:  queue,
		logger: logger.With("component", "control"),
	}
}

// Submit registers a control request. Actions outside the approval-gated set
// execute immediately; the rest wait for a second operator.
func (m *Manager) Submit(ctx context.Context, req *models.ControlRequest) (*models.ControlRequest, error) {
	if !req.Action.IsValid() {
		return nil, fmt.Errorf("unknown control action %q", req.Action)
	}
	if req.OperatorID == "" {
		return nil, errors.New("operator_id is required")
	}
	if req.TargetID == "" {
		return nil, errors.New("target_id is required")
	}
	if req.Action.TargetsMission() {
		if _, err := m.store.GetMission(ctx, req.TargetID); err != nil {
			return nil, err
		}
	}

	req.RequestID = uuid.New().String()
	req.Status = models.ControlStatusPending
	req.RequiresApproval = m.engine.RequiresApproval(req.Action)
	req.SubmittedAt = time.Now().UTC()
	if err := m.store.SaveControl(ctx, req); err != nil {
		return nil, err
	}
	m.audit(ctx, req, models.EventControlSubmitted, "")
	m.logger.Info("Control request submitted",
		"request_id", req.RequestID, "action", string(req.Action),
		"target_id", req.TargetID, "requires_approval", req.RequiresApproval)

	if !req.RequiresApproval {
		if err := m.execute(ctx, req); err != nil {
			return req, err
		}
	}
	return req, nil
}

// Approve records a second operator's approval and executes the action. The
// approver must differ from the submitting operator.
func (m *Manager) Approve(ctx context.Context, requestID, approverID, reason string) (*models.ControlRequest, error) {
	req, err := m.store.GetControl(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsDecided() {
		return nil, ErrAlreadyDecided
	}
	if approverID == "" || approverID == req.OperatorID {
		return nil, ErrSelfApproval
	}

	now := time.Now().UTC()
	req.Status = models.ControlStatusApproved
	req.ApproverID = approverID
	req.ApprovalReason = reason
	req.DecidedAt = &now
	if err := m.store.SaveControl(ctx, req); err != nil {
		return nil, err
	}
	m.audit(ctx, req, models.EventControlApproved, reason)

	if err := m.execute(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// Reject closes a pending request without executing it.
func (m *Manager) Reject(ctx context.Context, requestID, approverID, reason string) (*models.ControlRequest, error) {
	req, err := m.store.GetControl(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsDecided() {
		return nil, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	req.Status = models.ControlStatusRejected
	req.ApproverID = approverID
	req.ApprovalReason = reason
	req.DecidedAt = &now
	if err := m.store.SaveControl(ctx, req); err != nil {
		return nil, err
	}
	m.audit(ctx, req, models.EventControlRejected, reason)
	metrics.ControlRequests.WithLabelValues(string(req.Action), string(req.Status)).Inc()
	return req, nil
}

// Get returns one control request.
func (m *Manager) Get(ctx context.Context, requestID string) (*models.ControlRequest, error) {
	return m.store.GetControl(ctx, requestID)
}

// List returns control requests, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status models.ControlStatus) ([]*models.ControlRequest, error) {
	return m.store.ListControls(ctx, status)
}

// execute performs an approved (or ungated) action. The two-person rule is
// re-verified here, at execution time, not only at approval.
func (m *Manager) execute(ctx context.Context, req *models.ControlRequest) error {
	if req.RequiresApproval {
		if req.Status != models.ControlStatusApproved {
			return ErrNotApproved
		}
		if req.ApproverID == "" || req.ApproverID == req.OperatorID {
			return ErrSelfApproval
		}
	}

	err := m.perform(ctx, req)
	now := time.Now().UTC()
	if err != nil {
		req.Status = models.ControlStatusFailed
	} else {
		req.Status = models.ControlStatusExecuted
		req.ExecutedAt = &now
	}
	if saveErr := m.store.SaveControl(ctx, req); saveErr != nil {
		m.logger.Error("Failed to persist control outcome", "request_id", req.RequestID, "error", saveErr)
	}
	metrics.ControlRequests.WithLabelValues(string(req.Action), string(req.Status)).Inc()
	if err != nil {
		return err
	}
	m.audit(ctx, req, models.EventControlExecuted, "")
	m.logger.Info("Control request executed", "request_id", req.RequestID, "action", string(req.Action))
	return nil
}

func (m *Manager) perform(ctx context.Context, req *models.ControlRequest) error {
	switch req.Action {
	case models.ControlPauseMission:
		return m.pause(ctx, req)
	case models.ControlResumeMission:
		return m.resume(ctx, req)
	case models.ControlKillMission:
		return m.kill(ctx, req)
	case models.ControlLockDomain:
		ttl := req.LockDuration
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		m.locks.Lock(req.TargetID, req.OperatorID, ttl, req.Reason)
		return nil
	case models.ControlUnlockDomain:
		m.locks.Unlock(req.TargetID)
		return nil
	case models.ControlPromoteForecast:
		return m.promote(ctx, req)
	default:
		return fmt.Errorf("unknown control action %q", req.Action)
	}
}

func (m *Manager) pause(ctx context.Context, req *models.ControlRequest) error {
	mission, err := m.store.GetMission(ctx, req.TargetID)
	if err != nil {
		return err
	}
	switch mission.Status {
	case models.MissionStatusQueued, models.MissionStatusRunning:
	default:
		return ErrNotPausable
	}
	_, err = m.app.Append(ctx, mission.MissionID, models.EventStatusChange, models.StatusChangePayload{
		From:       mission.Status,
		To:         models.MissionStatusPaused,
		Reason:     req.Reason,
		PausedFrom: mission.Status,
	})
	return err
}

func (m *Manager) resume(ctx context.Context, req *models.ControlRequest) error {
	mission, err := m.store.GetMission(ctx, req.TargetID)
	if err != nil {
		return err
	}
	if mission.Status != models.MissionStatusPaused {
		return ErrNotPausable
	}
	to := mission.PausedFrom
	if to == "" {
		to = models.MissionStatusQueued
	}
	if _, err := m.app.Append(ctx, mission.MissionID, models.EventStatusChange, models.StatusChangePayload{
		From:   models.MissionStatusPaused,
		To:     to,
		Reason: req.Reason,
	}); err != nil {
		return err
	}
	if m.queue != nil {
		return m.queue.EnqueueMission(ctx, mission.MissionID)
	}
	return nil
}

func (m *Manager) kill(ctx context.Context, req *models.ControlRequest) error {
	if m.queue != nil {
		if tasks, err := m.store.ListTasks(ctx, req.TargetID); err == nil {
			for _, t := range tasks {
				if !t.Status.IsTerminal() {
					m.queue.Remove(t.TaskID)
				}
			}
		}
	}
	return m.exec.Kill(ctx, req.TargetID, req.Reason)
}

// promote pulls a scheduled (forecast) mission forward: its trigger is
// dropped and it queues immediately.
func (m *Manager) promote(ctx context.Context, req *models.ControlRequest) error {
	mission, err := m.store.GetMission(ctx, req.TargetID)
	if err != nil {
		return err
	}
	if mission.Status.IsTerminal() {
		return store.ErrMissionTerminal
	}
	if _, err := m.app.Append(ctx, mission.MissionID, models.EventStatusChange, models.StatusChangePayload{
		From:   mission.Status,
		To:     models.MissionStatusQueued,
		Reason: "forecast promoted",
	}); err != nil {
		return err
	}
	if m.queue != nil {
		return m.queue.EnqueueMission(ctx, mission.MissionID)
	}
	return nil
}

// audit writes the control decision into the target mission's log. Non-mission
// targets have no log; storage refusals on terminal missions cannot happen
// because control events are audit kinds.
func (m *Manager) audit(ctx context.Context, req *models.ControlRequest, kind models.EventKind, reason string) {
	if !req.Action.TargetsMission() {
		return
	}
	if reason == "" {
		reason = req.Reason
	}
	if _, err := m.app.Append(ctx, req.TargetID, kind, models.ControlPayload{
		RequestID:  req.RequestID,
		Action:     req.Action,
		TargetID:   req.TargetID,
		OperatorID: req.OperatorID,
		ApproverID: req.ApproverID,
		Reason:     reason,
		Scope:      "control",
	}); err != nil {
		m.logger.Error("Failed to audit control event",
			"request_id", req.RequestID, "kind", string(kind), "error", err)
	}
}
