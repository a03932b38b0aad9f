package store

import (
	"encoding/json"
	"fmt"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// projection is the materialized state of one mission: the mission record
// plus its tasks, maintained by applying events in sequence order. Both
// engines share it; a single logical writer per mission keeps it consistent.
type projection struct {
	mission *models.Mission
	tasks   map[string]*models.Task
}

func newProjection(m *models.Mission) *projection {
	return &projection{
		mission: m,
		tasks:   make(map[string]*models.Task),
	}
}

// apply folds one event into the projection. Events with malformed payloads
// are rejected before they are written, so apply treats decode failures as
// corruption and reports them.
func (p *projection) apply(evt *models.Event) error {
	m := p.mission

	// KILLED is absorbing: after the kill event only audit bookkeeping may
	// touch the projection.
	if m.Status == models.MissionStatusKilled && !evt.EventKind.IsAudit() {
		m.LastSequence = evt.SequenceNumber
		return nil
	}

	switch evt.EventKind {
	case models.EventMissionStart:
		var pl models.MissionStartPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		m.ObjectiveText = pl.Objective
		m.OwnerID = pl.OwnerID
		m.Domain = pl.Domain
		m.Priority = pl.Priority
		m.ExecutionMode = pl.ExecutionMode
		m.Policy = pl.Policy
		m.TriggerTime = pl.TriggerTime
		m.Recurrence = pl.Recurrence
		m.DeadlineAt = pl.DeadlineAt
		if m.Status == "" {
			m.Status = models.MissionStatusProposed
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = evt.Timestamp
		}

	case models.EventStatusChange:
		var pl models.StatusChangePayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		m.Status = pl.To
		if pl.To == models.MissionStatusPaused {
			m.PausedFrom = pl.PausedFrom
		} else {
			m.PausedFrom = ""
		}
		if pl.To.IsTerminal() {
			t := evt.Timestamp
			m.FinishedAt = &t
		}

	case models.EventTaskScheduled:
		var pl models.TaskScheduledPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		if pl.Task == nil {
			return fmt.Errorf("TASK_SCHEDULED event %d has no task", evt.SequenceNumber)
		}
		t := pl.Task.Clone()
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		p.tasks[t.TaskID] = t
		m.TaskIDs = appendUnique(m.TaskIDs, t.TaskID)
		m.HighestRisk = models.MaxRisk(m.HighestRisk, t.RiskLevel)

	case models.EventTaskStarted:
		var pl models.TaskStartedPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		t, ok := p.tasks[pl.TaskID]
		if !ok {
			return fmt.Errorf("TASK_STARTED for unknown task %s", pl.TaskID)
		}
		t.Status = models.TaskStatusExecuting
		t.AssignedWorkerID = pl.WorkerID
		t.Lane = pl.Lane
		if pl.Attempt > t.AttemptCount {
			t.AttemptCount = pl.Attempt
		}
		ts := evt.Timestamp
		t.ObservedStart = &ts
		if m.Status == models.MissionStatusQueued || m.Status == models.MissionStatusApproved {
			m.Status = models.MissionStatusRunning
		}

	case models.EventTaskAttempt:
		var pl models.TaskAttemptPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		t, ok := p.tasks[pl.TaskID]
		if !ok {
			return fmt.Errorf("TASK_ATTEMPT for unknown task %s", pl.TaskID)
		}
		t.AttemptCount = pl.Attempt
		if pl.Status != "" {
			t.Status = pl.Status
		}
		t.FailureReason = pl.Reason
		t.NextAttemptAt = pl.NextAt
		t.AssignedWorkerID = ""

	case models.EventTaskCompleted:
		var pl models.TaskCompletedPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		t, ok := p.tasks[pl.TaskID]
		if !ok {
			return fmt.Errorf("TASK_COMPLETED for unknown task %s", pl.TaskID)
		}
		t.Status = models.TaskStatusCompleted
		t.ResultHandle = pl.ResultHandle
		t.AssignedWorkerID = ""
		ts := evt.Timestamp
		t.ObservedEnd = &ts
		m.ProgressPercent = p.progress()

	case models.EventTaskFailed:
		var pl models.TaskFailedPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		t, ok := p.tasks[pl.TaskID]
		if !ok {
			return fmt.Errorf("TASK_FAILED for unknown task %s", pl.TaskID)
		}
		t.Status = models.TaskStatusFailed
		t.FailureReason = pl.Reason
		if pl.Attempt > t.AttemptCount {
			t.AttemptCount = pl.Attempt
		}
		t.AssignedWorkerID = ""
		ts := evt.Timestamp
		t.ObservedEnd = &ts

	case models.EventProgress:
		var pl models.ProgressPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		if pl.Percent >= 0 && pl.Percent <= 100 {
			m.ProgressPercent = pl.Percent
		}

	case models.EventMissionStop:
		var pl models.MissionStopPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		m.Status = pl.Status
		t := evt.Timestamp
		m.FinishedAt = &t
		if pl.Status == models.MissionStatusCompleted {
			m.ProgressPercent = 100
		}

	case models.EventControlApproved:
		var pl models.ControlPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		// Only a two-person record arms the mission: the approver must be
		// named and must differ from the submitting operator. Single-operator
		// approvals (mission intake) stay audit bookkeeping.
		if pl.ApproverID != "" && pl.ApproverID != pl.OperatorID {
			m.ControlApproved = true
		}

	case models.EventRollback:
		var pl models.RollbackPayload
		if err := decode(evt, &pl); err != nil {
			return err
		}
		if t, ok := p.tasks[pl.TaskID]; ok && pl.Reversed {
			t.Status = models.TaskStatusRolledBack
		}

	case models.EventControlSubmitted, models.EventControlRejected,
		models.EventControlExecuted, models.EventFeedback:
		// Audit record only; no projection change.
	}

	m.LastSequence = evt.SequenceNumber
	m.UpdatedAt = evt.Timestamp
	return nil
}

// progress is the share of terminal-successful tasks, in percent.
func (p *projection) progress() int {
	if len(p.tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range p.tasks {
		if t.Status == models.TaskStatusCompleted || t.Status == models.TaskStatusRolledBack {
			done++
		}
	}
	return done * 100 / len(p.tasks)
}

// snapshot returns deep copies of the mission and its tasks in order.
func (p *projection) snapshot() (*models.Mission, []*models.Task) {
	m := p.mission.Clone()
	tasks := make([]*models.Task, 0, len(m.TaskIDs))
	for _, id := range m.TaskIDs {
		if t, ok := p.tasks[id]; ok {
			tasks = append(tasks, t.Clone())
		}
	}
	return m, tasks
}

// rebuild replays an event log into a fresh projection. Used on startup and
// by the round-trip tests: the result must equal the live projection.
func rebuild(missionID string, events []*models.Event) (*projection, error) {
	p := newProjection(&models.Mission{MissionID: missionID})
	for _, evt := range events {
		if err := p.apply(evt); err != nil {
			return nil, fmt.Errorf("replay of mission %s at sequence %d: %w", missionID, evt.SequenceNumber, err)
		}
	}
	return p, nil
}

func decode(evt *models.Event, target any) error {
	if len(evt.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(evt.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload at sequence %d: %w", evt.EventKind, evt.SequenceNumber, err)
	}
	return nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
