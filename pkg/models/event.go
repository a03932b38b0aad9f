package models

import (
	"encoding/json"
	"time"
)

// EventKind is the closed set of record types appended to a mission's log.
type EventKind string

const (
	EventMissionStart     EventKind = "MISSION_START"
	EventStatusChange     EventKind = "STATUS_CHANGE"
	EventTaskScheduled    EventKind = "TASK_SCHEDULED"
	EventTaskStarted      EventKind = "TASK_STARTED"
	EventTaskAttempt      EventKind = "TASK_ATTEMPT"
	EventTaskCompleted    EventKind = "TASK_COMPLETED"
	EventTaskFailed       EventKind = "TASK_FAILED"
	EventProgress         EventKind = "PROGRESS"
	EventMissionStop      EventKind = "MISSION_STOP"
	EventControlSubmitted EventKind = "CONTROL_SUBMITTED"
	EventControlApproved  EventKind = "CONTROL_APPROVED"
	EventControlRejected  EventKind = "CONTROL_REJECTED"
	EventControlExecuted  EventKind = "CONTROL_EXECUTED"
	EventRollback         EventKind = "ROLLBACK"
	EventFeedback         EventKind = "FEEDBACK"
)

// IsValid checks if the kind is in the closed event set.
func (k EventKind) IsValid() bool {
	switch k {
	case EventMissionStart, EventStatusChange, EventTaskScheduled, EventTaskStarted,
		EventTaskAttempt, EventTaskCompleted, EventTaskFailed, EventProgress,
		EventMissionStop, EventControlSubmitted, EventControlApproved,
		EventControlRejected, EventControlExecuted, EventRollback, EventFeedback:
		return true
	default:
		return false
	}
}

// IsAudit reports whether the kind may still be appended to a terminal mission.
// Control decisions, feedback, and rollbacks document what already happened.
func (k EventKind) IsAudit() bool {
	switch k {
	case EventControlSubmitted, EventControlApproved, EventControlRejected,
		EventControlExecuted, EventRollback, EventFeedback:
		return true
	default:
		return false
	}
}

// Event is an immutable record in a mission's append-only log. Events are the
// sole source of truth for mission state; sequence numbers are per-mission,
// contiguous, and start at 1.
type Event struct {
	EventID        string          `json:"event_id"`
	MissionID      string          `json:"mission_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	EventKind      EventKind       `json:"event_kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}
