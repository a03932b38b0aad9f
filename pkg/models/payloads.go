package models

import "time"

// Typed event payloads. Every event kind has exactly one payload shape; the
// projection decodes by kind. Payloads carry ids and scalar facts only;
// result blobs live in the artifact store behind a handle.

// MissionStartPayload opens a mission log. It carries everything the
// projection needs to rebuild the mission record without a snapshot.
type MissionStartPayload struct {
	Objective     string          `json:"objective"`
	OwnerID       string          `json:"owner_id"`
	Domain        Domain          `json:"domain"`
	Priority      Priority        `json:"priority"`
	ExecutionMode ExecutionMode   `json:"execution_mode"`
	Policy        PolicyOverrides `json:"policy_overrides,omitempty"`
	IsComposite   bool            `json:"is_composite"`
	TriggerTime   *time.Time      `json:"trigger_time,omitempty"`
	Recurrence    Recurrence      `json:"recurrence,omitempty"`
	DeadlineAt    *time.Time      `json:"deadline_at,omitempty"`
}

// StatusChangePayload records a mission lifecycle transition.
type StatusChangePayload struct {
	From   MissionStatus `json:"from"`
	To     MissionStatus `json:"to"`
	Reason string        `json:"reason,omitempty"`

	// PausedFrom is set on transitions into PAUSED so RESUME can restore it.
	PausedFrom MissionStatus `json:"paused_from,omitempty"`

	// CancelledTaskIDs lists PENDING tasks skipped by a kill. The task
	// status enum is closed; the mission's KILLED status is authoritative.
	CancelledTaskIDs []string `json:"cancelled_task_ids,omitempty"`
}

// TaskScheduledPayload adds a task to the mission. The full task record is
// embedded so the projection can rebuild tasks purely from the log.
type TaskScheduledPayload struct {
	Task *Task `json:"task"`
}

// TaskStartedPayload marks a task EXECUTING on a worker.
type TaskStartedPayload struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id,omitempty"`
	Lane     Lane   `json:"lane"`
	Attempt  int    `json:"attempt"`
}

// TaskAttemptPayload records a retry or deferral decision.
type TaskAttemptPayload struct {
	TaskID  string     `json:"task_id"`
	Attempt int        `json:"attempt"`
	Status  TaskStatus `json:"status"`
	Reason  string     `json:"reason,omitempty"`

	// BackoffMS is the delay before the next attempt becomes eligible.
	BackoffMS int64      `json:"backoff_ms,omitempty"`
	NextAt    *time.Time `json:"next_at,omitempty"`
}

// TaskCompletedPayload closes a task successfully.
type TaskCompletedPayload struct {
	TaskID       string `json:"task_id"`
	ResultHandle string `json:"result_handle,omitempty"`
	LatencyMS    int64  `json:"latency_ms"`
	Partial      bool   `json:"partial,omitempty"`
}

// TaskFailedPayload closes a task unsuccessfully.
type TaskFailedPayload struct {
	TaskID      string      `json:"task_id"`
	Reason      string      `json:"reason"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Attempt     int         `json:"attempt"`
}

// ProgressPayload reports mission progress at well-defined points.
type ProgressPayload struct {
	Percent int    `json:"percent"`
	Note    string `json:"note,omitempty"`
}

// MissionStopPayload closes a mission log with its terminal status.
type MissionStopPayload struct {
	Status MissionStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// ControlPayload documents a control request decision in the mission log.
// Used by all four CONTROL_* event kinds.
type ControlPayload struct {
	RequestID  string        `json:"request_id,omitempty"`
	Action     ControlAction `json:"action,omitempty"`
	TargetID   string        `json:"target_id,omitempty"`
	OperatorID string        `json:"operator_id,omitempty"`
	ApproverID string        `json:"approver_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`

	// Scope distinguishes mission intake approvals (scope "intake") from
	// operator control-request decisions (scope "control").
	Scope string `json:"scope,omitempty"`
}

// RollbackPayload records the reversal of a completed task.
type RollbackPayload struct {
	TaskID     string `json:"task_id"`
	ActionKind string `json:"action_kind"`
	Reason     string `json:"reason,omitempty"`
	Reversed   bool   `json:"reversed"`
}

// FeedbackPayload records a scorer adjustment in the mission log.
type FeedbackPayload struct {
	FeedbackID string  `json:"feedback_id,omitempty"`
	Tool       string  `json:"tool,omitempty"`
	Domain     string  `json:"domain,omitempty"`
	Rating     int     `json:"rating,omitempty"`
	Nudge      float64 `json:"nudge,omitempty"`
	Source     string  `json:"source,omitempty"`
}
