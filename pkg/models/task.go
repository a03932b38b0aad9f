package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusAssigned   TaskStatus = "ASSIGNED"
	TaskStatusExecuting  TaskStatus = "EXECUTING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusRetrying   TaskStatus = "RETRYING"
	TaskStatusDeferred   TaskStatus = "DEFERRED"
	TaskStatusRolledBack TaskStatus = "ROLLED_BACK"
)

// IsValid checks if the status is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusExecuting, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusRetrying, TaskStatusDeferred, TaskStatusRolledBack:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the task has finished for good.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusRolledBack
}

// RiskLevel grades the blast radius of an action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// IsValid checks if the risk level is known.
func (r RiskLevel) IsValid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Rank returns the numeric ordering of the risk level.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Lane is a dispatch channel for task execution.
type Lane string

const (
	LaneLocal Lane = "LOCAL"
	LaneCloud Lane = "CLOUD"
)

// KindHint is the decomposer's ordering heuristic for a subgoal.
type KindHint string

const (
	KindResearch  KindHint = "research"
	KindAnalysis  KindHint = "analysis"
	KindStrategy  KindHint = "strategy"
	KindSynthesis KindHint = "synthesis"
	KindGeneral   KindHint = "general"
)

// Order returns the hint's position in the canonical subgoal ordering.
func (k KindHint) Order() int {
	switch k {
	case KindResearch:
		return 0
	case KindAnalysis:
		return 1
	case KindStrategy:
		return 2
	case KindSynthesis:
		return 3
	default:
		return 4
	}
}

// Task is the atomic unit scheduled onto a worker. Exactly one worker may hold
// a task at a time; the store's projection enforces the pairing.
type Task struct {
	TaskID       string         `json:"task_id"`
	MissionID    string         `json:"mission_id"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	ActionKind   string         `json:"action_kind"`
	ActionParams map[string]any `json:"action_params,omitempty"`
	Status       TaskStatus     `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	Confidence   float64        `json:"confidence"`
	KindHint     KindHint       `json:"kind_hint,omitempty"`
	Lane         Lane           `json:"lane,omitempty"`

	AssignedWorkerID string     `json:"assigned_worker_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ScheduledStart   *time.Time `json:"scheduled_start,omitempty"`
	ObservedStart    *time.Time `json:"observed_start,omitempty"`
	ObservedEnd      *time.Time `json:"observed_end,omitempty"`

	// NextAttemptAt gates retry eligibility after a backoff.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// ResultHandle references the stored result blob; results are never embedded.
	ResultHandle string `json:"result_handle,omitempty"`

	// FailureReason carries the last failure's reason string.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() *Task {
	out := *t
	out.DependsOn = append([]string(nil), t.DependsOn...)
	if t.ActionParams != nil {
		params := make(map[string]any, len(t.ActionParams))
		for k, v := range t.ActionParams {
			params[k] = v
		}
		out.ActionParams = params
	}
	copyTime := func(p *time.Time) *time.Time {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	out.ScheduledStart = copyTime(t.ScheduledStart)
	out.ObservedStart = copyTime(t.ObservedStart)
	out.ObservedEnd = copyTime(t.ObservedEnd)
	out.NextAttemptAt = copyTime(t.NextAttemptAt)
	return &out
}

// TargetHost extracts the external host a task operates on, if any. Used for
// rate-limit conflict detection and host-scoped domain locks.
func (t *Task) TargetHost() string {
	for _, key := range []string{"host", "url", "target"} {
		raw, ok := t.ActionParams[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok || s == "" {
			continue
		}
		return hostOf(s)
	}
	return ""
}

// hostOf strips scheme, path, and port from a URL-ish string.
func hostOf(s string) string {
	if i := indexAfterScheme(s); i > 0 {
		s = s[i:]
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '/' || s[i] == '?' || s[i] == '#' || s[i] == ':' {
			return s[:i]
		}
	}
	return s
}

func indexAfterScheme(s string) int {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return i + 3
		}
	}
	return 0
}
