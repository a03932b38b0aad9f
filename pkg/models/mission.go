package models

import "time"

// Domain classifies a mission for tool statistics and domain locks.
type Domain string

const (
	DomainMarketing   Domain = "marketing"
	DomainEngineering Domain = "engineering"
	DomainOperations  Domain = "operations"
	DomainResearch    Domain = "research"
	DomainUnknown     Domain = "unknown"
)

// IsValid checks if the domain is one of the closed classification labels.
func (d Domain) IsValid() bool {
	switch d {
	case DomainMarketing, DomainEngineering, DomainOperations, DomainResearch, DomainUnknown:
		return true
	default:
		return false
	}
}

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionStatusProposed            MissionStatus = "PROPOSED"
	MissionStatusClarificationNeeded MissionStatus = "CLARIFICATION_NEEDED"
	MissionStatusApproved            MissionStatus = "APPROVED"
	MissionStatusQueued              MissionStatus = "QUEUED"
	MissionStatusRunning             MissionStatus = "RUNNING"
	MissionStatusPaused              MissionStatus = "PAUSED"
	MissionStatusCompleted           MissionStatus = "COMPLETED"
	MissionStatusFailed              MissionStatus = "FAILED"
	MissionStatusKilled              MissionStatus = "KILLED"
	MissionStatusCancelled           MissionStatus = "CANCELLED"
)

// IsValid checks if the status is a known mission status.
func (s MissionStatus) IsValid() bool {
	switch s {
	case MissionStatusProposed, MissionStatusClarificationNeeded, MissionStatusApproved,
		MissionStatusQueued, MissionStatusRunning, MissionStatusPaused,
		MissionStatusCompleted, MissionStatusFailed, MissionStatusKilled, MissionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further lifecycle transitions are possible.
func (s MissionStatus) IsTerminal() bool {
	switch s {
	case MissionStatusCompleted, MissionStatusFailed, MissionStatusKilled, MissionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsMutable reports whether policy fields may still be updated by the owner.
func (s MissionStatus) IsMutable() bool {
	return s == MissionStatusProposed || s == MissionStatusClarificationNeeded
}

// Priority orders missions and tasks for scheduling. Higher Rank wins.
type Priority string

const (
	PriorityUrgent     Priority = "URGENT"
	PriorityHigh       Priority = "HIGH"
	PriorityNormal     Priority = "NORMAL"
	PriorityLow        Priority = "LOW"
	PriorityBackground Priority = "BACKGROUND"
)

// IsValid checks if the priority is a known class.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground:
		return true
	default:
		return false
	}
}

// Rank returns the numeric ordering of the priority class; higher is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ExecutionMode is the safety mode governing side-effect scope.
type ExecutionMode string

const (
	// ModeMock produces no external side effects; tools return synthesized responses.
	ModeMock ExecutionMode = "MOCK"
	// ModeDryRun permits external reads; writes and HIGH-risk actions are recorded, not executed.
	ModeDryRun ExecutionMode = "DRY_RUN"
	// ModeLive executes all permitted actions.
	ModeLive ExecutionMode = "LIVE"
)

// IsValid checks if the mode is a known execution mode.
func (m ExecutionMode) IsValid() bool {
	return m == ModeMock || m == ModeDryRun || m == ModeLive
}

// Rank orders modes from most to least restricted.
func (m ExecutionMode) Rank() int {
	switch m {
	case ModeLive:
		return 2
	case ModeDryRun:
		return 1
	default:
		return 0
	}
}

// MinMode returns the more restrictive of two modes.
func MinMode(a, b ExecutionMode) ExecutionMode {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// Recurrence is the repeat interval for scheduled missions.
type Recurrence string

const (
	RecurrenceNone   Recurrence = ""
	RecurrenceHourly Recurrence = "hourly"
	RecurrenceDaily  Recurrence = "daily"
	RecurrenceWeekly Recurrence = "weekly"
)

// IsValid checks if the recurrence is a recognized interval.
func (r Recurrence) IsValid() bool {
	switch r {
	case RecurrenceNone, RecurrenceHourly, RecurrenceDaily, RecurrenceWeekly:
		return true
	default:
		return false
	}
}

// Interval returns the duration between recurring runs, or zero for one-shot.
func (r Recurrence) Interval() time.Duration {
	switch r {
	case RecurrenceHourly:
		return time.Hour
	case RecurrenceDaily:
		return 24 * time.Hour
	case RecurrenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// PolicyOverrides holds the recognized per-mission policy options. Nil fields
// fall back to engine configuration.
type PolicyOverrides struct {
	MaxSteps          *int     `json:"max_steps,omitempty"`
	PerTaskTimeoutS   *int     `json:"per_task_timeout_s,omitempty"`
	MaxRetriesPerTask *int     `json:"max_retries_per_task,omitempty"`
	RateLimitDelayMS  *int     `json:"rate_limit_delay_ms,omitempty"`
	AllowedDomains    []string `json:"allowed_domains,omitempty"`
	BlockedDomains    []string `json:"blocked_domains,omitempty"`
	RetryOnTimeout    *bool    `json:"retry_on_timeout,omitempty"`
}

// Mission is the materialized projection of a mission's event log. Missions own
// task ids, never task pointers; cross-references resolve through the store.
type Mission struct {
	MissionID       string          `json:"mission_id"`
	ObjectiveText   string          `json:"objective_text"`
	Domain          Domain          `json:"domain"`
	Status          MissionStatus   `json:"status"`
	Priority        Priority        `json:"priority"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	OwnerID         string          `json:"owner_id"`
	ProgressPercent int             `json:"progress_percent"`
	ExecutionMode   ExecutionMode   `json:"execution_mode"`
	Policy          PolicyOverrides `json:"policy_overrides"`

	// TaskIDs is the ordered set of tasks derived from the objective.
	TaskIDs []string `json:"task_ids"`

	// HighestRisk is the maximum risk level across the mission's tasks,
	// maintained by the projection from TASK_SCHEDULED payloads.
	HighestRisk RiskLevel `json:"highest_risk"`

	// ControlApproved records that a two-person CONTROL_APPROVED event, with
	// an approver distinct from the operator, exists in the log.
	ControlApproved bool `json:"control_approved"`

	// PausedFrom is the status to restore on RESUME; only set while PAUSED.
	PausedFrom MissionStatus `json:"paused_from,omitempty"`

	// TriggerTime delays queueing until the given instant; Recurrence re-spawns
	// the mission on completion.
	TriggerTime *time.Time `json:"trigger_time,omitempty"`
	Recurrence  Recurrence `json:"recurrence,omitempty"`

	DeadlineAt *time.Time `json:"deadline_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// LastSequence is the highest event sequence number applied to this projection.
	LastSequence int64 `json:"last_sequence"`
}

// Clone returns a deep copy safe to hand to readers.
func (m *Mission) Clone() *Mission {
	out := *m
	out.TaskIDs = append([]string(nil), m.TaskIDs...)
	out.Policy.AllowedDomains = append([]string(nil), m.Policy.AllowedDomains...)
	out.Policy.BlockedDomains = append([]string(nil), m.Policy.BlockedDomains...)
	if m.TriggerTime != nil {
		t := *m.TriggerTime
		out.TriggerTime = &t
	}
	if m.DeadlineAt != nil {
		t := *m.DeadlineAt
		out.DeadlineAt = &t
	}
	if m.FinishedAt != nil {
		t := *m.FinishedAt
		out.FinishedAt = &t
	}
	copyIntPtr := func(p *int) *int {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	out.Policy.MaxSteps = copyIntPtr(m.Policy.MaxSteps)
	out.Policy.PerTaskTimeoutS = copyIntPtr(m.Policy.PerTaskTimeoutS)
	out.Policy.MaxRetriesPerTask = copyIntPtr(m.Policy.MaxRetriesPerTask)
	out.Policy.RateLimitDelayMS = copyIntPtr(m.Policy.RateLimitDelayMS)
	if m.Policy.RetryOnTimeout != nil {
		v := *m.Policy.RetryOnTimeout
		out.Policy.RetryOnTimeout = &v
	}
	return &out
}

// MissionFilter narrows ListMissions results. Zero values are ignored.
type MissionFilter struct {
	Status  MissionStatus `json:"status,omitempty"`
	OwnerID string        `json:"owner_id,omitempty"`
	Domain  Domain        `json:"domain,omitempty"`
	Limit   int           `json:"limit,omitempty"`
	Offset  int           `json:"offset,omitempty"`
}
