package models

import "time"

// ControlAction is an operator action proposal kind.
type ControlAction string

const (
	ControlPauseMission    ControlAction = "PAUSE_MISSION"
	ControlKillMission     ControlAction = "KILL_MISSION"
	ControlPromoteForecast ControlAction = "PROMOTE_FORECAST"
	ControlLockDomain      ControlAction = "LOCK_DOMAIN"
	ControlUnlockDomain    ControlAction = "UNLOCK_DOMAIN"
	ControlResumeMission   ControlAction = "RESUME_MISSION"
)

// IsValid checks if the action is a known control action.
func (a ControlAction) IsValid() bool {
	switch a {
	case ControlPauseMission, ControlKillMission, ControlPromoteForecast,
		ControlLockDomain, ControlUnlockDomain, ControlResumeMission:
		return true
	default:
		return false
	}
}

// TargetsMission reports whether the action's target_id names a mission
// rather than a domain or forecast handle.
func (a ControlAction) TargetsMission() bool {
	switch a {
	case ControlPauseMission, ControlKillMission, ControlResumeMission:
		return true
	default:
		return false
	}
}

// ControlStatus is the lifecycle state of a control request.
type ControlStatus string

const (
	ControlStatusPending  ControlStatus = "PENDING"
	ControlStatusApproved ControlStatus = "APPROVED"
	ControlStatusRejected ControlStatus = "REJECTED"
	ControlStatusExecuted ControlStatus = "EXECUTED"
	ControlStatusFailed   ControlStatus = "FAILED"
)

// IsValid checks if the status is a known control status.
func (s ControlStatus) IsValid() bool {
	switch s {
	case ControlStatusPending, ControlStatusApproved, ControlStatusRejected,
		ControlStatusExecuted, ControlStatusFailed:
		return true
	default:
		return false
	}
}

// IsDecided reports whether the request has passed its approval gate.
func (s ControlStatus) IsDecided() bool {
	return s != ControlStatusPending
}

// ControlRequest is an operator action proposal, subject to an approval gate
// when configured. The approver must differ from the submitting operator.
type ControlRequest struct {
	RequestID        string        `json:"request_id"`
	Action           ControlAction `json:"action"`
	TargetID         string        `json:"target_id"`
	OperatorID       string        `json:"operator_id"`
	Reason           string        `json:"reason,omitempty"`
	RequiresApproval bool          `json:"requires_approval"`
	Status           ControlStatus `json:"status"`
	ApproverID       string        `json:"approver_id,omitempty"`
	ApprovalReason   string        `json:"approval_reason,omitempty"`
	SubmittedAt      time.Time     `json:"submitted_at"`
	DecidedAt        *time.Time    `json:"decided_at,omitempty"`
	ExecutedAt       *time.Time    `json:"executed_at,omitempty"`

	// LockDuration applies to LOCK_DOMAIN requests only.
	LockDuration time.Duration `json:"lock_duration,omitempty"`
}

// DomainLock is a time-bounded prohibition on running missions that target a
// given domain label (classification domain or external host). Expired locks
// are removed lazily on the next check.
type DomainLock struct {
	Domain      string    `json:"domain"`
	LockedBy    string    `json:"locked_by"`
	LockedUntil time.Time `json:"locked_until"`
	Reason      string    `json:"reason,omitempty"`
}

// Active reports whether the lock still binds at the given instant.
func (l DomainLock) Active(now time.Time) bool {
	return now.Before(l.LockedUntil)
}
