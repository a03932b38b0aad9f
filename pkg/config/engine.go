package config

import (
	"time"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// EngineConfig bounds mission decomposition and per-task execution.
type EngineConfig struct {
	// MaxStepsPerMission caps the total executable tasks a mission may hold.
	MaxStepsPerMission int `yaml:"max_steps_per_mission"`

	// MaxSubgoals caps how many subgoals the decomposer may emit for a
	// single objective.
	MaxSubgoals int `yaml:"max_subgoals"`

	// PerTaskTimeoutS is the execution deadline for a single task attempt,
	// in seconds.
	PerTaskTimeoutS int `yaml:"per_task_timeout_s"`

	// MissionDeadlineS is the wall-clock budget for a whole mission, in
	// seconds. Missions exceeding it fail with a deadline reason.
	MissionDeadlineS int `yaml:"mission_deadline_s"`

	// MaxRetriesPerTask is the default attempt ceiling before a task is
	// marked FAILED with max_retries_exceeded.
	MaxRetriesPerTask int `yaml:"max_retries_per_task"`

	// RetryBackoffCapsS is the per-attempt backoff ladder in seconds. The
	// last entry also caps jittered delays.
	RetryBackoffCapsS []int `yaml:"retry_backoff_caps_s"`

	// HighRiskConfidenceThreshold gates dispatch of HIGH risk tasks: below
	// it they are DEFERRED until confidence improves or an operator steps in.
	HighRiskConfidenceThreshold float64 `yaml:"high_risk_confidence_threshold"`

	// ApprovalRequiredActions lists control actions that always need a
	// second operator before executing.
	ApprovalRequiredActions []models.ControlAction `yaml:"approval_required_actions"`

	// AutonomyLevel selects how much the engine may do without a human.
	// Only level 1 (supervised) is supported; higher levels are rejected
	// at startup until an approved escalation process exists.
	AutonomyLevel int `yaml:"autonomy_level"`

	// DuplicateWindowS is the lookback window, in seconds, for treating a
	// repeated objective from the same owner as a duplicate mission.
	DuplicateWindowS int `yaml:"duplicate_window_s"`
}

// DefaultEngineConfig returns the engine defaults applied before user config
// is merged in.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxStepsPerMission:          8,
		MaxSubgoals:                 4,
		PerTaskTimeoutS:             120,
		MissionDeadlineS:            3600,
		MaxRetriesPerTask:           3,
		RetryBackoffCapsS:           []int{2, 4, 8, 16, 30},
		HighRiskConfidenceThreshold: 0.7,
		ApprovalRequiredActions: []models.ControlAction{
			models.ControlPauseMission,
			models.ControlKillMission,
			models.ControlPromoteForecast,
			models.ControlLockDomain,
		},
		AutonomyLevel:    1,
		DuplicateWindowS: 60,
	}
}

// PerTaskTimeout returns the task attempt deadline as a duration.
func (c EngineConfig) PerTaskTimeout() time.Duration {
	return time.Duration(c.PerTaskTimeoutS) * time.Second
}

// MissionDeadline returns the mission budget as a duration.
func (c EngineConfig) MissionDeadline() time.Duration {
	return time.Duration(c.MissionDeadlineS) * time.Second
}

// DuplicateWindow returns the duplicate-mission lookback as a duration.
func (c EngineConfig) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowS) * time.Second
}

// BackoffCap returns the backoff ceiling, in seconds, for the given retry
// attempt (1-based). Attempts beyond the ladder reuse the final entry.
func (c EngineConfig) BackoffCap(attempt int) int {
	if len(c.RetryBackoffCapsS) == 0 {
		return 30
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(c.RetryBackoffCapsS) {
		attempt = len(c.RetryBackoffCapsS)
	}
	return c.RetryBackoffCapsS[attempt-1]
}

// RequiresApproval reports whether the given control action is in the
// approval-gated set.
func (c EngineConfig) RequiresApproval(action models.ControlAction) bool {
	for _, a := range c.ApprovalRequiredActions {
		if a == action {
			return true
		}
	}
	return false
}
