package models

import "time"

// Verdict is the polarity of a human feedback record.
type Verdict string

const (
	VerdictPositive   Verdict = "POSITIVE"
	VerdictNegative   Verdict = "NEGATIVE"
	VerdictCorrection Verdict = "CORRECTION"
)

// IsValid checks if the verdict is known.
func (v Verdict) IsValid() bool {
	return v == VerdictPositive || v == VerdictNegative || v == VerdictCorrection
}

// FeedbackAction is the adjustment a feedback record requests.
type FeedbackAction string

const (
	FeedbackBoost     FeedbackAction = "BOOST"
	FeedbackPenalize  FeedbackAction = "PENALIZE"
	FeedbackConstrain FeedbackAction = "CONSTRAIN"
	FeedbackReplace   FeedbackAction = "REPLACE"
)

// IsValid checks if the action is known.
func (a FeedbackAction) IsValid() bool {
	switch a {
	case FeedbackBoost, FeedbackPenalize, FeedbackConstrain, FeedbackReplace:
		return true
	default:
		return false
	}
}

// HardConstraint is an absolute prohibition attached to feedback.
type HardConstraint string

// ConstraintNeverUse forces the scorer to zero for the pair and rejects the
// tool at dispatch time.
const ConstraintNeverUse HardConstraint = "NEVER_USE"

// FeedbackRecord is a human-provided signal adjusting tool selection for a
// (tool, domain) pair. Impact multiplies the usefulness score; a hard
// constraint overrides it entirely.
type FeedbackRecord struct {
	FeedbackID     string         `json:"feedback_id"`
	ToolName       string         `json:"tool_name"`
	Domain         string         `json:"domain"`
	Verdict        Verdict        `json:"verdict"`
	Action         FeedbackAction `json:"action"`
	Impact         float64        `json:"impact"`
	HardConstraint HardConstraint `json:"hard_constraint,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// SurveyResponse is the post-mission user rating submitted by the survey
// collaborator. Ratings nudge usefulness once per mission.
type SurveyResponse struct {
	MissionID   string    `json:"mission_id"`
	Rating      int       `json:"rating"`
	TimeSaved   bool      `json:"time_saved"`
	SubmittedAt time.Time `json:"submitted_at"`
}
