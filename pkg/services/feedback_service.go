package services

import (
	"context"
	"fmt"

	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// FeedbackInput is the domain-level shape of a human feedback submission.
type FeedbackInput struct {
	ToolName       string
	Domain         string
	Verdict        models.Verdict
	Action         models.FeedbackAction
	Impact         float64
	HardConstraint models.HardConstraint
	Reason         string
}

// FeedbackService ingests human feedback and post-mission surveys into the
// learning loop.
type FeedbackService struct {
	store  store.Store
	scorer *learning.Scorer
}

// NewFeedbackService wires the feedback service.
func NewFeedbackService(st store.Store, scorer *learning.Scorer) *FeedbackService {
	return &FeedbackService{store: st, scorer: scorer}
}

// Submit validates and applies one feedback record.
func (s *FeedbackService) Submit(ctx context.Context, input FeedbackInput) (*models.FeedbackRecord, error) {
	if input.ToolName == "" {
		return nil, NewValidationError("tool_name", "tool name is required")
	}
	if !input.Verdict.IsValid() {
		return nil, NewValidationError("verdict", fmt.Sprintf("unknown verdict %q", input.Verdict))
	}
	if !input.Action.IsValid() {
		return nil, NewValidationError("action", fmt.Sprintf("unknown action %q", input.Action))
	}
	if input.Impact < 0 || input.Impact > 2 {
		return nil, NewValidationError("impact", "impact multiplier must be in [0, 2]")
	}
	if input.HardConstraint != "" && input.HardConstraint != models.ConstraintNeverUse {
		return nil, NewValidationError("hard_constraint", fmt.Sprintf("unknown constraint %q", input.HardConstraint))
	}
	rec := &models.FeedbackRecord{
		ToolName:       input.ToolName,
		Domain:         input.Domain,
		Verdict:        input.Verdict,
		Action:         input.Action,
		Impact:         input.Impact,
		HardConstraint: input.HardConstraint,
		Reason:         input.Reason,
	}
	if err := s.scorer.ApplyFeedback(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Survey applies a post-mission rating, once per mission.
func (s *FeedbackService) Survey(ctx context.Context, missionID string, rating int, timeSaved bool) error {
	if rating < 1 || rating > 10 {
		return NewValidationError("rating", "rating must be between 1 and 10")
	}
	if _, err := s.store.GetMission(ctx, missionID); err != nil {
		return err
	}
	return s.scorer.ApplySurvey(ctx, missionID, rating, timeSaved)
}
