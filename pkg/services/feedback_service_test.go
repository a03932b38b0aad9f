package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

func newFeedbackFixture(t *testing.T) (*store.MemoryStore, *FeedbackService, *learning.Scorer) {
	t.Helper()
	s := store.NewMemoryStore(0)
	scorer := learning.NewScorer(s, nil, 0.6, slog.Default())
	require.NoError(t, scorer.Load(context.Background()))
	return s, NewFeedbackService(s, scorer), scorer
}

func TestFeedbackService_HardConstraintBlocksTool(t *testing.T) {
	_, svc, scorer := newFeedbackFixture(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, FeedbackInput{
		ToolName:       "form_submit",
		Domain:         "operations",
		Verdict:        models.VerdictNegative,
		Action:         models.FeedbackConstrain,
		HardConstraint: models.ConstraintNeverUse,
		Reason:         "kept submitting to the wrong vendor portal",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.FeedbackID)
	assert.True(t, scorer.Constrained("form_submit", "operations"))
	assert.Zero(t, scorer.Usefulness("form_submit", "operations"))
}

func TestFeedbackService_Validation(t *testing.T) {
	_, svc, _ := newFeedbackFixture(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, FeedbackInput{
		Verdict: models.VerdictPositive, Action: models.FeedbackBoost, Impact: 1.2,
	})
	assert.True(t, IsValidationError(err))

	_, err = svc.Submit(ctx, FeedbackInput{
		ToolName: "web_search", Verdict: "MEH", Action: models.FeedbackBoost,
	})
	assert.True(t, IsValidationError(err))

	_, err = svc.Submit(ctx, FeedbackInput{
		ToolName: "web_search", Verdict: models.VerdictPositive,
		Action: models.FeedbackBoost, Impact: 3.5,
	})
	assert.True(t, IsValidationError(err))
}

func TestFeedbackService_SurveyOncePerMission(t *testing.T) {
	s, svc, _ := newFeedbackFixture(t)
	ctx := context.Background()

	evt, err := s.CreateMission(ctx, &models.Mission{
		ObjectiveText: "research competitor pricing",
		OwnerID:       "owner-1",
		Domain:        models.DomainResearch,
	})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, evt.MissionID, models.EventTaskScheduled, models.TaskScheduledPayload{
		Task: &models.Task{
			TaskID:     "task-1",
			MissionID:  evt.MissionID,
			ActionKind: "web_search",
			Status:     models.TaskStatusCompleted,
			CreatedAt:  time.Now().UTC(),
		},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Survey(ctx, evt.MissionID, 9, true))
	assert.ErrorIs(t, svc.Survey(ctx, evt.MissionID, 9, true), ErrSurveyAlreadyRecorded)

	assert.True(t, IsValidationError(svc.Survey(ctx, evt.MissionID, 0, false)))
	assert.ErrorIs(t, svc.Survey(ctx, "no-such-mission", 7, false), ErrMissionNotFound)
}
