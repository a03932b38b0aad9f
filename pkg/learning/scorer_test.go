package learning_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// storeAppender satisfies learning.Appender over the raw store.
type storeAppender struct{ s *store.MemoryStore }

func (a *storeAppender) Append(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
	return a.s.AppendEvent(ctx, missionID, kind, payload)
}

func newScorer(t *testing.T) (*learning.Scorer, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(0)
	sc := learning.NewScorer(s, &storeAppender{s: s}, 0.6, slog.Default())
	require.NoError(t, sc.Load(context.Background()))
	return sc, s
}

func signal(id, tool, domain string, success bool) learning.Signal {
	return learning.Signal{
		EventID:   id,
		Tool:      tool,
		Domain:    domain,
		Success:   success,
		LatencyMS: 120,
		Weight:    1.0,
	}
}

func TestScorer_BlendsTowardSuccessRate(t *testing.T) {
	ctx := context.Background()
	sc, _ := newScorer(t)

	// No history: neutral prior.
	assert.InDelta(t, 0.5, sc.Usefulness("web_extract", "marketing"), 0.001)

	// One success barely moves the needle off the prior.
	sc.RecordOutcome(ctx, signal("evt-1", "web_extract", "marketing", true))
	assert.InDelta(t, 0.55, sc.Usefulness("web_extract", "marketing"), 0.001)

	// Ten successes earn full confidence.
	for i := 2; i <= 10; i++ {
		sc.RecordOutcome(ctx, signal(fmt.Sprintf("evt-%d", i), "web_extract", "marketing", true))
	}
	assert.InDelta(t, 1.0, sc.Usefulness("web_extract", "marketing"), 0.001)
}

func TestScorer_FailuresLowerTheScore(t *testing.T) {
	ctx := context.Background()
	sc, _ := newScorer(t)

	for i := 0; i < 5; i++ {
		sc.RecordOutcome(ctx, signal(fmt.Sprintf("ok-%d", i), "api_call", "operations", true))
	}
	for i := 0; i < 5; i++ {
		sc.RecordOutcome(ctx, learning.Signal{
			EventID:     fmt.Sprintf("fail-%d", i),
			Tool:        "api_call",
			Domain:      "operations",
			Success:     false,
			LatencyMS:   300,
			FailureMode: "upstream status 502",
			Weight:      1.0,
		})
	}
	assert.InDelta(t, 0.5, sc.Usefulness("api_call", "operations"), 0.001)
}

func TestScorer_IdempotentByEventID(t *testing.T) {
	ctx := context.Background()
	sc, s := newScorer(t)

	sc.RecordOutcome(ctx, signal("evt-dup", "web_search", "research", true))
	sc.RecordOutcome(ctx, signal("evt-dup", "web_search", "research", true))

	p, err := s.GetProfile(ctx, "web_search", "research")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(1), p.TotalCalls)
}

func TestScorer_WeakSignalsDiscarded(t *testing.T) {
	ctx := context.Background()
	sc, s := newScorer(t)

	sig := signal("evt-weak", "web_search", "research", true)
	sig.Weight = 0.3
	sc.RecordOutcome(ctx, sig)

	p, err := s.GetProfile(ctx, "web_search", "research")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestScorer_GlobalFallback(t *testing.T) {
	ctx := context.Background()
	sc, _ := newScorer(t)

	for i := 0; i < 10; i++ {
		sc.RecordOutcome(ctx, signal(fmt.Sprintf("evt-%d", i), "data_analyze", "engineering", true))
	}

	// Marketing has no history of its own; the _global aggregate answers.
	assert.InDelta(t, 1.0, sc.Usefulness("data_analyze", "marketing"), 0.001)
}

func TestScorer_NeverUseIsHardZero(t *testing.T) {
	ctx := context.Background()
	sc, _ := newScorer(t)

	for i := 0; i < 10; i++ {
		sc.RecordOutcome(ctx, signal(fmt.Sprintf("evt-%d", i), "form_submit", "marketing", true))
	}
	require.InDelta(t, 1.0, sc.Usefulness("form_submit", "marketing"), 0.001)

	require.NoError(t, sc.ApplyFeedback(ctx, &models.FeedbackRecord{
		ToolName:       "form_submit",
		Domain:         "marketing",
		Verdict:        models.VerdictNegative,
		Action:         models.FeedbackConstrain,
		HardConstraint: models.ConstraintNeverUse,
		Reason:         "submitted a live order during a demo",
	}))

	assert.Zero(t, sc.Usefulness("form_submit", "marketing"))
	assert.True(t, sc.Constrained("form_submit", "marketing"))
	assert.False(t, sc.Constrained("form_submit", "engineering"))
}

func TestScorer_PenalizeMultiplies(t *testing.T) {
	ctx := context.Background()
	sc, _ := newScorer(t)

	for i := 0; i < 10; i++ {
		sc.RecordOutcome(ctx, signal(fmt.Sprintf("evt-%d", i), "web_navigate", "research", true))
	}
	require.NoError(t, sc.ApplyFeedback(ctx, &models.FeedbackRecord{
		ToolName: "web_navigate",
		Domain:   "research",
		Verdict:  models.VerdictNegative,
		Action:   models.FeedbackPenalize,
		Impact:   0.5,
	}))

	assert.InDelta(t, 0.5, sc.Usefulness("web_navigate", "research"), 0.001)
}

func TestScorer_FeedbackValidation(t *testing.T) {
	sc, _ := newScorer(t)
	ctx := context.Background()

	err := sc.ApplyFeedback(ctx, &models.FeedbackRecord{
		Verdict: models.VerdictNegative,
		Action:  models.FeedbackPenalize,
	})
	assert.Error(t, err)

	err = sc.ApplyFeedback(ctx, &models.FeedbackRecord{
		ToolName: "web_search",
		Verdict:  "MEH",
		Action:   models.FeedbackPenalize,
	})
	assert.Error(t, err)
}

func TestScorer_SurveyOncePerMission(t *testing.T) {
	ctx := context.Background()
	sc, s := newScorer(t)

	evt, err := s.CreateMission(ctx, &models.Mission{
		ObjectiveText: "summarize competitor pricing",
		OwnerID:       "owner-1",
		Domain:        models.DomainResearch,
		Priority:      models.PriorityNormal,
		ExecutionMode: models.ModeMock,
	})
	require.NoError(t, err)
	missionID := evt.MissionID

	_, err = s.AppendEvent(ctx, missionID, models.EventTaskScheduled, models.TaskScheduledPayload{
		Task: &models.Task{
			TaskID:      "task-1",
			MissionID:   missionID,
			ActionKind:  "web_search",
			Status:      models.TaskStatusPending,
			MaxAttempts: 3,
			RiskLevel:   models.RiskLow,
		},
	})
	require.NoError(t, err)

	before := sc.Usefulness("web_search", "research")
	require.NoError(t, sc.ApplySurvey(ctx, missionID, 9, true))
	assert.InDelta(t, before+0.05, sc.Usefulness("web_search", "research"), 0.001)

	// Second survey for the same mission is rejected.
	assert.ErrorIs(t, sc.ApplySurvey(ctx, missionID, 2, false), learning.ErrSurveyDuplicate)

	// The nudge was logged as a FEEDBACK event in the mission log.
	events, err := s.ListEvents(ctx, missionID, 0, 0)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.EventKind == models.EventFeedback {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScorer_SurveyRatingValidation(t *testing.T) {
	sc, _ := newScorer(t)
	assert.Error(t, sc.ApplySurvey(context.Background(), "m-1", 0, false))
	assert.Error(t, sc.ApplySurvey(context.Background(), "m-1", 11, false))
}

func TestScorer_LoadRestoresStateAcrossRestart(t *testing.T) {
	ctx := context.Background()
	sc, s := newScorer(t)

	for i := 0; i < 10; i++ {
		sc.RecordOutcome(ctx, signal(fmt.Sprintf("evt-%d", i), "report_compose", "marketing", true))
	}
	require.NoError(t, sc.ApplyFeedback(ctx, &models.FeedbackRecord{
		ToolName:       "web_screenshot",
		Domain:         "marketing",
		Verdict:        models.VerdictNegative,
		Action:         models.FeedbackConstrain,
		HardConstraint: models.ConstraintNeverUse,
	}))

	// A fresh scorer over the same store sees both the statistics and the
	// hard constraint.
	reborn := learning.NewScorer(s, &storeAppender{s: s}, 0.6, slog.Default())
	require.NoError(t, reborn.Load(ctx))

	assert.InDelta(t, 1.0, reborn.Usefulness("report_compose", "marketing"), 0.001)
	assert.True(t, reborn.Constrained("web_screenshot", "marketing"))
}
