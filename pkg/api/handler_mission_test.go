package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

func TestGetMissionHandler_ReturnsDetail(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	rec := f.do(t, http.MethodGet, "/api/v1/missions/"+missionID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	detail := decode[MissionDetail](t, rec)
	assert.Equal(t, missionID, detail.Mission.MissionID)
	assert.Equal(t, models.MissionStatusProposed, detail.Mission.Status)
	require.NotEmpty(t, detail.Tasks)
}

func TestGetMissionHandler_Unknown(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodGet, "/api/v1/missions/no-such-mission", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMissionsHandler_Filters(t *testing.T) {
	f := newTestServer(t)
	spawnMission(t, f, "research competitor pricing for our product")
	spawnMission(t, f, "research supplier landscape in detail")

	rec := f.do(t, http.MethodGet, "/api/v1/missions?status=PROPOSED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Missions []*models.Mission `json:"missions"`
	}](t, rec)
	assert.Len(t, out.Missions, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/missions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/missions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveMissionHandler_QueuesMission(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	rec := f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.MissionStatusQueued, decode[models.Mission](t, rec).Status)

	// Approval ends mutability.
	rec = f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateMissionHandler(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	urgent := models.PriorityUrgent
	rec := f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/update", UpdateMissionRequest{
		Priority: &urgent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.PriorityUrgent, decode[models.Mission](t, rec).Priority)

	rec = f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/update", UpdateMissionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := models.Priority("SOMEDAY")
	rec = f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/update", UpdateMissionRequest{
		Priority: &bad,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateMissionHandler_RejectsApprovedMission(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	rec := f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	urgent := models.PriorityUrgent
	rec = f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/update", UpdateMissionRequest{
		Priority: &urgent,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleMissionHandler_Validation(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	rec := f.do(t, http.MethodPut, "/api/v1/missions/"+missionID+"/schedule", ScheduleMissionRequest{
		Recurrence: "fortnightly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/missions/"+missionID+"/schedule", ScheduleMissionRequest{
		TriggerTime: "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/missions/"+missionID+"/schedule", ScheduleMissionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/missions/"+missionID+"/schedule", ScheduleMissionRequest{
		Recurrence: models.RecurrenceDaily,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RecurrenceDaily, decode[models.Mission](t, rec).Recurrence)
}

func TestMissionEventsHandler_Replay(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	rec := f.do(t, http.MethodGet, "/api/v1/missions/"+missionID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Events []*models.Event `json:"events"`
	}](t, rec)
	require.NotEmpty(t, out.Events)
	first := out.Events[0].SequenceNumber

	// Tail after the first event.
	rec = f.do(t, http.MethodGet, "/api/v1/missions/"+missionID+"/events?after="+itoa(first), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tail := decode[struct {
		Events []*models.Event `json:"events"`
	}](t, rec)
	assert.Len(t, tail.Events, len(out.Events)-1)

	rec = f.do(t, http.MethodGet, "/api/v1/missions/"+missionID+"/events?after=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSurveyHandler_OncePerMission(t *testing.T) {
	f := newTestServer(t)
	missionID := spawnMission(t, f, "research competitor pricing for our product")

	rec := f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/survey", SurveyRequest{
		Rating: 9, TimeSaved: true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/survey", SurveyRequest{
		Rating: 9, TimeSaved: true,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/missions/"+missionID+"/survey", SurveyRequest{Rating: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
