package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/services"
)

// MissionDetail is the response for GET /api/v1/missions/:id.
type MissionDetail struct {
	Mission *models.Mission `json:"mission"`
	Tasks   []*models.Task  `json:"tasks"`
}

// UpdateMissionRequest carries the mutable mission fields. Absent fields are
// unchanged.
type UpdateMissionRequest struct {
	Priority      *models.Priority        `json:"priority,omitempty"`
	ExecutionMode *models.ExecutionMode   `json:"execution_mode,omitempty"`
	Policy        *models.PolicyOverrides `json:"policy,omitempty"`
}

// ScheduleMissionRequest is the body for PUT /api/v1/missions/:id/schedule.
type ScheduleMissionRequest struct {
	TriggerTime string            `json:"trigger_time,omitempty"`
	Recurrence  models.Recurrence `json:"recurrence,omitempty"`
}

// SurveyRequest is the body for POST /api/v1/missions/:id/survey.
type SurveyRequest struct {
	Rating    int  `json:"rating"`
	TimeSaved bool `json:"time_saved"`
}

// listMissionsHandler handles GET /api/v1/missions.
func (s *Server) listMissionsHandler(c *echo.Context) error {
	filter := models.MissionFilter{}

	if v := c.QueryParam("status"); v != "" {
		status := models.MissionStatus(v)
		if !status.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
		filter.Status = status
	}
	if v := c.QueryParam("domain"); v != "" {
		domain := models.Domain(v)
		if !domain.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid domain: "+v)
		}
		filter.Domain = domain
	}
	filter.OwnerID = c.QueryParam("owner_id")
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		filter.Offset = n
	}

	missions, err := s.deps.Missions.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"missions": missions})
}

// getMissionHandler handles GET /api/v1/missions/:id.
func (s *Server) getMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	mission, err := s.deps.Missions.Get(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	tasks, err := s.deps.Missions.Tasks(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MissionDetail{Mission: mission, Tasks: tasks})
}

// missionEventsHandler handles GET /api/v1/missions/:id/events?after=N&limit=M.
// This is the replay API behind stream GAP resync; limit is capped by the
// server's catchup limit.
func (s *Server) missionEventsHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	var afterSeq int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after: must be a non-negative integer")
		}
		afterSeq = n
	}

	limit := s.cfg.CatchupLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		if n < limit {
			limit = n
		}
	}

	evts, err := s.deps.Missions.Events(c.Request().Context(), missionID, afterSeq, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": evts})
}

// updateMissionHandler handles POST /api/v1/missions/:id/update.
// Mutable fields only, and only while the mission has not been approved.
func (s *Server) updateMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	var req UpdateMissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Priority == nil && req.ExecutionMode == nil && req.Policy == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no mutable fields provided")
	}
	if req.Priority != nil && !req.Priority.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid priority: "+string(*req.Priority))
	}
	if req.ExecutionMode != nil && !req.ExecutionMode.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execution_mode: "+string(*req.ExecutionMode))
	}

	mission, err := s.deps.Missions.Update(c.Request().Context(), missionID, services.UpdateInput{
		Priority: req.Priority,
		Mode:     req.ExecutionMode,
		Policy:   req.Policy,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mission)
}

// scheduleMissionHandler handles PUT /api/v1/missions/:id/schedule.
func (s *Server) scheduleMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	var req ScheduleMissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.Recurrence.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid recurrence: must be empty, hourly, daily, or weekly")
	}

	var trigger *time.Time
	if req.TriggerTime != "" {
		t, err := time.Parse(time.RFC3339, req.TriggerTime)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger_time: must be RFC3339")
		}
		trigger = &t
	}
	if trigger == nil && req.Recurrence == models.RecurrenceNone {
		return echo.NewHTTPError(http.StatusBadRequest, "trigger_time or recurrence is required")
	}

	mission, err := s.deps.Missions.Schedule(c.Request().Context(), missionID, trigger, req.Recurrence)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mission)
}

// approveMissionHandler handles POST /api/v1/missions/:id/approve.
// Moves a PROPOSED or CLARIFICATION_NEEDED mission into QUEUED.
func (s *Server) approveMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	mission, err := s.deps.Missions.Approve(c.Request().Context(), missionID, extractOperator(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mission)
}

// surveyHandler handles POST /api/v1/missions/:id/survey.
func (s *Server) surveyHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	var req SurveyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.deps.Feedback.Survey(c.Request().Context(), missionID, req.Rating, req.TimeSaved); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "recorded"})
}
