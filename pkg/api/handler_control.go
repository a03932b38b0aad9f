package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/services"
)

// ControlRequestBody is the body for POST /api/v1/controls/request.
type ControlRequestBody struct {
	Action       models.ControlAction `json:"action"`
	TargetID     string               `json:"target_id"`
	Reason       string               `json:"reason,omitempty"`
	LockDuration int64                `json:"lock_duration_s,omitempty"`
}

// ControlDecisionBody is the body for control approve and reject.
type ControlDecisionBody struct {
	Reason string `json:"reason,omitempty"`
}

// requestControlHandler handles POST /api/v1/controls/request.
// Gated actions come back PENDING and need a second operator; ungated ones
// execute before the response is written.
func (s *Server) requestControlHandler(c *echo.Context) error {
	var req ControlRequestBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.Action.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid action: "+string(req.Action))
	}
	if req.TargetID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_id is required")
	}

	reqOut, err := s.deps.Controls.Request(c.Request().Context(), services.ControlInput{
		Action:       req.Action,
		TargetID:     req.TargetID,
		OperatorID:   extractOperator(c),
		Reason:       req.Reason,
		LockDuration: req.LockDuration,
	})
	if err != nil {
		return mapServiceError(err)
	}

	status := http.StatusOK
	if reqOut.Status == models.ControlStatusPending {
		status = http.StatusAccepted
	}
	return c.JSON(status, reqOut)
}

// approveControlHandler handles POST /api/v1/controls/:id/approve.
func (s *Server) approveControlHandler(c *echo.Context) error {
	requestID := c.Param("id")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request id is required")
	}

	var req ControlDecisionBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reqOut, err := s.deps.Controls.Approve(c.Request().Context(), requestID, extractOperator(c), req.Reason)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, reqOut)
}

// rejectControlHandler handles POST /api/v1/controls/:id/reject.
func (s *Server) rejectControlHandler(c *echo.Context) error {
	requestID := c.Param("id")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request id is required")
	}

	var req ControlDecisionBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reqOut, err := s.deps.Controls.Reject(c.Request().Context(), requestID, extractOperator(c), req.Reason)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, reqOut)
}

// getControlHandler handles GET /api/v1/controls/:id.
func (s *Server) getControlHandler(c *echo.Context) error {
	requestID := c.Param("id")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request id is required")
	}

	reqOut, err := s.deps.Controls.Get(c.Request().Context(), requestID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, reqOut)
}

// listControlsHandler handles GET /api/v1/controls?status=PENDING.
func (s *Server) listControlsHandler(c *echo.Context) error {
	var status models.ControlStatus
	if v := c.QueryParam("status"); v != "" {
		status = models.ControlStatus(v)
		if !status.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}

	reqs, err := s.deps.Controls.List(c.Request().Context(), status)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"requests": reqs})
}
