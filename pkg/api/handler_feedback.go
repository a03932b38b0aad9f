package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/services"
)

// FeedbackRequest is the body for POST /api/v1/feedback.
type FeedbackRequest struct {
	ToolName       string                `json:"tool_name"`
	Domain         string                `json:"domain,omitempty"`
	Verdict        models.Verdict        `json:"verdict"`
	Action         models.FeedbackAction `json:"action"`
	Impact         float64               `json:"impact,omitempty"`
	HardConstraint models.HardConstraint `json:"hard_constraint,omitempty"`
	Reason         string                `json:"reason,omitempty"`
}

// feedbackHandler handles POST /api/v1/feedback.
// Feeds a human verdict into the tool scorer; CONSTRAIN with NEVER_USE zeroes
// the tool for its domain permanently.
func (s *Server) feedbackHandler(c *echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := s.deps.Feedback.Submit(c.Request().Context(), services.FeedbackInput{
		ToolName:       req.ToolName,
		Domain:         req.Domain,
		Verdict:        req.Verdict,
		Action:         req.Action,
		Impact:         req.Impact,
		HardConstraint: req.HardConstraint,
		Reason:         req.Reason,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, rec)
}
