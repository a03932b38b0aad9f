package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pathfind-io/pathfinder/pkg/services"
	"github.com/pathfind-io/pathfinder/pkg/session"
)

// ChatRequest is the HTTP request body for POST /api/v1/chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ChatResponse wraps the structured envelope with the session it belongs to.
type ChatResponse struct {
	SessionID string                    `json:"session_id"`
	Response  *session.ResponseEnvelope `json:"response"`
}

// chatHandler handles POST /api/v1/chat.
// Turns a free-text objective into a mission and returns the structured
// envelope. Rejections and duplicates come back as envelopes, not errors.
func (s *Server) chatHandler(c *echo.Context) error {
	if s.deps.Chat == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat service is not available")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Text) > 100_000 {
		return echo.NewHTTPError(http.StatusBadRequest, "text exceeds maximum length of 100,000 characters")
	}

	sessionID, env, err := s.deps.Chat.HandleMessage(c.Request().Context(), services.ChatInput{
		SessionID: req.SessionID,
		OwnerID:   extractOperator(c),
		Text:      req.Text,
	})
	if err != nil {
		return mapServiceError(err)
	}

	status := http.StatusAccepted
	if env.Status == "rejected" || env.Status == "duplicate" {
		status = http.StatusOK
	}
	return c.JSON(status, &ChatResponse{
		SessionID: sessionID,
		Response:  env,
	})
}
