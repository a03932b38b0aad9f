package api

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// StreamHealthResponse is returned by GET /api/v1/stream-health/:mission_id.
// The stream is strictly one-way; observers cannot inject control.
type StreamHealthResponse struct {
	ActiveConnections int    `json:"active_connections"`
	ObservationMode   string `json:"observation_mode"`
	ControlEnabled    bool   `json:"control_enabled"`
}

// streamHealthHandler handles GET /api/v1/stream-health/:mission_id.
func (s *Server) streamHealthHandler(c *echo.Context) error {
	missionID := c.Param("mission_id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}
	if s.deps.ConnManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not available")
	}

	return c.JSON(http.StatusOK, &StreamHealthResponse{
		ActiveConnections: s.deps.ConnManager.MissionConnections(missionID),
		ObservationMode:   "read-only",
		ControlEnabled:    false,
	})
}

// wsStreamHandler handles GET /ws/stream/:mission_id.
// Upgrades to WebSocket and delegates to the ConnectionManager, which replays
// the log from ?after=N and then streams live events until the client closes.
func (s *Server) wsStreamHandler(c *echo.Context) error {
	missionID := c.Param("mission_id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}
	if s.deps.ConnManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not available")
	}

	var afterSeq int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after: must be a non-negative integer")
		}
		afterSeq = n
	}

	// Reject unknown missions before the upgrade so clients get a clean 404.
	if _, err := s.deps.Missions.Get(c.Request().Context(), missionID); err != nil {
		return mapServiceError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.deps.ConnManager.HandleConnection(c.Request().Context(), conn, missionID, afterSeq)
	return nil
}
