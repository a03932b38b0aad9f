// Package api exposes the HTTP and WebSocket surface of the engine. All
// routes are thin: bind, validate, call a service, map the error. Observers
// get the event stream and structured envelopes, never raw execution traces.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/events"
	"github.com/pathfind-io/pathfinder/pkg/services"
	"github.com/pathfind-io/pathfinder/pkg/worker"
)

// Dispatcher is the scheduler surface the API needs: the intake halt latch.
type Dispatcher interface {
	Acknowledge()
	Halted() (bool, string)
}

// Deps carries the wired components the server routes to. ConnManager, Pool,
// Monitor, and Scheduler may be nil; the affected endpoints degrade.
type Deps struct {
	Chat        *services.ChatService
	Missions    *services.MissionService
	Controls    *services.ControlService
	Feedback    *services.FeedbackService
	ConnManager *events.ConnectionManager
	Scheduler   Dispatcher
	Pool        *worker.Pool
	Monitor     *worker.Monitor
}

// Server is the HTTP API server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	echo   *echo.Echo
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		echo:   echo.New(),
		logger: logger.With("component", "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	g := e.Group("/api/v1")

	g.POST("/chat", s.chatHandler)

	g.GET("/missions", s.listMissionsHandler)
	g.GET("/missions/:id", s.getMissionHandler)
	g.GET("/missions/:id/events", s.missionEventsHandler)
	g.POST("/missions/:id/update", s.updateMissionHandler)
	g.PUT("/missions/:id/schedule", s.scheduleMissionHandler)
	g.POST("/missions/:id/approve", s.approveMissionHandler)
	g.POST("/missions/:id/survey", s.surveyHandler)

	g.POST("/controls/request", s.requestControlHandler)
	g.POST("/controls/:id/approve", s.approveControlHandler)
	g.POST("/controls/:id/reject", s.rejectControlHandler)
	g.GET("/controls/:id", s.getControlHandler)
	g.GET("/controls", s.listControlsHandler)

	g.POST("/feedback", s.feedbackHandler)

	g.GET("/stream-health/:mission_id", s.streamHealthHandler)

	g.GET("/system/health", s.systemHealthHandler)
	g.GET("/system/workers", s.systemWorkersHandler)
	g.POST("/system/acknowledge", s.acknowledgeHandler)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws/stream/:mission_id", s.wsStreamHandler)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start runs the listener until Shutdown or a listen error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
