package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// HealthCheck is one named component check inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /api/v1/system/health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// WorkersResponse is returned by GET /api/v1/system/workers.
type WorkersResponse struct {
	Workers         []*models.WorkerInfo `json:"workers"`
	Pressure        string               `json:"pressure,omitempty"`
	SafeWorkerCount int                  `json:"safe_worker_count,omitempty"`
}

// systemHealthHandler handles GET /api/v1/system/health.
// Only the engine's own components are checked; external lanes are excluded
// so an unhealthy cloud endpoint cannot get the process restarted.
func (s *Server) systemHealthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.deps.Scheduler != nil {
		if halted, reason := s.deps.Scheduler.Halted(); halted {
			status = healthStatusDegraded
			checks["dispatch"] = HealthCheck{Status: healthStatusDegraded, Message: "intake halted: " + reason}
		} else {
			checks["dispatch"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.deps.Pool != nil {
		if len(s.deps.Pool.Snapshot()) == 0 {
			status = healthStatusDegraded
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: "no workers available"}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.deps.Monitor != nil {
		level := s.deps.Monitor.Level()
		check := HealthCheck{Status: healthStatusHealthy, Message: level.String()}
		if level.String() != "NORMAL" {
			check.Status = healthStatusDegraded
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
		}
		checks["memory_pressure"] = check
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

// systemWorkersHandler handles GET /api/v1/system/workers.
func (s *Server) systemWorkersHandler(c *echo.Context) error {
	resp := WorkersResponse{Workers: []*models.WorkerInfo{}}

	if s.deps.Pool != nil {
		resp.Workers = s.deps.Pool.Snapshot()
	}
	if s.deps.Monitor != nil {
		resp.Pressure = s.deps.Monitor.Level().String()
		resp.SafeWorkerCount = s.deps.Monitor.SafeWorkerCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// acknowledgeHandler handles POST /api/v1/system/acknowledge.
// Clears the intake halt raised by a CRITICAL task failure.
func (s *Server) acknowledgeHandler(c *echo.Context) error {
	if s.deps.Scheduler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler is not available")
	}
	s.deps.Scheduler.Acknowledge()
	return c.JSON(http.StatusOK, map[string]string{"status": "acknowledged"})
}
