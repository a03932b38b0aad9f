package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pathfind-io/pathfinder/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrMissionNotFound) ||
		errors.Is(err, services.ErrTaskNotFound) ||
		errors.Is(err, services.ErrControlNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrMissionTerminal) {
		return echo.NewHTTPError(http.StatusConflict, "mission is in a terminal state")
	}
	if errors.Is(err, services.ErrMissionNotMutable) {
		return echo.NewHTTPError(http.StatusConflict, "mission is no longer mutable")
	}
	if errors.Is(err, services.ErrDuplicateMission) {
		return echo.NewHTTPError(http.StatusConflict, "duplicate mission within the dedup window")
	}
	if errors.Is(err, services.ErrAlreadyDecided) {
		return echo.NewHTTPError(http.StatusConflict, "control request is already decided")
	}
	if errors.Is(err, services.ErrNotPausable) {
		return echo.NewHTTPError(http.StatusConflict, "mission is not in a pausable state")
	}
	if errors.Is(err, services.ErrSurveyAlreadyRecorded) {
		return echo.NewHTTPError(http.StatusConflict, "survey already recorded for this mission")
	}
	if errors.Is(err, services.ErrSelfApproval) {
		return echo.NewHTTPError(http.StatusForbidden, "approver must differ from the submitting operator")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
