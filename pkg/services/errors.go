package services

import (
	"errors"
	"fmt"

	"github.com/pathfind-io/pathfinder/pkg/control"
	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// Domain sentinels surfaced by the service layer. Store and control gate
// sentinels are re-exported so API handlers depend on one package.
var (
	ErrMissionNotFound  = store.ErrMissionNotFound
	ErrTaskNotFound     = store.ErrTaskNotFound
	ErrMissionTerminal  = store.ErrMissionTerminal
	ErrDuplicateMission = store.ErrDuplicateMission
	ErrControlNotFound  = store.ErrControlNotFound
	ErrAlreadyDecided   = control.ErrAlreadyDecided
	ErrSelfApproval     = control.ErrSelfApproval
	ErrNotPausable      = control.ErrNotPausable

	// ErrMissionNotMutable rejects policy updates once a mission left the
	// PROPOSED / CLARIFICATION_NEEDED states.
	ErrMissionNotMutable = errors.New("mission is no longer mutable")

	// ErrSurveyAlreadyRecorded rejects a second survey for the same mission.
	ErrSurveyAlreadyRecorded = learning.ErrSurveyDuplicate
)

// ValidationError wraps field-specific validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
