// Package store provides durable, strongly-ordered storage of missions,
// tasks, and their append-only event logs. Events are the sole source of
// truth; mission and task records are materialized projections rebuilt by
// replaying the log. Two engines implement the Store interface: postgres
// (durable) and memory (tests and single-node deployments).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Sentinel errors shared by all engines.
var (
	// ErrMissionNotFound is returned when the mission id is unknown.
	ErrMissionNotFound = errors.New("mission not found")

	// ErrTaskNotFound is returned when the task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrMissionTerminal is returned when a non-audit event is appended to
	// a mission in a terminal state.
	ErrMissionTerminal = errors.New("mission is in a terminal state")

	// ErrDuplicateMission is returned when the same owner submits an
	// identical objective within the duplicate window.
	ErrDuplicateMission = errors.New("duplicate mission")

	// ErrControlNotFound is returned when the control request id is unknown.
	ErrControlNotFound = errors.New("control request not found")

	// ErrStorageUnavailable wraps durable log write failures. The affected
	// mission's projection is not updated.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSchemaVersion aborts startup when the persisted snapshot schema is
	// newer than this binary understands.
	ErrSchemaVersion = errors.New("unknown snapshot schema version")
)

// SchemaVersion is the current snapshot/log schema. Startup aborts on
// persisted versions above it.
const SchemaVersion = 1

// Store is the mission store contract. All writes for one mission are
// serialized; reads are served from memory and never block on storage.
type Store interface {
	// CreateMission registers a PROPOSED mission and appends its
	// MISSION_START event. Returns ErrDuplicateMission when the same owner
	// submitted an identical objective inside the duplicate window.
	CreateMission(ctx context.Context, mission *models.Mission) (*models.Event, error)

	// AppendEvent durably appends one event and applies it to the
	// projection. The sequence number is assigned atomically. Terminal
	// missions accept audit events only.
	AppendEvent(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error)

	// GetMission returns a consistent snapshot of the projection.
	GetMission(ctx context.Context, missionID string) (*models.Mission, error)

	// ListMissions returns projections matching the filter, newest first.
	ListMissions(ctx context.Context, filter models.MissionFilter) ([]*models.Mission, error)

	// GetTask returns a consistent snapshot of one task.
	GetTask(ctx context.Context, taskID string) (*models.Task, error)

	// ListTasks returns a mission's tasks in scheduling order.
	ListTasks(ctx context.Context, missionID string) ([]*models.Task, error)

	// ListEvents returns events with sequence_number > afterSeq, ascending,
	// capped at limit (0 means no cap). Backs the stream replay API.
	ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]*models.Event, error)

	// Control request persistence.
	SaveControl(ctx context.Context, req *models.ControlRequest) error
	GetControl(ctx context.Context, requestID string) (*models.ControlRequest, error)
	ListControls(ctx context.Context, status models.ControlStatus) ([]*models.ControlRequest, error)

	// Tool profile persistence for the scorer.
	SaveProfile(ctx context.Context, profile *models.ToolProfile) error
	GetProfile(ctx context.Context, tool, domain string) (*models.ToolProfile, error)
	ListProfiles(ctx context.Context) ([]*models.ToolProfile, error)

	// Feedback record persistence.
	SaveFeedback(ctx context.Context, rec *models.FeedbackRecord) error
	ListFeedback(ctx context.Context, tool, domain string) ([]*models.FeedbackRecord, error)

	// PruneMissions removes events, snapshots, and projections of terminal
	// missions that finished before the cutoff. Returns the pruned count.
	PruneMissions(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the engine's resources.
	Close() error
}
