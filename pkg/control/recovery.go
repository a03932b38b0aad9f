package control

import (
	"context"
	"log/slog"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/sched"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// Recover scans non-terminal missions for tasks a crash left in EXECUTING or
// ASSIGNED and marks them RETRYING. The crashed attempt was already counted
// at TASK_STARTED, so the attempt number carries over unchanged. Returns the
// number of tasks recovered.
func Recover(ctx context.Context, st store.Store, appender sched.Appender, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "recovery")

	recovered := 0
	for _, status := range []models.MissionStatus{
		models.MissionStatusRunning,
		models.MissionStatusQueued,
		models.MissionStatusPaused,
	} {
		missions, err := st.ListMissions(ctx, models.MissionFilter{Status: status})
		if err != nil {
			return recovered, err
		}
		for _, m := range missions {
			tasks, err := st.ListTasks(ctx, m.MissionID)
			if err != nil {
				return recovered, err
			}
			for _, t := range tasks {
				if t.Status != models.TaskStatusExecuting && t.Status != models.TaskStatusAssigned {
					continue
				}
				_, err := appender.Append(ctx, m.MissionID, models.EventTaskAttempt, models.TaskAttemptPayload{
					TaskID:  t.TaskID,
					Attempt: t.AttemptCount,
					Status:  models.TaskStatusRetrying,
					Reason:  "orphaned by restart",
				})
				if err != nil {
					return recovered, err
				}
				log.Warn("Recovered orphaned task",
					"mission_id", m.MissionID, "task_id", t.TaskID, "attempt", t.AttemptCount)
				recovered++
			}
		}
	}
	return recovered, nil
}
