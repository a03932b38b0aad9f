package models

import "time"

// WorkerStatus is the lifecycle state of a pooled browser worker.
type WorkerStatus string

const (
	// WorkerIdle means ready for checkout.
	WorkerIdle WorkerStatus = "IDLE"
	// WorkerCheckedOut means exclusively held by a single task.
	WorkerCheckedOut WorkerStatus = "CHECKED_OUT"
	// WorkerUnhealthy is terminal for this browser session; the pool replaces it.
	WorkerUnhealthy WorkerStatus = "UNHEALTHY"
	// WorkerDraining is removed from the pool at its next checkin.
	WorkerDraining WorkerStatus = "DRAINING"
)

// IsValid checks if the status is a known worker status.
func (s WorkerStatus) IsValid() bool {
	switch s {
	case WorkerIdle, WorkerCheckedOut, WorkerUnhealthy, WorkerDraining:
		return true
	default:
		return false
	}
}

// WorkerInfo is a point-in-time snapshot of one pooled worker, exposed for
// health endpoints and scheduling decisions. The pool owns the live state.
type WorkerInfo struct {
	WorkerID                   string       `json:"worker_id"`
	Status                     WorkerStatus `json:"status"`
	TasksCompletedSinceRestart int          `json:"tasks_completed_since_restart"`
	LastHealthOKAt             time.Time    `json:"last_health_ok_at"`
	CurrentTaskID              string       `json:"current_task_id,omitempty"`
}
