package plan

import (
	"sort"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/tools"
)

// PoolView is the router's read-only window into the worker pool. The
// scheduler passes a snapshot taken at selection time.
type PoolView interface {
	// IdleWorkers returns workers currently available for checkout.
	IdleWorkers() []*models.WorkerInfo
}

// Router assigns execution lanes. Decisions consult the tool registry for
// action grades and the pool view for local capacity.
type Router struct {
	registry *tools.Registry
}

// NewRouter creates a router over the closed tool registry.
func NewRouter(registry *tools.Registry) *Router {
	return &Router{registry: registry}
}

// Route picks the lane for one task. Priority is the owning mission's class.
// The decision tree runs top to bottom; the first rule that fires wins.
func (r *Router) Route(task *models.Task, priority models.Priority, pool PoolView) models.Lane {
	def, known := r.registry.Get(task.ActionKind)
	if known && def.RequiresAPI {
		return models.LaneCloud
	}
	if priority == models.PriorityUrgent {
		return models.LaneCloud
	}
	if len(pool.IdleWorkers()) == 0 {
		return models.LaneCloud
	}
	if known && browserFamily(def) {
		return models.LaneLocal
	}
	return models.LaneCloud
}

// PickLocalWorker breaks ties between idle workers: least completed tasks
// since restart, then lowest worker id. Returns nil when no worker is idle.
func (r *Router) PickLocalWorker(pool PoolView) *models.WorkerInfo {
	idle := pool.IdleWorkers()
	if len(idle) == 0 {
		return nil
	}
	sorted := append([]*models.WorkerInfo(nil), idle...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TasksCompletedSinceRestart != sorted[j].TasksCompletedSinceRestart {
			return sorted[i].TasksCompletedSinceRestart < sorted[j].TasksCompletedSinceRestart
		}
		return sorted[i].WorkerID < sorted[j].WorkerID
	})
	return sorted[0]
}

// browserFamily reports whether the action executes inside a browser
// session, which is what the local lane provides.
func browserFamily(def *tools.Definition) bool {
	return def.ConflictClass == tools.ConflictBrowse || def.ConflictClass == tools.ConflictMutate
}
