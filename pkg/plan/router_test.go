package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/tools"
)

type staticPool struct{ workers []*models.WorkerInfo }

func (p *staticPool) IdleWorkers() []*models.WorkerInfo { return p.workers }

func idleWorker(id string, completed int) *models.WorkerInfo {
	return &models.WorkerInfo{
		WorkerID:                   id,
		Status:                     models.WorkerIdle,
		TasksCompletedSinceRestart: completed,
	}
}

func TestRouter_DecisionTree(t *testing.T) {
	r := NewRouter(tools.NewRegistry())
	withWorkers := &staticPool{workers: []*models.WorkerInfo{idleWorker("w-1", 0)}}
	empty := &staticPool{}

	cases := []struct {
		name     string
		kind     string
		priority models.Priority
		pool     PoolView
		want     models.Lane
	}{
		{"requires_api always cloud", "api_call", models.PriorityNormal, withWorkers, models.LaneCloud},
		{"urgent goes cloud", "web_navigate", models.PriorityUrgent, withWorkers, models.LaneCloud},
		{"no local capacity", "web_navigate", models.PriorityNormal, empty, models.LaneCloud},
		{"browser work stays local", "web_extract", models.PriorityNormal, withWorkers, models.LaneLocal},
		{"form submit stays local", "form_submit", models.PriorityNormal, withWorkers, models.LaneLocal},
		{"compute work goes cloud", "data_analyze", models.PriorityNormal, withWorkers, models.LaneCloud},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := &models.Task{TaskID: "t-1", ActionKind: tc.kind}
			assert.Equal(t, tc.want, r.Route(task, tc.priority, tc.pool))
		})
	}
}

func TestRouter_PickLocalWorkerTieBreak(t *testing.T) {
	r := NewRouter(tools.NewRegistry())

	pool := &staticPool{workers: []*models.WorkerInfo{
		idleWorker("w-3", 5),
		idleWorker("w-2", 2),
		idleWorker("w-1", 2),
	}}

	picked := r.PickLocalWorker(pool)
	require.NotNil(t, picked)
	assert.Equal(t, "w-1", picked.WorkerID)

	assert.Nil(t, r.PickLocalWorker(&staticPool{}))
}
