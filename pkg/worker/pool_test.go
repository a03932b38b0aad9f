package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

type fakeSizer struct {
	safe   int
	growth bool
	drain  bool
}

func (s *fakeSizer) SafeWorkerCount() int { return s.safe }
func (s *fakeSizer) AllowGrowth() bool    { return s.growth }
func (s *fakeSizer) ShouldDrainHalf() bool {
	return s.drain
}

// trackingFactory hands out stub sessions and remembers them.
type trackingFactory struct {
	mu       sync.Mutex
	sessions []*StubSession
}

func (f *trackingFactory) new(ctx context.Context) (Session, error) {
	s, _ := NewStubSession(ctx)
	f.mu.Lock()
	f.sessions = append(f.sessions, s.(*StubSession))
	f.mu.Unlock()
	return s, nil
}

func testPoolConfig(size int) config.PoolConfig {
	cfg := config.DefaultPoolConfig()
	cfg.Size = size
	cfg.Mode = config.WorkerModeStub
	cfg.CheckoutTimeout = 500 * time.Millisecond
	return cfg
}

func newTestPool(t *testing.T, size int, sizer Sizer) (*Pool, *trackingFactory) {
	t.Helper()
	f := &trackingFactory{}
	p := NewPool(testPoolConfig(size), f.new, sizer, nil)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)
	return p, f
}

func TestPool_CheckoutExhaustion(t *testing.T) {
	p, _ := newTestPool(t, 2, &fakeSizer{safe: 10, growth: true})

	l1, err := p.Checkout("task-1")
	require.NoError(t, err)
	l2, err := p.Checkout("task-2")
	require.NoError(t, err)
	assert.NotEqual(t, l1.WorkerID, l2.WorkerID)

	_, err = p.Checkout("task-3")
	assert.ErrorIs(t, err, ErrNoWorkersAvailable)

	p.Checkin(context.Background(), l1.WorkerID, true)
	l3, err := p.Checkout("task-3")
	require.NoError(t, err)
	assert.Equal(t, l1.WorkerID, l3.WorkerID)
}

func TestPool_CheckoutPrefersLeastLoaded(t *testing.T) {
	p, _ := newTestPool(t, 2, &fakeSizer{safe: 10, growth: true})
	ctx := context.Background()

	// Give worker-001 a completed task so worker-002 becomes least loaded.
	lease, err := p.Checkout("warmup")
	require.NoError(t, err)
	first := lease.WorkerID
	p.Checkin(ctx, first, true)

	next, err := p.Checkout("task-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, next.WorkerID)
}

func TestPool_CheckinClearsSessionState(t *testing.T) {
	p, f := newTestPool(t, 1, &fakeSizer{safe: 10, growth: true})
	ctx := context.Background()

	lease, err := p.Checkout("task-1")
	require.NoError(t, err)
	p.Checkin(ctx, lease.WorkerID, true)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.sessions[0].Resets)
}

func TestPool_SessionLimitRecycles(t *testing.T) {
	cfg := testPoolConfig(1)
	cfg.SessionLimit = 2
	f := &trackingFactory{}
	p := NewPool(cfg, f.new, &fakeSizer{safe: 10, growth: true}, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		lease, err := p.Checkout("task")
		require.NoError(t, err)
		p.Checkin(ctx, lease.WorkerID, true)
	}

	// The session hit its limit and was replaced with a fresh one.
	snapshot := p.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Zero(t, snapshot[0].TasksCompletedSinceRestart)
	f.mu.Lock()
	assert.Len(t, f.sessions, 2)
	f.mu.Unlock()
}

func TestPool_ScaleBoundedByMonitor(t *testing.T) {
	sizer := &fakeSizer{safe: 2, growth: true}
	p, _ := newTestPool(t, 2, sizer)

	p.Scale(context.Background(), 5)
	assert.Len(t, p.Snapshot(), 2)

	sizer.safe = 4
	p.Scale(context.Background(), 5)
	assert.Len(t, p.Snapshot(), 4)
}

func TestPool_ShrinkDrainsBusyWorkers(t *testing.T) {
	p, _ := newTestPool(t, 2, &fakeSizer{safe: 10, growth: true})
	ctx := context.Background()

	lease, err := p.Checkout("task-1")
	require.NoError(t, err)

	p.Scale(ctx, 1)

	var draining bool
	for _, w := range p.Snapshot() {
		if w.WorkerID == lease.WorkerID {
			draining = w.Status == models.WorkerDraining
		}
	}
	assert.True(t, draining)

	// The draining worker leaves at checkin instead of going idle.
	p.Checkin(ctx, lease.WorkerID, true)
	assert.Len(t, p.Snapshot(), 1)
}

func TestPool_ProbeFailuresReplaceWorker(t *testing.T) {
	p, f := newTestPool(t, 1, &fakeSizer{safe: 10, growth: true})
	ctx := context.Background()

	f.mu.Lock()
	f.sessions[0].FailProbes = true
	f.mu.Unlock()

	// Below the threshold after one failure, replaced after the second.
	p.ProbeOnce(ctx)
	f.mu.Lock()
	launched := len(f.sessions)
	f.mu.Unlock()
	assert.Equal(t, 1, launched)

	p.ProbeOnce(ctx)
	f.mu.Lock()
	launched = len(f.sessions)
	f.mu.Unlock()
	assert.Equal(t, 2, launched)
	require.Len(t, p.Snapshot(), 1)
	assert.Equal(t, models.WorkerIdle, p.Snapshot()[0].Status)
}

func TestPool_CheckoutWaitUnblocksOnCheckin(t *testing.T) {
	p, _ := newTestPool(t, 1, &fakeSizer{safe: 10, growth: true})
	ctx := context.Background()

	lease, err := p.Checkout("task-1")
	require.NoError(t, err)

	done := make(chan *Lease, 1)
	go func() {
		l, err := p.CheckoutWait(ctx, "task-2")
		if err == nil {
			done <- l
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	p.Checkin(ctx, lease.WorkerID, true)

	select {
	case l, ok := <-done:
		require.True(t, ok)
		require.NotNil(t, l)
	case <-time.After(time.Second):
		t.Fatal("CheckoutWait did not unblock")
	}
}

func TestPool_EmergencyDrainHalvesPool(t *testing.T) {
	sizer := &fakeSizer{safe: 10, growth: true}
	p, _ := newTestPool(t, 4, sizer)

	sizer.drain = true
	sizer.growth = false
	p.ProbeOnce(context.Background())

	assert.Len(t, p.Snapshot(), 2)
}

func TestPool_RecycleReplacesWorker(t *testing.T) {
	p, f := newTestPool(t, 1, &fakeSizer{safe: 10, growth: true})
	ctx := context.Background()

	lease, err := p.Checkout("task-1")
	require.NoError(t, err)
	p.Recycle(ctx, lease.WorkerID)

	snapshot := p.Snapshot()
	require.Len(t, snapshot, 1)
	assert.NotEqual(t, lease.WorkerID, snapshot[0].WorkerID)
	f.mu.Lock()
	assert.True(t, f.sessions[0].closed)
	f.mu.Unlock()
}
