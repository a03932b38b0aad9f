package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Sizer is the resource monitor surface the pool obeys.
type Sizer interface {
	SafeWorkerCount() int
	AllowGrowth() bool
	ShouldDrainHalf() bool
}

// Lease is one checked-out worker. The holder must Checkin when done.
type Lease struct {
	WorkerID string
	Session  Session
}

type workerState struct {
	info       models.WorkerInfo
	session    Session
	probeFails int
}

// Pool owns the worker set. Checkout grants exclusive use of one session;
// checkin clears per-task browser state and recycles sessions that hit
// their task limit.
type Pool struct {
	cfg     config.PoolConfig
	factory SessionFactory
	sizer   Sizer
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*workerState
	target  int
	nextID  int
	stopped bool

	// idleCh wakes blocked CheckoutWait callers; buffered so a signal is
	// never lost when nobody is waiting yet.
	idleCh chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool. A nil factory selects the factory matching the
// configured mode: rod sessions for headless, stubs otherwise.
func NewPool(cfg config.PoolConfig, factory SessionFactory, sizer Sizer, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		if cfg.Mode == config.WorkerModeHeadless {
			factory = NewRodSession
		} else {
			factory = NewStubSession
		}
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		sizer:   sizer,
		logger:  logger.With("component", "pool"),
		workers: make(map[string]*workerState),
		target:  cfg.Size,
		idleCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start grows the pool to its initial size and begins health probing.
func (p *Pool) Start(ctx context.Context) error {
	p.Scale(ctx, p.cfg.Size)
	p.mu.Lock()
	launched := len(p.workers)
	p.mu.Unlock()
	if launched == 0 {
		return fmt.Errorf("failed to launch any worker")
	}
	p.wg.Add(1)
	go p.probeLoop(ctx)
	p.logger.Info("Worker pool started", "workers", launched, "mode", p.cfg.Mode)
	return nil
}

// Stop tears down every session.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for id, w := range p.workers {
		if w.session != nil {
			_ = w.session.Close()
		}
		delete(p.workers, id)
	}
	metrics.WorkerPoolSize.Set(0)
	metrics.WorkersBusy.Set(0)
}

// Checkout grants the least-loaded idle worker, without blocking.
func (p *Pool) Checkout(taskID string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkoutLocked(taskID)
}

// CheckoutWait blocks until a worker frees up, the configured checkout
// timeout passes, or the context ends.
func (p *Pool) CheckoutWait(ctx context.Context, taskID string) (*Lease, error) {
	deadline := time.NewTimer(p.cfg.CheckoutTimeout)
	defer deadline.Stop()
	for {
		p.mu.Lock()
		lease, err := p.checkoutLocked(taskID)
		p.mu.Unlock()
		if err == nil {
			return lease, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrNoWorkersAvailable
		case <-p.stopCh:
			return nil, ErrNoWorkersAvailable
		case <-p.idleCh:
		}
	}
}

func (p *Pool) checkoutLocked(taskID string) (*Lease, error) {
	var pick *workerState
	for _, w := range p.workers {
		if w.info.Status != models.WorkerIdle {
			continue
		}
		if pick == nil || lessLoaded(w, pick) {
			pick = w
		}
	}
	if pick == nil {
		return nil, ErrNoWorkersAvailable
	}
	pick.info.Status = models.WorkerCheckedOut
	pick.info.CurrentTaskID = taskID
	metrics.WorkersBusy.Inc()
	return &Lease{WorkerID: pick.info.WorkerID, Session: pick.session}, nil
}

func lessLoaded(a, b *workerState) bool {
	if a.info.TasksCompletedSinceRestart != b.info.TasksCompletedSinceRestart {
		return a.info.TasksCompletedSinceRestart < b.info.TasksCompletedSinceRestart
	}
	return a.info.WorkerID < b.info.WorkerID
}

// Checkin returns a worker. Per-task browser state is cleared; sessions at
// their task limit, draining workers, and failed resets are replaced.
func (p *Pool) Checkin(ctx context.Context, workerID string, completed bool) {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	metrics.WorkersBusy.Dec()
	w.info.CurrentTaskID = ""
	if completed {
		w.info.TasksCompletedSinceRestart++
	}

	draining := w.info.Status == models.WorkerDraining
	expired := w.info.TasksCompletedSinceRestart >= p.cfg.SessionLimit
	session := w.session
	p.mu.Unlock()

	resetErr := session.Reset(ctx)

	p.mu.Lock()
	draining = draining || w.info.Status == models.WorkerDraining
	overTarget := len(p.workers) > p.effectiveTargetLocked()
	switch {
	case draining || overTarget:
		p.removeLocked(workerID)
		p.mu.Unlock()
		return
	case expired || resetErr != nil:
		if resetErr != nil {
			p.logger.Warn("Session reset failed, replacing worker",
				"worker_id", workerID, "error", resetErr)
		}
		p.removeLocked(workerID)
		p.mu.Unlock()
		p.launchOne(ctx)
		return
	default:
		w.info.Status = models.WorkerIdle
		p.mu.Unlock()
		p.signalIdle()
	}
}

// signalIdle wakes one blocked CheckoutWait caller without ever blocking;
// the 1-slot buffer keeps the signal when nobody is waiting yet.
func (p *Pool) signalIdle() {
	select {
	case p.idleCh <- struct{}{}:
	default:
	}
}

// Recycle forcibly replaces a worker, healthy or not. Used when a killed
// task's worker must not serve anyone else.
func (p *Pool) Recycle(ctx context.Context, workerID string) {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if w.info.Status == models.WorkerCheckedOut {
		metrics.WorkersBusy.Dec()
	}
	p.removeLocked(workerID)
	under := len(p.workers) < p.effectiveTargetLocked()
	p.mu.Unlock()
	if under {
		p.launchOne(ctx)
	}
}

// Scale adjusts the pool toward target, bounded by the monitor's safe
// count. Surplus workers drain at their next checkin.
func (p *Pool) Scale(ctx context.Context, target int) {
	p.mu.Lock()
	p.target = target
	effective := p.effectiveTargetLocked()

	// Mark surplus busy workers DRAINING and drop surplus idle ones now.
	if len(p.workers) > effective {
		excess := len(p.workers) - effective
		for _, w := range p.sortedWorkersLocked() {
			if excess == 0 {
				break
			}
			switch w.info.Status {
			case models.WorkerIdle:
				p.removeLocked(w.info.WorkerID)
				excess--
			case models.WorkerCheckedOut:
				w.info.Status = models.WorkerDraining
				excess--
			}
		}
	}
	missing := effective - len(p.workers)
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		if p.sizer != nil && !p.sizer.AllowGrowth() && i > 0 {
			break
		}
		if !p.launchOne(ctx) {
			break
		}
	}
}

// Snapshot returns a copy of every worker's state.
func (p *Pool) Snapshot() []*models.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.WorkerInfo, 0, len(p.workers))
	for _, w := range p.sortedWorkersLocked() {
		info := w.info
		out = append(out, &info)
	}
	return out
}

// IdleWorkers returns workers available for checkout. Satisfies the
// router's pool view.
func (p *Pool) IdleWorkers() []*models.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.WorkerInfo, 0, len(p.workers))
	for _, w := range p.sortedWorkersLocked() {
		if w.info.Status == models.WorkerIdle {
			info := w.info
			out = append(out, &info)
		}
	}
	return out
}

// Session returns the live session for a worker id. Used by health probes
// in tests; task execution goes through the checkout lease.
func (p *Pool) Session(workerID string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[workerID]
	if !ok {
		return nil, false
	}
	return w.session, true
}

func (p *Pool) probeLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs one health sweep: probe every worker, replace those past
// the failure threshold, and apply the monitor's verdicts.
func (p *Pool) ProbeOnce(ctx context.Context) {
	p.mu.Lock()
	type probeTarget struct {
		id      string
		session Session
	}
	targets := make([]probeTarget, 0, len(p.workers))
	for id, w := range p.workers {
		targets = append(targets, probeTarget{id: id, session: w.session})
	}
	p.mu.Unlock()

	for _, t := range targets {
		err := t.session.Probe(ctx)

		p.mu.Lock()
		w, ok := p.workers[t.id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		if err == nil {
			w.probeFails = 0
			w.info.LastHealthOKAt = time.Now().UTC()
			p.mu.Unlock()
			continue
		}
		w.probeFails++
		p.logger.Warn("Worker health probe failed",
			"worker_id", t.id, "consecutive", w.probeFails, "error", err)
		if w.probeFails < p.cfg.ProbeFailureThreshold {
			p.mu.Unlock()
			continue
		}
		w.info.Status = models.WorkerUnhealthy
		busy := w.info.CurrentTaskID != ""
		p.removeLocked(t.id)
		if busy {
			metrics.WorkersBusy.Dec()
		}
		p.mu.Unlock()
		p.launchOne(ctx)
	}

	if p.sizer != nil {
		if p.sizer.ShouldDrainHalf() {
			p.drainHalf()
		}
		p.mu.Lock()
		target := p.target
		effective := p.effectiveTargetLocked()
		short := len(p.workers) < effective
		p.mu.Unlock()
		if short && p.sizer.AllowGrowth() {
			p.Scale(ctx, target)
		}
	}
}

// drainHalf sheds half the pool under emergency memory pressure. Idle
// workers go first; busy ones finish their task and drain at checkin.
func (p *Pool) drainHalf() {
	p.mu.Lock()
	defer p.mu.Unlock()
	toDrop := len(p.workers) / 2
	for _, w := range p.sortedWorkersLocked() {
		if toDrop == 0 {
			break
		}
		switch w.info.Status {
		case models.WorkerIdle:
			p.removeLocked(w.info.WorkerID)
			toDrop--
		case models.WorkerCheckedOut:
			w.info.Status = models.WorkerDraining
			toDrop--
		}
	}
	p.logger.Warn("Emergency drain engaged", "remaining", len(p.workers))
}

// launchOne starts a session with retries. Persistent failure lowers the
// pool target so the slot is not retried forever.
func (p *Pool) launchOne(ctx context.Context) bool {
	var session Session
	var err error
	for attempt := 1; attempt <= p.cfg.LaunchRetries; attempt++ {
		session, err = p.factory(ctx)
		if err == nil {
			break
		}
		p.logger.Warn("Worker launch failed",
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-p.stopCh:
			return false
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	if err != nil {
		p.mu.Lock()
		if p.target > 1 {
			p.target--
		}
		p.mu.Unlock()
		p.logger.Error("Worker launch failed permanently, lowering pool target",
			"error", err)
		return false
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = session.Close()
		return false
	}
	p.nextID++
	id := fmt.Sprintf("worker-%03d", p.nextID)
	p.workers[id] = &workerState{
		info: models.WorkerInfo{
			WorkerID:       id,
			Status:         models.WorkerIdle,
			LastHealthOKAt: time.Now().UTC(),
		},
		session: session,
	}
	metrics.WorkerPoolSize.Set(float64(len(p.workers)))
	p.mu.Unlock()
	p.signalIdle()
	return true
}

// removeLocked drops a worker and closes its session. Caller holds p.mu.
func (p *Pool) removeLocked(workerID string) {
	w, ok := p.workers[workerID]
	if !ok {
		return
	}
	if w.session != nil {
		_ = w.session.Close()
	}
	delete(p.workers, workerID)
	metrics.WorkerPoolSize.Set(float64(len(p.workers)))
}

func (p *Pool) effectiveTargetLocked() int {
	target := p.target
	if p.sizer != nil {
		if safe := p.sizer.SafeWorkerCount(); safe < target {
			target = safe
		}
	}
	if target < 0 {
		target = 0
	}
	return target
}

func (p *Pool) sortedWorkersLocked() []*workerState {
	out := make([]*workerState, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].info.WorkerID < out[j].info.WorkerID
	})
	return out
}
