// Package e2e runs the whole engine in-process: memory store, stub browser
// workers, a fast scheduler tick, and the real HTTP surface. The scenarios
// drive missions through chat intake exactly the way an operator would.
package e2e

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/api"
	"github.com/pathfind-io/pathfinder/pkg/artifacts"
	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/control"
	"github.com/pathfind-io/pathfinder/pkg/events"
	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/plan"
	"github.com/pathfind-io/pathfinder/pkg/sched"
	"github.com/pathfind-io/pathfinder/pkg/services"
	"github.com/pathfind-io/pathfinder/pkg/session"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/pkg/tools"
	"github.com/pathfind-io/pathfinder/pkg/worker"
)

const (
	ownerID    = "owner-1"
	operatorID = "op-1"
	approverID = "op-2"

	waitTimeout = 10 * time.Second
	waitTick    = 10 * time.Millisecond
)

// openSizer lets the pool launch its configured size regardless of host
// memory.
type openSizer struct{}

func (openSizer) SafeWorkerCount() int  { return 10 }
func (openSizer) AllowGrowth() bool     { return true }
func (openSizer) ShouldDrainHalf() bool { return false }

// stubFactory hands out stub browser sessions and remembers them so a
// scenario can break every session it ever created.
type stubFactory struct {
	mu       sync.Mutex
	failWith error
	sessions []*worker.StubSession
}

func (f *stubFactory) new(ctx context.Context) (worker.Session, error) {
	s, _ := worker.NewStubSession(ctx)
	stub := s.(*worker.StubSession)
	f.mu.Lock()
	stub.FailCalls = f.failWith
	f.sessions = append(f.sessions, stub)
	f.mu.Unlock()
	return s, nil
}

func (f *stubFactory) failAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
	for _, s := range f.sessions {
		s.FailCalls = err
	}
}

// app is one fully wired engine instance.
type app struct {
	cfg       *config.Config
	store     *store.MemoryStore
	broker    *events.Broker
	publisher *events.Publisher
	conns     *events.ConnectionManager
	registry  *tools.Registry
	locks     *control.Locks
	scorer    *learning.Scorer
	arts      *artifacts.MemoryStore
	factory   *stubFactory
	pool      *worker.Pool
	executor  *control.Executor
	scheduler *sched.Scheduler
	manager   *control.Manager
	missions  *services.MissionService
	controls  *services.ControlService
	feedback  *services.FeedbackService
	chat      *services.ChatService
	server    *api.Server
}

type option func(*config.Config)

func withEngine(mutate func(*config.EngineConfig)) option {
	return func(cfg *config.Config) { mutate(&cfg.Engine) }
}

func withPoolSize(n int) option {
	return func(cfg *config.Config) { cfg.Pool.Size = n }
}

// startApp wires the full engine the way cmd/pathfinder does, swapped onto
// in-memory backends and millisecond backoffs. Everything is torn down via
// t.Cleanup in reverse start order.
func startApp(t *testing.T, opts ...option) *app {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Pool.Mode = config.WorkerModeStub
	cfg.Pool.Size = 2
	cfg.Scheduler.TickInterval = 10 * time.Millisecond
	cfg.Scheduler.Lookahead = 50 * time.Millisecond
	for _, opt := range opts {
		opt(cfg)
	}

	a := &app{cfg: cfg}
	a.store = store.NewMemoryStore(0)
	t.Cleanup(func() { _ = a.store.Close() })

	a.broker = events.NewBroker(cfg.Server.StreamBuffer)
	a.publisher = events.NewPublisher(a.store, a.broker, nil)
	a.conns = events.NewConnectionManager(a.broker, a.store, slog.Default(),
		time.Second, cfg.Server.CatchupLimit)

	a.scorer = learning.NewScorer(a.store, a.publisher, cfg.Learning.ImportanceThreshold, slog.Default())
	require.NoError(t, a.scorer.Load(ctx))

	a.factory = &stubFactory{}
	a.pool = worker.NewPool(cfg.Pool, a.factory.new, openSizer{}, nil)
	require.NoError(t, a.pool.Start(ctx))
	t.Cleanup(a.pool.Stop)

	a.registry = tools.NewRegistry()
	a.locks = control.NewLocks()
	a.arts = artifacts.NewMemoryStore(0)

	backoff := sched.NewBackoff(cfg.Engine)
	backoff.SetUnit(time.Millisecond)
	a.executor = control.NewExecutor(cfg.Engine, a.store, a.publisher, a.registry,
		a.pool, nil, a.scorer, a.locks, a.arts, backoff, nil)
	a.executor.SetKillGrace(50 * time.Millisecond)

	a.scheduler = sched.NewScheduler(cfg.Scheduler, cfg.Engine, a.store, a.publisher,
		plan.NewRouter(a.registry), a.pool, a.executor, a.locks, nil, nil)
	a.scheduler.Backoff().SetUnit(time.Millisecond)
	a.manager = control.NewManager(cfg.Engine, a.store, a.publisher, a.locks,
		a.executor, a.scheduler, nil)

	sessions := session.NewManager(time.Hour, nil)
	sessions.Start()
	t.Cleanup(sessions.Stop)

	a.missions = services.NewMissionService(cfg.Engine, a.store, a.publisher,
		a.registry, a.scheduler, nil)
	t.Cleanup(a.missions.Close)
	a.controls = services.NewControlService(a.manager)
	a.feedback = services.NewFeedbackService(a.store, a.scorer)
	a.chat = services.NewChatService(a.missions, sessions, nil)
	a.executor.SetOnFinished(a.missions.HandleFinished)

	a.scheduler.Start(ctx)
	t.Cleanup(a.scheduler.Stop)

	a.server = api.NewServer(cfg.Server, api.Deps{
		Chat:        a.chat,
		Missions:    a.missions,
		Controls:    a.controls,
		Feedback:    a.feedback,
		ConnManager: a.conns,
		Scheduler:   a.scheduler,
		Pool:        a.pool,
		Monitor:     worker.NewMonitor(cfg.Monitor, nil),
	}, slog.Default())

	return a
}
