// Pathfinder mission engine: turns chat objectives into supervised missions,
// dispatches their tasks across local browser workers and the cloud lane, and
// streams every state change to observers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pathfind-io/pathfinder/pkg/api"
	"github.com/pathfind-io/pathfinder/pkg/artifacts"
	"github.com/pathfind-io/pathfinder/pkg/cleanup"
	"github.com/pathfind-io/pathfinder/pkg/cloud"
	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/control"
	"github.com/pathfind-io/pathfinder/pkg/database"
	"github.com/pathfind-io/pathfinder/pkg/events"
	"github.com/pathfind-io/pathfinder/pkg/learning"
	"github.com/pathfind-io/pathfinder/pkg/plan"
	"github.com/pathfind-io/pathfinder/pkg/redact"
	"github.com/pathfind-io/pathfinder/pkg/sched"
	"github.com/pathfind-io/pathfinder/pkg/services"
	"github.com/pathfind-io/pathfinder/pkg/session"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/pkg/tools"
	"github.com/pathfind-io/pathfinder/pkg/version"
	"github.com/pathfind-io/pathfinder/pkg/worker"
)

const sessionIdleTTL = 30 * time.Minute

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	slog.Info("Starting Pathfinder",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the mission store
	dupWindow := time.Duration(cfg.Engine.DuplicateWindowS) * time.Second
	var st store.Store
	var dbClient *database.Client
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()

		pgStore, err := store.NewPostgresStore(ctx, dbClient.Pool(), slog.Default(), store.PostgresOptions{
			SnapshotEvery: int64(cfg.Storage.SnapshotIntervalEvents),
			DupWindow:     dupWindow,
		})
		if err != nil {
			slog.Error("Failed to open postgres store", "error", err)
			os.Exit(1)
		}
		st = pgStore
		slog.Info("Mission store ready", "backend", "postgres")
	default:
		st = store.NewMemoryStore(dupWindow)
		slog.Info("Mission store ready", "backend", "memory")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	// 3. Open the artifact store
	var arts artifacts.Store
	switch cfg.Artifacts.Backend {
	case config.ArtifactBackendRedis:
		password := os.Getenv(cfg.Artifacts.Redis.PasswordEnv)
		redisStore, err := artifacts.NewRedisStore(ctx,
			cfg.Artifacts.Redis.Addr, password, cfg.Artifacts.Redis.DB, cfg.Artifacts.TTL)
		if err != nil {
			slog.Error("Failed to connect to redis artifact store", "error", err)
			os.Exit(1)
		}
		arts = redisStore
		slog.Info("Artifact store ready", "backend", "redis", "addr", cfg.Artifacts.Redis.Addr)
	default:
		arts = artifacts.NewMemoryStore(cfg.Artifacts.TTL)
		slog.Info("Artifact store ready", "backend", "memory")
	}

	// 4. Event pipeline: scrubber -> publisher -> broker -> websocket manager
	scrubber := redact.NewScrubber(slog.Default())
	broker := events.NewBroker(cfg.Server.StreamBuffer)
	publisher := events.NewPublisher(st, broker, scrubber)
	connManager := events.NewConnectionManager(broker, st, slog.Default(),
		cfg.Server.WriteTimeout, cfg.Server.CatchupLimit)

	// 5. Learning scorer, primed from persisted profiles
	scorer := learning.NewScorer(st, publisher, cfg.Learning.ImportanceThreshold, slog.Default())
	if err := scorer.Load(ctx); err != nil {
		slog.Error("Failed to load tool profiles", "error", err)
		os.Exit(1)
	}

	// 6. Crash recovery: re-arm tasks a previous process left mid-flight
	recovered, err := control.Recover(ctx, st, publisher, slog.Default())
	if err != nil {
		slog.Error("Crash recovery failed", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		slog.Info("Crash recovery re-armed tasks", "count", recovered)
	}

	// 7. Resource monitor and worker pool
	monitor := worker.NewMonitor(cfg.Monitor, slog.Default())
	monitor.Start(ctx)
	defer monitor.Stop()

	factory := worker.SessionFactory(worker.NewRodSession)
	if cfg.Pool.Mode == config.WorkerModeStub {
		factory = worker.NewStubSession
	}
	pool := worker.NewPool(cfg.Pool, factory, monitor, slog.Default())
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 8. Execution lanes
	registry := tools.NewRegistry()
	var cloudClient *cloud.Client
	if cfg.Cloud.Enabled() {
		cloudClient = cloud.NewClient(cfg.Cloud, slog.Default())
		slog.Info("Cloud lane enabled", "base_url", cfg.Cloud.BaseURL)
	}

	// 9. Executor, scheduler, and the control gate
	locks := control.NewLocks()
	backoff := sched.NewBackoff(cfg.Engine)
	executor := control.NewExecutor(cfg.Engine, st, publisher, registry, pool,
		cloudClient, scorer, locks, arts, backoff, slog.Default())
	scheduler := sched.NewScheduler(cfg.Scheduler, cfg.Engine, st, publisher,
		plan.NewRouter(registry), pool, executor, locks, monitor, slog.Default())
	manager := control.NewManager(cfg.Engine, st, publisher, locks, executor, scheduler, slog.Default())

	// 10. Services and chat sessions
	sessions := session.NewManager(sessionIdleTTL, slog.Default())
	sessions.Start()
	defer sessions.Stop()

	missionSvc := services.NewMissionService(cfg.Engine, st, publisher, registry, scheduler, slog.Default())
	defer missionSvc.Close()
	controlSvc := services.NewControlService(manager)
	feedbackSvc := services.NewFeedbackService(st, scorer)
	chatSvc := services.NewChatService(missionSvc, sessions, slog.Default())

	// Recurrence respawn hooks into mission completion; delayed triggers
	// survive restarts by re-arming from the store.
	executor.SetOnFinished(missionSvc.HandleFinished)
	if err := missionSvc.ResumeTriggers(ctx); err != nil {
		slog.Error("Failed to re-arm mission triggers", "error", err)
		os.Exit(1)
	}

	scheduler.Start(ctx)

	// 11. Retention sweeper
	sweeper := cleanup.NewService(cfg.Retention, st, slog.Default())
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 12. HTTP server
	httpServer := api.NewServer(cfg.Server, api.Deps{
		Chat:        chatSvc,
		Missions:    missionSvc,
		Controls:    controlSvc,
		Feedback:    feedbackSvc,
		ConnManager: connManager,
		Scheduler:   scheduler,
		Pool:        pool,
		Monitor:     monitor,
	}, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Pathfinder started",
		"pool_size", cfg.Pool.Size,
		"storage_backend", cfg.Storage.Backend,
		"cloud_lane", cfg.Cloud.Enabled())

	// 13. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 14. Graceful shutdown: stop accepting work, drain dispatch, then workers
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
	case <-time.After(time.Duration(cfg.Engine.PerTaskTimeoutS) * time.Second):
		slog.Warn("Scheduler shutdown timeout exceeded, in-flight tasks will be crash-recovered")
	}

	pool.Stop()

	slog.Info("Shutdown complete")
}
