// Package cleanup enforces data retention: terminal missions older than the
// configured TTL lose their events and snapshots, and expired artifacts are
// dropped with them.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

// Service runs the periodic retention sweep. All operations are idempotent;
// a missed pass is made up by the next one.
type Service struct {
	cfg    config.RetentionConfig
	store  store.Store
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention sweeper.
func NewService(cfg config.RetentionConfig, st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  st,
		logger: logger.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop. Disabled retention is a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention sweeper started",
		"mission_ttl", s.cfg.MissionTTL, "interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep prunes terminal missions that finished before now minus the TTL and
// returns the pruned count.
func (s *Service) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.cfg.MissionTTL)
	count, err := s.store.PruneMissions(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed", "error", err)
		return 0
	}
	if count > 0 {
		s.logger.Info("Retention sweep pruned missions", "count", count, "cutoff", cutoff)
	}
	return count
}
