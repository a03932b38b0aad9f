package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
)

// PressureLevel grades host memory pressure. Levels restrict the pool
// progressively; they rise immediately and fall only with hysteresis.
type PressureLevel int

const (
	// PressureNormal places no restrictions.
	PressureNormal PressureLevel = iota
	// PressureSlow stops pool growth.
	PressureSlow
	// PressureThrottle additionally stops new task dispatch.
	PressureThrottle
	// PressureAlert raises an operator alert on top of throttling.
	PressureAlert
	// PressureEmergency drains half the pool.
	PressureEmergency
)

func (l PressureLevel) String() string {
	switch l {
	case PressureSlow:
		return "SLOW"
	case PressureThrottle:
		return "THROTTLE"
	case PressureAlert:
		return "ALERT"
	case PressureEmergency:
		return "EMERGENCY"
	default:
		return "NORMAL"
	}
}

// MemSample is one memory reading.
type MemSample struct {
	UsedPercent float64
	FreeBytes   uint64
}

// Sampler reads host memory. Replaceable in tests.
type Sampler func(ctx context.Context) (MemSample, error)

func gopsutilSampler(ctx context.Context) (MemSample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemSample{}, err
	}
	return MemSample{UsedPercent: vm.UsedPercent, FreeBytes: vm.Available}, nil
}

// Monitor samples host memory and publishes the safe worker count and the
// current pressure level.
type Monitor struct {
	cfg     config.MonitorConfig
	sampler Sampler
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.RWMutex
	level      PressureLevel
	lastSample MemSample
	lastGoodAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor using the gopsutil memory sampler.
func NewMonitor(cfg config.MonitorConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		sampler: gopsutilSampler,
		logger:  logger.With("component", "monitor"),
		now:     func() time.Time { return time.Now().UTC() },
		stopCh:  make(chan struct{}),
	}
}

// SetSampler replaces the memory source. Tests only.
func (m *Monitor) SetSampler(s Sampler) { m.sampler = s }

// SetClock replaces the time source. Tests only.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Start takes an initial sample and begins the sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	m.Sample(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop ends the sampling loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one reading and updates the pressure level.
func (m *Monitor) Sample(ctx context.Context) {
	sample, err := m.sampler(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.logger.Warn("Memory sample failed", "error", err)
		return
	}
	m.lastSample = sample
	m.lastGoodAt = m.now()

	next := m.nextLevelLocked(sample.UsedPercent)
	if next != m.level {
		m.logger.Info("Memory pressure level changed",
			"from", m.level.String(), "to", next.String(),
			"used_percent", sample.UsedPercent)
		m.level = next
	}
	metrics.PressureLevel.Set(float64(m.level))
}

// nextLevelLocked applies hysteresis: the level rises as soon as a threshold
// is crossed, and falls only once utilization drops the configured points
// below the current level's trigger.
func (m *Monitor) nextLevelLocked(pct float64) PressureLevel {
	raw := m.levelFor(pct)
	if raw >= m.level {
		return raw
	}
	if pct < m.threshold(m.level)-m.cfg.HysteresisPoints {
		return raw
	}
	return m.level
}

func (m *Monitor) levelFor(pct float64) PressureLevel {
	switch {
	case pct >= m.cfg.EmergencyThresholdPct:
		return PressureEmergency
	case pct >= m.cfg.AlertThresholdPct:
		return PressureAlert
	case pct >= m.cfg.ThrottleThresholdPct:
		return PressureThrottle
	case pct >= m.cfg.SlowThresholdPct:
		return PressureSlow
	default:
		return PressureNormal
	}
}

func (m *Monitor) threshold(level PressureLevel) float64 {
	switch level {
	case PressureEmergency:
		return m.cfg.EmergencyThresholdPct
	case PressureAlert:
		return m.cfg.AlertThresholdPct
	case PressureThrottle:
		return m.cfg.ThrottleThresholdPct
	case PressureSlow:
		return m.cfg.SlowThresholdPct
	default:
		return 0
	}
}

// SafeWorkerCount is how many workers the host can carry right now. With no
// trustworthy reading it assumes the worst and answers one.
func (m *Monitor) SafeWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastGoodAt.IsZero() || m.now().Sub(m.lastGoodAt) > m.cfg.StaleReadingGrace {
		return 1
	}
	budget := uint64(m.cfg.PerWorkerBudgetMiB) * 1024 * 1024
	if budget == 0 {
		return 1
	}
	count := int(m.cfg.UsableFraction * float64(m.lastSample.FreeBytes) / float64(budget))
	if count < 1 {
		return 1
	}
	return count
}

// Level returns the current pressure level.
func (m *Monitor) Level() PressureLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// AllowGrowth reports whether the pool may add workers.
func (m *Monitor) AllowGrowth() bool { return m.Level() < PressureSlow }

// AllowNewTasks reports whether the scheduler may dispatch.
func (m *Monitor) AllowNewTasks() bool { return m.Level() < PressureThrottle }

// ShouldDrainHalf reports whether the pool must shed half its workers.
func (m *Monitor) ShouldDrainHalf() bool { return m.Level() >= PressureEmergency }
