package config

import "time"

// Worker pool operating modes. Headless launches real browser instances;
// stub swaps them for in-process fakes in tests and dry deployments.
const (
	WorkerModeHeadless = "headless"
	WorkerModeStub     = "stub"
)

// PoolConfig sizes and supervises the browser worker pool.
type PoolConfig struct {
	// Size is the target number of workers. The resource monitor may
	// shrink the effective pool below this.
	Size int `yaml:"size"`

	// SessionLimit is how many tasks a worker may run before it is
	// recycled to shed browser session state.
	SessionLimit int `yaml:"session_limit"`

	// HealthProbeInterval is the gap between liveness probes per worker.
	HealthProbeInterval time.Duration `yaml:"health_probe_interval"`

	// ProbeFailureThreshold is the consecutive probe failures that mark a
	// worker UNHEALTHY and schedule a replacement.
	ProbeFailureThreshold int `yaml:"probe_failure_threshold"`

	// CheckoutTimeout bounds how long a dispatch waits for an idle worker.
	CheckoutTimeout time.Duration `yaml:"checkout_timeout"`

	// LaunchRetries is how many times a failed browser launch is retried
	// before the pool reports a degraded slot.
	LaunchRetries int `yaml:"launch_retries"`

	// DrainGrace is how long a DRAINING worker may finish its current task
	// before it is torn down.
	DrainGrace time.Duration `yaml:"drain_grace"`

	// Mode selects headless browsers or stub workers.
	Mode string `yaml:"mode"`
}

// DefaultPoolConfig returns the worker pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:                  4,
		SessionLimit:          50,
		HealthProbeInterval:   30 * time.Second,
		ProbeFailureThreshold: 2,
		CheckoutTimeout:       10 * time.Second,
		LaunchRetries:         3,
		DrainGrace:            5 * time.Second,
		Mode:                  WorkerModeHeadless,
	}
}

// MonitorConfig tunes the resource monitor that adapts pool size and
// execution pace to host memory pressure.
type MonitorConfig struct {
	// SampleInterval is the gap between memory samples.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// PerWorkerBudgetMiB is the planning figure for one worker's memory
	// footprint.
	PerWorkerBudgetMiB int `yaml:"per_worker_budget_mib"`

	// UsableFraction is the share of free memory the pool may claim.
	UsableFraction float64 `yaml:"usable_fraction"`

	// StaleReadingGrace is how long the last good sample stays trusted
	// after sampling starts failing. Past it the monitor assumes the
	// worst and clamps the pool to one worker.
	StaleReadingGrace time.Duration `yaml:"stale_reading_grace"`

	// HysteresisPoints is how many percentage points below a pressure
	// threshold utilization must fall before the matching restriction
	// lifts.
	HysteresisPoints float64 `yaml:"hysteresis_points"`

	// Pressure thresholds as used-memory percentages.
	SlowThresholdPct      float64 `yaml:"slow_threshold_pct"`
	ThrottleThresholdPct  float64 `yaml:"throttle_threshold_pct"`
	AlertThresholdPct     float64 `yaml:"alert_threshold_pct"`
	EmergencyThresholdPct float64 `yaml:"emergency_threshold_pct"`
}

// DefaultMonitorConfig returns the resource monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:        10 * time.Second,
		PerWorkerBudgetMiB:    400,
		UsableFraction:        0.8,
		StaleReadingGrace:     60 * time.Second,
		HysteresisPoints:      5,
		SlowThresholdPct:      80,
		ThrottleThresholdPct:  85,
		AlertThresholdPct:     90,
		EmergencyThresholdPct: 95,
	}
}
