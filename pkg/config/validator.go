package config

// Validator performs fail-fast validation over a loaded Config. The first
// invalid value aborts startup; there is no partial acceptance.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given config.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll checks every section and returns the first error found.
func (v *Validator) ValidateAll() error {
	checks := []func() error{
		v.validateEngine,
		v.validateScheduler,
		v.validatePool,
		v.validateMonitor,
		v.validateStorage,
		v.validateArtifacts,
		v.validateCloud,
		v.validateLearning,
		v.validateServer,
		v.validateRetention,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateEngine() error {
	e := v.cfg.Engine
	if e.MaxStepsPerMission < 1 {
		return newValidationError("engine", "max_steps_per_mission", "must be at least 1, got %d", e.MaxStepsPerMission)
	}
	if e.MaxSubgoals < 1 || e.MaxSubgoals > 4 {
		return newValidationError("engine", "max_subgoals", "must be in 1..4, got %d", e.MaxSubgoals)
	}
	if e.PerTaskTimeoutS < 1 {
		return newValidationError("engine", "per_task_timeout_s", "must be positive, got %d", e.PerTaskTimeoutS)
	}
	if e.MissionDeadlineS < e.PerTaskTimeoutS {
		return newValidationError("engine", "mission_deadline_s", "must be at least per_task_timeout_s (%d), got %d", e.PerTaskTimeoutS, e.MissionDeadlineS)
	}
	if e.MaxRetriesPerTask < 1 {
		return newValidationError("engine", "max_retries_per_task", "must be at least 1, got %d", e.MaxRetriesPerTask)
	}
	if len(e.RetryBackoffCapsS) == 0 {
		return newValidationError("engine", "retry_backoff_caps_s", "must list at least one backoff cap")
	}
	prev := 0
	for _, cap := range e.RetryBackoffCapsS {
		if cap < prev {
			return newValidationError("engine", "retry_backoff_caps_s", "caps must be non-decreasing, got %v", e.RetryBackoffCapsS)
		}
		prev = cap
	}
	if e.HighRiskConfidenceThreshold < 0 || e.HighRiskConfidenceThreshold > 1 {
		return newValidationError("engine", "high_risk_confidence_threshold", "must be in [0,1], got %v", e.HighRiskConfidenceThreshold)
	}
	for _, a := range e.ApprovalRequiredActions {
		if !a.IsValid() {
			return newValidationError("engine", "approval_required_actions", "unknown control action %q", a)
		}
	}
	if e.AutonomyLevel < 1 || e.AutonomyLevel > 5 {
		return newValidationError("engine", "autonomy_level", "must be in 1..5, got %d", e.AutonomyLevel)
	}
	// Levels above 1 are reserved: they require an approved escalation in
	// the operator log, which no deployment has yet.
	if e.AutonomyLevel > 1 {
		return newValidationError("engine", "autonomy_level", "level %d requires an approved escalation; only level 1 is supported", e.AutonomyLevel)
	}
	if e.DuplicateWindowS < 0 {
		return newValidationError("engine", "duplicate_window_s", "must be non-negative, got %d", e.DuplicateWindowS)
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.TickInterval <= 0 {
		return newValidationError("scheduler", "tick_interval", "must be positive, got %v", s.TickInterval)
	}
	if s.Lookahead < 0 {
		return newValidationError("scheduler", "lookahead", "must be non-negative, got %v", s.Lookahead)
	}
	if s.RateLimitPerHost <= 0 {
		return newValidationError("scheduler", "rate_limit_per_host", "must be positive, got %v", s.RateLimitPerHost)
	}
	if s.RateLimitBurst < 1 {
		return newValidationError("scheduler", "rate_limit_burst", "must be at least 1, got %d", s.RateLimitBurst)
	}
	for i, rule := range s.ConflictRules {
		if rule.KindA == "" || rule.KindB == "" {
			return newValidationError("scheduler", "conflict_rules", "rule %d: kind_a and kind_b are required", i)
		}
		switch rule.Class {
		case ConflictResource, ConflictOrdering, ConflictRateLimit, ConflictDuplicateAction:
		default:
			return newValidationError("scheduler", "conflict_rules", "rule %d: unknown class %q", i, rule.Class)
		}
		switch rule.Strategy {
		case ResolveDelay, ResolveReassign, ResolveDowngrade, ResolveAbort:
		default:
			return newValidationError("scheduler", "conflict_rules", "rule %d: unknown strategy %q", i, rule.Strategy)
		}
	}
	return nil
}

func (v *Validator) validatePool() error {
	p := v.cfg.Pool
	if p.Size < 1 {
		return newValidationError("pool", "size", "must be at least 1, got %d", p.Size)
	}
	if p.SessionLimit < 1 {
		return newValidationError("pool", "session_limit", "must be at least 1, got %d", p.SessionLimit)
	}
	if p.HealthProbeInterval <= 0 {
		return newValidationError("pool", "health_probe_interval", "must be positive, got %v", p.HealthProbeInterval)
	}
	if p.ProbeFailureThreshold < 1 {
		return newValidationError("pool", "probe_failure_threshold", "must be at least 1, got %d", p.ProbeFailureThreshold)
	}
	if p.CheckoutTimeout <= 0 {
		return newValidationError("pool", "checkout_timeout", "must be positive, got %v", p.CheckoutTimeout)
	}
	if p.LaunchRetries < 0 {
		return newValidationError("pool", "launch_retries", "must be non-negative, got %d", p.LaunchRetries)
	}
	if p.Mode != WorkerModeHeadless && p.Mode != WorkerModeStub {
		return newValidationError("pool", "mode", "must be %q or %q, got %q", WorkerModeHeadless, WorkerModeStub, p.Mode)
	}
	return nil
}

func (v *Validator) validateMonitor() error {
	m := v.cfg.Monitor
	if m.SampleInterval <= 0 {
		return newValidationError("monitor", "sample_interval", "must be positive, got %v", m.SampleInterval)
	}
	if m.PerWorkerBudgetMiB < 1 {
		return newValidationError("monitor", "per_worker_budget_mib", "must be at least 1, got %d", m.PerWorkerBudgetMiB)
	}
	if m.UsableFraction <= 0 || m.UsableFraction > 1 {
		return newValidationError("monitor", "usable_fraction", "must be in (0,1], got %v", m.UsableFraction)
	}
	if m.HysteresisPoints < 0 {
		return newValidationError("monitor", "hysteresis_points", "must be non-negative, got %v", m.HysteresisPoints)
	}
	thresholds := []struct {
		name  string
		value float64
	}{
		{"slow_threshold_pct", m.SlowThresholdPct},
		{"throttle_threshold_pct", m.ThrottleThresholdPct},
		{"alert_threshold_pct", m.AlertThresholdPct},
		{"emergency_threshold_pct", m.EmergencyThresholdPct},
	}
	prev := 0.0
	for _, t := range thresholds {
		if t.value <= 0 || t.value > 100 {
			return newValidationError("monitor", t.name, "must be in (0,100], got %v", t.value)
		}
		if t.value < prev {
			return newValidationError("monitor", t.name, "thresholds must be non-decreasing")
		}
		prev = t.value
	}
	return nil
}

func (v *Validator) validateStorage() error {
	s := v.cfg.Storage
	if s.Backend != StorageBackendPostgres && s.Backend != StorageBackendMemory {
		return newValidationError("storage", "backend", "must be %q or %q, got %q", StorageBackendPostgres, StorageBackendMemory, s.Backend)
	}
	if s.SnapshotIntervalEvents < 1 {
		return newValidationError("storage", "snapshot_interval_events", "must be at least 1, got %d", s.SnapshotIntervalEvents)
	}
	return nil
}

func (v *Validator) validateArtifacts() error {
	a := v.cfg.Artifacts
	if a.Backend != ArtifactBackendMemory && a.Backend != ArtifactBackendRedis {
		return newValidationError("artifacts", "backend", "must be %q or %q, got %q", ArtifactBackendMemory, ArtifactBackendRedis, a.Backend)
	}
	if a.TTL <= 0 {
		return newValidationError("artifacts", "ttl", "must be positive, got %v", a.TTL)
	}
	if a.Backend == ArtifactBackendRedis && a.Redis.Addr == "" {
		return newValidationError("artifacts", "redis.addr", "required for the redis backend")
	}
	return nil
}

func (v *Validator) validateCloud() error {
	c := v.cfg.Cloud
	if !c.Enabled() {
		return nil
	}
	if c.Timeout <= 0 {
		return newValidationError("cloud", "timeout", "must be positive, got %v", c.Timeout)
	}
	if c.BudgetPerMin < 1 {
		return newValidationError("cloud", "budget_per_min", "must be at least 1, got %d", c.BudgetPerMin)
	}
	if c.Breaker.MaxFailures < 1 {
		return newValidationError("cloud", "breaker.max_failures", "must be at least 1, got %d", c.Breaker.MaxFailures)
	}
	if c.Breaker.Cooldown <= 0 {
		return newValidationError("cloud", "breaker.cooldown", "must be positive, got %v", c.Breaker.Cooldown)
	}
	return nil
}

func (v *Validator) validateLearning() error {
	l := v.cfg.Learning
	if l.ImportanceThreshold < 0 || l.ImportanceThreshold > 1 {
		return newValidationError("learning", "importance_threshold", "must be in [0,1], got %v", l.ImportanceThreshold)
	}
	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return newValidationError("server", "port", "must be in 1..65535, got %d", s.Port)
	}
	if s.WriteTimeout <= 0 {
		return newValidationError("server", "write_timeout", "must be positive, got %v", s.WriteTimeout)
	}
	if s.StreamBuffer < 1 {
		return newValidationError("server", "stream_buffer", "must be at least 1, got %d", s.StreamBuffer)
	}
	if s.CatchupLimit < 1 {
		return newValidationError("server", "catchup_limit", "must be at least 1, got %d", s.CatchupLimit)
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if !r.Enabled {
		return nil
	}
	if r.MissionTTL <= 0 {
		return newValidationError("retention", "mission_ttl", "must be positive, got %v", r.MissionTTL)
	}
	if r.SweepInterval <= 0 {
		return newValidationError("retention", "sweep_interval", "must be positive, got %v", r.SweepInterval)
	}
	return nil
}
