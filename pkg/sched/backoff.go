package sched

import (
	"math/rand/v2"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/config"
)

// Backoff produces jittered retry delays from the engine's backoff ladder.
// The time unit is injectable so tests run on milliseconds.
type Backoff struct {
	cfg  config.EngineConfig
	unit time.Duration
	rnd  func() float64
}

// NewBackoff creates a backoff source using real seconds.
func NewBackoff(cfg config.EngineConfig) *Backoff {
	return &Backoff{cfg: cfg, unit: time.Second, rnd: rand.Float64}
}

// SetUnit replaces the time unit. Tests only.
func (b *Backoff) SetUnit(unit time.Duration) { b.unit = unit }

// SetRand replaces the jitter source. Tests only.
func (b *Backoff) SetRand(rnd func() float64) { b.rnd = rnd }

// Delay returns the wait before the given attempt (1-based), jittered by
// plus or minus twenty percent around the ladder value.
func (b *Backoff) Delay(attempt int) time.Duration {
	capUnits := b.cfg.BackoffCap(attempt)
	base := time.Duration(capUnits) * b.unit
	jitter := 0.8 + 0.4*b.rnd()
	return time.Duration(float64(base) * jitter)
}
