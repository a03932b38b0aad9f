package sched

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Conflict is one detected clash between a candidate task and a task already
// executing, together with the configured resolution.
type Conflict struct {
	Class    config.ConflictClass
	Strategy config.ConflictStrategy
	WithTask string
	Reason   string
}

// Detector evaluates the static conflict table against executing tasks.
// RATE_LIMIT rules additionally consult a per-host token bucket, so a
// matching pair only conflicts once the host's budget is spent.
type Detector struct {
	rules []config.ConflictRule

	mu      sync.Mutex
	perHost map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewDetector builds a detector from the scheduler config. An empty rule set
// falls back to the builtin table.
func NewDetector(cfg config.SchedulerConfig) *Detector {
	rules := cfg.ConflictRules
	if len(rules) == 0 {
		rules = config.DefaultConflictRules()
	}
	return &Detector{
		rules:   rules,
		perHost: make(map[string]*rate.Limiter),
		limit:   rate.Limit(cfg.RateLimitPerHost),
		burst:   cfg.RateLimitBurst,
	}
}

// Check returns the first conflict between the candidate and any executing
// task. Rules are evaluated in table order; the first match per pair wins.
func (d *Detector) Check(candidate *models.Task, executing []*models.Task) *Conflict {
	candHost := candidate.TargetHost()
	for _, exec := range executing {
		if exec.TaskID == candidate.TaskID {
			continue
		}
		execHost := exec.TargetHost()
		for _, rule := range d.rules {
			if !rule.Matches(candidate.ActionKind, exec.ActionKind) {
				continue
			}
			if rule.SameHost && (candHost == "" || candHost != execHost) {
				continue
			}
			if rule.Class == config.ConflictRateLimit {
				if d.allowHost(candHost) {
					break
				}
				return &Conflict{
					Class:    rule.Class,
					Strategy: rule.Strategy,
					WithTask: exec.TaskID,
					Reason:   fmt.Sprintf("host %s over rate budget", candHost),
				}
			}
			return &Conflict{
				Class:    rule.Class,
				Strategy: rule.Strategy,
				WithTask: exec.TaskID,
				Reason:   fmt.Sprintf("%s vs executing %s (%s)", candidate.ActionKind, exec.ActionKind, rule.Class),
			}
		}
	}
	return nil
}

// allowHost consumes one dispatch token for the host, creating the limiter
// on first sight.
func (d *Detector) allowHost(host string) bool {
	if host == "" {
		return true
	}
	d.mu.Lock()
	lim, ok := d.perHost[host]
	if !ok {
		lim = rate.NewLimiter(d.limit, d.burst)
		d.perHost[host] = lim
	}
	d.mu.Unlock()
	return lim.Allow()
}
