package config

import "time"

// ConflictClass names the category a conflict rule detects.
type ConflictClass string

const (
	ConflictResource        ConflictClass = "RESOURCE"
	ConflictOrdering        ConflictClass = "ORDERING"
	ConflictRateLimit       ConflictClass = "RATE_LIMIT"
	ConflictDuplicateAction ConflictClass = "DUPLICATE_ACTION"
)

// ConflictStrategy names how the scheduler resolves a detected conflict.
type ConflictStrategy string

const (
	ResolveDelay     ConflictStrategy = "DELAY"
	ResolveReassign  ConflictStrategy = "REASSIGN"
	ResolveDowngrade ConflictStrategy = "DOWNGRADE"
	ResolveAbort     ConflictStrategy = "ABORT"
)

// ConflictRule matches a pair of concurrently dispatched action kinds and
// names the class and resolution strategy. KindA/KindB match task action
// kinds; "*" matches any kind. SameHost additionally requires both tasks to
// target the same host before the rule fires.
type ConflictRule struct {
	KindA    string           `yaml:"kind_a"`
	KindB    string           `yaml:"kind_b"`
	SameHost bool             `yaml:"same_host"`
	Class    ConflictClass    `yaml:"class"`
	Strategy ConflictStrategy `yaml:"strategy"`
}

// Matches reports whether the rule applies to the given kind pair, in either
// order.
func (r ConflictRule) Matches(kindA, kindB string) bool {
	match := func(pattern, kind string) bool {
		return pattern == "*" || pattern == kind
	}
	if match(r.KindA, kindA) && match(r.KindB, kindB) {
		return true
	}
	return match(r.KindA, kindB) && match(r.KindB, kindA)
}

// SchedulerConfig tunes the priority scheduler's dispatch loop.
type SchedulerConfig struct {
	// TickInterval is how often the dispatch loop wakes when no queue
	// activity forces an earlier pass.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Lookahead is how far ahead of a task's scheduled start the
	// dispatcher considers it eligible.
	Lookahead time.Duration `yaml:"lookahead"`

	// RateLimitPerHost is the steady-state dispatches per second allowed
	// against a single target host.
	RateLimitPerHost float64 `yaml:"rate_limit_per_host"`

	// RateLimitBurst is the burst size for the per-host limiter.
	RateLimitBurst int `yaml:"rate_limit_burst"`

	// ConflictRules is evaluated against every candidate task and each
	// currently executing task. First match wins. When empty the builtin
	// table below applies.
	ConflictRules []ConflictRule `yaml:"conflict_rules"`
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:     500 * time.Millisecond,
		Lookahead:        2 * time.Second,
		RateLimitPerHost: 1,
		RateLimitBurst:   3,
		ConflictRules:    DefaultConflictRules(),
	}
}

// DefaultConflictRules is the builtin conflict table used when no rules are
// configured.
func DefaultConflictRules() []ConflictRule {
	return []ConflictRule{
		// Two publishes of the same content class are never raced.
		{KindA: "content_publish", KindB: "content_publish", Class: ConflictDuplicateAction, Strategy: ResolveAbort},
		// Form submission depends on extraction output landing first.
		{KindA: "form_submit", KindB: "web_extract", SameHost: true, Class: ConflictOrdering, Strategy: ResolveDelay},
		// Screenshots are memory heavy; spread them across workers.
		{KindA: "web_screenshot", KindB: "web_screenshot", Class: ConflictResource, Strategy: ResolveReassign},
		// Anything else hitting one host concurrently waits its turn.
		{KindA: "*", KindB: "*", SameHost: true, Class: ConflictRateLimit, Strategy: ResolveDelay},
	}
}
