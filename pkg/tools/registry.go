// Package tools holds the closed action registry. Every action kind the
// engine can schedule is registered at startup with its risk grade and
// conflict class; there is no runtime mutation. Invocations return a
// normalized *models.Outcome, never an error: the error return is reserved
// for infrastructure faults, and the registry has none.
package tools

import (
	"context"
	"sort"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// InvokeFunc executes one tool call under an already-bounded context.
type InvokeFunc func(ctx context.Context, inv *Invocation) *models.Outcome

// Invocation carries everything a tool needs for one call. Browser is nil
// for cloud-lane and compute-only invocations.
type Invocation struct {
	Params  map[string]any
	Mode    models.ExecutionMode
	Browser Browser
}

// Browser is the slice of a worker session the builtin web tools use. The
// worker pool provides rod-backed and stub implementations.
type Browser interface {
	// Navigate loads the URL and returns the page title.
	Navigate(ctx context.Context, url string) (string, error)

	// Extract returns the text content of the first node matching selector
	// on the given page.
	Extract(ctx context.Context, url, selector string) (string, error)

	// Screenshot captures a full-page PNG of the URL.
	Screenshot(ctx context.Context, url string) ([]byte, error)

	// Submit fills and submits a form on the page.
	Submit(ctx context.Context, url string, fields map[string]string) error
}

// Definition describes one registered action kind.
type Definition struct {
	ActionKind    string
	RiskLevel     models.RiskLevel
	Reversible    bool
	RequiresAPI   bool
	ConflictClass string

	invoke  InvokeFunc
	reverse InvokeFunc
}

// Registry maps action kinds to their definitions. Built once at startup,
// read-only afterwards.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry builds the registry with all builtin tools.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range builtins() {
		r.defs[d.ActionKind] = d
	}
	return r
}

// Get returns the definition for an action kind.
func (r *Registry) Get(kind string) (*Definition, bool) {
	d, ok := r.defs[kind]
	return d, ok
}

// Kinds returns all registered action kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Invoke runs the named tool with the given params, effective mode, and
// per-call deadline. Unknown kinds fail as a policy violation. The outcome
// always carries the observed latency.
func (r *Registry) Invoke(ctx context.Context, kind string, params map[string]any, mode models.ExecutionMode, deadline time.Duration) *models.Outcome {
	d, ok := r.defs[kind]
	if !ok {
		return models.FailureOf(models.FailurePolicyViolation, "unknown action kind: "+kind)
	}
	return d.run(ctx, d.invoke, params, mode, deadline, nil)
}

// InvokeWith is Invoke with a checked-out browser session for the local lane.
func (r *Registry) InvokeWith(ctx context.Context, kind string, params map[string]any, mode models.ExecutionMode, deadline time.Duration, browser Browser) *models.Outcome {
	d, ok := r.defs[kind]
	if !ok {
		return models.FailureOf(models.FailurePolicyViolation, "unknown action kind: "+kind)
	}
	return d.run(ctx, d.invoke, params, mode, deadline, browser)
}

// Reverse undoes a prior completed invocation of a reversible tool. Called
// during rollback with the original task params.
func (r *Registry) Reverse(ctx context.Context, kind string, params map[string]any, mode models.ExecutionMode, deadline time.Duration) *models.Outcome {
	d, ok := r.defs[kind]
	if !ok {
		return models.FailureOf(models.FailurePolicyViolation, "unknown action kind: "+kind)
	}
	if !d.Reversible || d.reverse == nil {
		return models.FailureOf(models.FailureNonRetryable, "action kind is not reversible: "+kind)
	}
	return d.run(ctx, d.reverse, params, mode, deadline, nil)
}

func (d *Definition) run(ctx context.Context, fn InvokeFunc, params map[string]any, mode models.ExecutionMode, deadline time.Duration, browser Browser) *models.Outcome {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	start := time.Now()
	out := fn(ctx, &Invocation{Params: params, Mode: mode, Browser: browser})
	if out == nil {
		out = models.FailureOf(models.FailureNonRetryable, "tool returned no outcome")
	}
	if ctx.Err() != nil && out.Class.Succeeded() {
		out = models.FailureOf(models.FailureRetryable, "tool deadline exceeded")
	}
	out.LatencyMS = time.Since(start).Milliseconds()
	return out
}
