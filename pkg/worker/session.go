// Package worker maintains the pool of headless-browser workers and the
// resource monitor that bounds it. Workers are checkout/checkin resources:
// exactly one task holds a worker at a time, sessions are recycled after a
// bounded number of tasks, and the pool never grows past what the monitor
// says the host can carry.
package worker

import (
	"context"
	"errors"
)

// ErrNoWorkersAvailable is the non-blocking checkout miss.
var ErrNoWorkersAvailable = errors.New("no workers available")

// Session is one browser the pool manages. It doubles as the tool layer's
// Browser so a checked-out worker can be handed straight to an invocation.
type Session interface {
	// Navigate loads the URL and returns the page title.
	Navigate(ctx context.Context, url string) (string, error)

	// Extract returns the text of the first node matching selector.
	Extract(ctx context.Context, url, selector string) (string, error)

	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context, url string) ([]byte, error)

	// Submit fills and submits a form.
	Submit(ctx context.Context, url string, fields map[string]string) error

	// Probe checks browser liveness.
	Probe(ctx context.Context) error

	// Reset clears per-task state: cookies, storage, extra tabs.
	Reset(ctx context.Context) error

	// Close tears the browser session down.
	Close() error
}

// SessionFactory launches one fresh session. The pool calls it on growth and
// on worker replacement.
type SessionFactory func(ctx context.Context) (Session, error)
