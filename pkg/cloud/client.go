// Package cloud is the remote execution lane: tasks the router sends to
// CLOUD are POSTed to an external executor service. The lane is guarded by
// a circuit breaker and a per-minute budget so a degraded upstream defers
// work instead of stalling the scheduler.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// executePath is the executor endpoint relative to the configured base URL.
const executePath = "/v1/execute"

// ExecuteRequest is the wire form of one cloud dispatch.
type ExecuteRequest struct {
	TaskID     string               `json:"task_id"`
	ActionKind string               `json:"action_kind"`
	Params     map[string]any       `json:"params,omitempty"`
	Mode       models.ExecutionMode `json:"mode"`
	DeadlineMS int64                `json:"deadline_ms"`
}

// executeResponse is the executor's verdict.
type executeResponse struct {
	OutcomeClass models.OutcomeClass `json:"outcome_class"`
	Result       map[string]any      `json:"result,omitempty"`
	FailureKind  models.FailureKind  `json:"failure_kind,omitempty"`
	Detail       string              `json:"detail,omitempty"`
}

// Client talks to the cloud executor.
type Client struct {
	cfg     config.CloudConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	apiKey  string
	logger  *slog.Logger
}

// NewClient builds the cloud lane client. The API key comes from the
// CLOUD_API_KEY environment variable so it never lives in config files.
func NewClient(cfg config.CloudConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "cloud")

	settings := gobreaker.Settings{
		Name:    "cloud-lane",
		Timeout: cfg.Breaker.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Breaker.MaxFailures)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn("Cloud breaker state changed", "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.CloudBreakerOpen.Set(1)
			} else {
				metrics.CloudBreakerOpen.Set(0)
			}
		},
	}

	var limiter *rate.Limiter
	if cfg.BudgetPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.BudgetPerMin)), cfg.BudgetPerMin)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: limiter,
		apiKey:  os.Getenv("CLOUD_API_KEY"),
		logger:  log,
	}
}

// Available reports whether the lane can take work right now. The router
// consults this before choosing CLOUD.
func (c *Client) Available() bool {
	return c.cfg.Enabled() && c.breaker.State() != gobreaker.StateOpen
}

// Execute runs one task remotely and normalizes the reply into an outcome.
// Infrastructure faults surface as deferrable or retryable failures, never
// as Go errors.
func (c *Client) Execute(ctx context.Context, task *models.Task, mode models.ExecutionMode, deadline time.Duration) *models.Outcome {
	start := time.Now()
	out := c.execute(ctx, task, mode, deadline)
	out.LatencyMS = time.Since(start).Milliseconds()

	label := "success"
	if !out.Class.Succeeded() {
		label = "failure"
		if out.FailureKind == models.FailureResourceExhaustion {
			label = "rejected"
		}
	}
	metrics.CloudRequests.WithLabelValues(label).Inc()
	return out
}

func (c *Client) execute(ctx context.Context, task *models.Task, mode models.ExecutionMode, deadline time.Duration) *models.Outcome {
	if !c.cfg.Enabled() {
		return models.FailureOf(models.FailureResourceExhaustion, "cloud lane not configured")
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return models.FailureOf(models.FailureResourceExhaustion, "cloud budget exhausted")
	}

	reply, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, task, mode, deadline)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.FailureOf(models.FailureResourceExhaustion, "cloud breaker open")
	}
	if err != nil {
		return models.FailureOf(models.FailureRetryable, "cloud execution failed: "+err.Error())
	}

	resp := reply.(*executeResponse)
	if !resp.OutcomeClass.IsValid() {
		return models.FailureOf(models.FailureNonRetryable, "cloud executor returned unknown outcome class")
	}
	out := &models.Outcome{
		Class:       resp.OutcomeClass,
		FailureKind: resp.FailureKind,
		Reason:      resp.Detail,
		Result:      resp.Result,
	}
	return out
}

// post performs the HTTP round trip. Transport errors and upstream 5xx are
// returned as errors so they count against the breaker; 4xx means the
// request itself was bad and is normalized without penalizing the lane.
func (c *Client) post(ctx context.Context, task *models.Task, mode models.ExecutionMode, deadline time.Duration) (*executeResponse, error) {
	body, err := json.Marshal(ExecuteRequest{
		TaskID:     task.TaskID,
		ActionKind: task.ActionKind,
		Params:     task.ActionParams,
		Mode:       mode,
		DeadlineMS: deadline.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &executeResponse{
			OutcomeClass: models.OutcomeNonRetryableFailure,
			FailureKind:  models.FailureNonRetryable,
			Detail:       fmt.Sprintf("executor rejected request (%d): %s", resp.StatusCode, detail),
		}, nil
	}

	var decoded executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &decoded, nil
}
