package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

func testTask() *models.Task {
	return &models.Task{
		TaskID:     "task-1",
		ActionKind: "api_call",
		ActionParams: map[string]any{
			"url":    "https://api.example.com/v1/items",
			"method": "GET",
		},
	}
}

func testClient(t *testing.T, handler http.Handler, mutate func(*config.CloudConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultCloudConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, nil)
}

func TestClient_ExecuteSuccess(t *testing.T) {
	var got ExecuteRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outcome_class": "SUCCESS",
			"result":        map[string]any{"status": float64(200)},
		})
	})
	c := testClient(t, handler, nil)

	out := c.Execute(context.Background(), testTask(), models.ModeLive, 30*time.Second)
	require.Equal(t, models.OutcomeSuccess, out.Class)
	assert.Equal(t, float64(200), out.Result["status"])
	assert.Equal(t, "task-1", got.TaskID)
	assert.Equal(t, "api_call", got.ActionKind)
	assert.Equal(t, int64(30000), got.DeadlineMS)
	assert.Equal(t, models.ModeLive, got.Mode)
}

func TestClient_FailureKindPassesThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outcome_class": "RETRYABLE_FAILURE",
			"failure_kind":  "RETRYABLE",
			"detail":        "upstream rate limited",
		})
	})
	c := testClient(t, handler, nil)

	out := c.Execute(context.Background(), testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.OutcomeRetryableFailure, out.Class)
	assert.Equal(t, models.FailureRetryable, out.FailureKind)
	assert.Equal(t, "upstream rate limited", out.Reason)
}

func TestClient_RejectedRequestIsNotRetried(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown action kind", http.StatusUnprocessableEntity)
	})
	c := testClient(t, handler, nil)

	out := c.Execute(context.Background(), testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.OutcomeNonRetryableFailure, out.Class)
	assert.Equal(t, models.FailureNonRetryable, out.FailureKind)
	assert.Contains(t, out.Reason, "422")
	assert.True(t, c.Available())
}

func TestClient_ServerErrorsOpenTheBreaker(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := testClient(t, handler, func(cfg *config.CloudConfig) {
		cfg.Breaker.MaxFailures = 2
	})
	ctx := context.Background()

	out := c.Execute(ctx, testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.FailureRetryable, out.FailureKind)
	assert.True(t, c.Available())

	out = c.Execute(ctx, testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.FailureRetryable, out.FailureKind)
	assert.False(t, c.Available())

	// Open breaker fast-fails without touching the upstream.
	out = c.Execute(ctx, testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.FailureResourceExhaustion, out.FailureKind)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_BudgetExhaustionDefers(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"outcome_class": "SUCCESS"})
	})
	c := testClient(t, handler, func(cfg *config.CloudConfig) {
		cfg.BudgetPerMin = 1
	})
	ctx := context.Background()

	out := c.Execute(ctx, testTask(), models.ModeLive, time.Minute)
	require.Equal(t, models.OutcomeSuccess, out.Class)

	out = c.Execute(ctx, testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.FailureResourceExhaustion, out.FailureKind)
	assert.Equal(t, "cloud budget exhausted", out.Reason)
}

func TestClient_DisabledLane(t *testing.T) {
	c := NewClient(config.DefaultCloudConfig(), nil)
	assert.False(t, c.Available())

	out := c.Execute(context.Background(), testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.FailureResourceExhaustion, out.FailureKind)
}

func TestClient_UnknownOutcomeClass(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"outcome_class": "MAYBE"})
	})
	c := testClient(t, handler, nil)

	out := c.Execute(context.Background(), testTask(), models.ModeLive, time.Minute)
	assert.Equal(t, models.OutcomeNonRetryableFailure, out.Class)
	assert.Equal(t, models.FailureNonRetryable, out.FailureKind)
}
