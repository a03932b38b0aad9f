// Package metrics defines the Prometheus instruments exported by the engine.
// All metrics are registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MissionsCreated counts mission intake by classification domain.
	MissionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_missions_created_total",
		Help: "Missions accepted at intake, by domain.",
	}, []string{"domain"})

	// MissionsFinished counts terminal mission transitions by final status.
	MissionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_missions_finished_total",
		Help: "Missions reaching a terminal status.",
	}, []string{"status"})

	// TasksDispatched counts task dispatches by lane and action kind.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_tasks_dispatched_total",
		Help: "Tasks handed to a worker or the cloud executor.",
	}, []string{"lane", "action_kind"})

	// TaskRetries counts retry decisions by failure kind.
	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_task_retries_total",
		Help: "Task attempts rescheduled after a retryable failure.",
	}, []string{"failure_kind"})

	// TaskDuration observes wall-clock task execution time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathfinder_task_duration_seconds",
		Help:    "Task execution latency from dispatch to outcome.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"action_kind", "outcome"})

	// QueueDepth tracks ready tasks per priority class.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pathfinder_queue_depth",
		Help: "Tasks waiting in the scheduler queue, by priority class.",
	}, []string{"priority"})

	// WorkerPoolSize tracks the current worker pool target.
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfinder_worker_pool_size",
		Help: "Workers the pool is currently sized to.",
	})

	// WorkersBusy tracks workers holding a checked-out session.
	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfinder_workers_busy",
		Help: "Workers currently executing a task.",
	})

	// PressureLevel exports the resource monitor's level as an integer
	// (0 normal, 1 slow, 2 throttle, 3 alert, 4 emergency).
	PressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfinder_memory_pressure_level",
		Help: "Current memory pressure level reported by the resource monitor.",
	})

	// EventsAppended counts mission log appends by event kind.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_events_appended_total",
		Help: "Events appended to mission logs.",
	}, []string{"kind"})

	// StreamSubscribers tracks live event stream connections.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfinder_stream_subscribers",
		Help: "Active websocket stream subscriptions.",
	})

	// StreamDropped counts events dropped from slow subscriber buffers.
	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathfinder_stream_dropped_total",
		Help: "Events dropped from subscriber buffers under backpressure.",
	})

	// CloudRequests counts cloud lane dispatches by outcome.
	CloudRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_cloud_requests_total",
		Help: "Cloud executor requests, by outcome.",
	}, []string{"outcome"})

	// CloudBreakerOpen reports whether the cloud circuit breaker is open.
	CloudBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pathfinder_cloud_breaker_open",
		Help: "1 while the cloud circuit breaker is open, else 0.",
	})

	// ScorerUpdates counts accepted tool outcome signals.
	ScorerUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathfinder_scorer_updates_total",
		Help: "Tool outcome signals folded into usefulness scores.",
	})

	// ControlRequests counts operator control requests by action and outcome.
	ControlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathfinder_control_requests_total",
		Help: "Operator control requests, by action and final status.",
	}, []string{"action", "status"})
)
