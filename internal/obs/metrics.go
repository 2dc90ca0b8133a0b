// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_tasks_queued_total",
		Help: "Total number of tasks accepted by the scheduler",
	})
	TasksStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_tasks_started_total",
		Help: "Total number of tasks dispatched to the engine",
	})
	TasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_tasks_completed_total",
		Help: "Total number of tasks that finished engine execution",
	})
	TasksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_tasks_failed_total",
		Help: "Total number of tasks whose execution or memory update errored",
	})
	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_queue_length",
		Help: "Current number of pending tasks",
	})
	ActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_active_tasks",
		Help: "Current number of in-flight tasks",
	})
	PipelineStepsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_pipeline_steps_executed_total",
		Help: "Pipeline steps executed, by plugin and action",
	}, []string{"plugin", "action"})
	PipelineStepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_pipeline_step_failures_total",
		Help: "Pipeline steps that returned a failure result",
	}, []string{"plugin", "action"})
	PipelineModifications = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_pipeline_modifications_total",
		Help: "Times the model replaced the remaining pipeline mid-run",
	})
	CapabilityCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_capability_calls_total",
		Help: "Capability executions, by capability and model",
	}, []string{"capability", "model"})
	CapabilityErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_capability_errors_total",
		Help: "Capability executions that errored, by capability and model",
	}, []string{"capability", "model"})
	CapabilityDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_capability_duration_seconds",
		Help:    "Histogram of capability execution durations",
		Buckets: prometheus.DefBuckets,
	})
	TypedObjectRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_typed_object_retries_total",
		Help: "Retry prompts issued while coercing model output to a schema",
	})
	TypedObjectFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_typed_object_failures_total",
		Help: "Typed-object requests that exhausted their retries",
	})
)

func init() {
	prometheus.MustRegister(
		TasksQueued, TasksStarted, TasksCompleted, TasksFailed,
		QueueLength, ActiveTasks,
		PipelineStepsExecuted, PipelineStepFailures, PipelineModifications,
		CapabilityCalls, CapabilityErrors, CapabilityDuration,
		TypedObjectRetries, TypedObjectFailures,
	)
}
