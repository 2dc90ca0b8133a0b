// Copyright 2025 James Ross
package analytics

import (
	"context"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"github.com/posthog/posthog-go"
	"go.uber.org/zap"
)

// LoggingTracker writes one structured log line per capability
// execution.
type LoggingTracker struct {
	Log *zap.Logger
}

func (t *LoggingTracker) ID() string { return "logging" }

func (t *LoggingTracker) BeforeExecution(ctx context.Context, ec *ExecutionContext) error {
	t.Log.Debug("capability execution starting",
		obs.String("capability", ec.CapabilityID),
		obs.String("model", ec.ModelID),
		obs.String("operation", ec.OperationLabel))
	return nil
}

func (t *LoggingTracker) AfterExecution(ctx context.Context, ec *ExecutionContext, result any) (map[string]any, error) {
	elapsed := time.Since(ec.StartTime)
	t.Log.Info("capability executed",
		obs.String("capability", ec.CapabilityID),
		obs.String("model", ec.ModelID),
		obs.String("operation", ec.OperationLabel),
		obs.Duration("duration", elapsed))
	return map[string]any{"durationMs": elapsed.Milliseconds()}, nil
}

func (t *LoggingTracker) OnError(ctx context.Context, ec *ExecutionContext, execErr error) (map[string]any, error) {
	elapsed := time.Since(ec.StartTime)
	t.Log.Warn("capability execution failed",
		obs.String("capability", ec.CapabilityID),
		obs.String("model", ec.ModelID),
		obs.String("operation", ec.OperationLabel),
		obs.Duration("duration", elapsed),
		obs.Err(execErr))
	return map[string]any{"durationMs": elapsed.Milliseconds()}, nil
}

// MetricsTracker feeds the prometheus capability metrics.
type MetricsTracker struct{}

func (t *MetricsTracker) ID() string { return "metrics" }

func (t *MetricsTracker) BeforeExecution(ctx context.Context, ec *ExecutionContext) error {
	obs.CapabilityCalls.WithLabelValues(ec.CapabilityID, ec.ModelID).Inc()
	return nil
}

func (t *MetricsTracker) AfterExecution(ctx context.Context, ec *ExecutionContext, result any) (map[string]any, error) {
	obs.CapabilityDuration.Observe(time.Since(ec.StartTime).Seconds())
	return nil, nil
}

func (t *MetricsTracker) OnError(ctx context.Context, ec *ExecutionContext, execErr error) (map[string]any, error) {
	obs.CapabilityDuration.Observe(time.Since(ec.StartTime).Seconds())
	obs.CapabilityErrors.WithLabelValues(ec.CapabilityID, ec.ModelID).Inc()
	return nil, nil
}

// PosthogTracker forwards capability telemetry to PostHog. DistinctID
// identifies the agent deployment.
type PosthogTracker struct {
	Client     posthog.Client
	DistinctID string
}

func (t *PosthogTracker) ID() string { return "posthog" }

func (t *PosthogTracker) BeforeExecution(ctx context.Context, ec *ExecutionContext) error {
	return nil
}

func (t *PosthogTracker) AfterExecution(ctx context.Context, ec *ExecutionContext, result any) (map[string]any, error) {
	err := t.Client.Enqueue(posthog.Capture{
		DistinctId: t.DistinctID,
		Event:      "capability_executed",
		Properties: posthog.NewProperties().
			Set("capability", ec.CapabilityID).
			Set("model", ec.ModelID).
			Set("operation", ec.OperationLabel).
			Set("duration_ms", time.Since(ec.StartTime).Milliseconds()),
	})
	return nil, err
}

func (t *PosthogTracker) OnError(ctx context.Context, ec *ExecutionContext, execErr error) (map[string]any, error) {
	err := t.Client.Enqueue(posthog.Capture{
		DistinctId: t.DistinctID,
		Event:      "capability_failed",
		Properties: posthog.NewProperties().
			Set("capability", ec.CapabilityID).
			Set("model", ec.ModelID).
			Set("operation", ec.OperationLabel).
			Set("error", execErr.Error()).
			Set("duration_ms", time.Since(ec.StartTime).Milliseconds()),
	})
	return nil, err
}
