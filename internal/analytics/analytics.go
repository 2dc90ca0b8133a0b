// Copyright 2025 James Ross
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExecutionContext describes one capability execution for the trackers.
type ExecutionContext struct {
	CapabilityID   string
	ModelID        string
	OperationLabel string
	Input          any
	Config         map[string]any
	StartTime      time.Time
	Metadata       map[string]any
}

// Tracker observes capability executions. Hook errors are isolated: a
// failing tracker is logged and never disturbs the execution or the
// other trackers. After/OnError return a free-form data bag attached to
// the emitted telemetry record.
type Tracker interface {
	ID() string
	BeforeExecution(ctx context.Context, ec *ExecutionContext) error
	AfterExecution(ctx context.Context, ec *ExecutionContext, result any) (map[string]any, error)
	OnError(ctx context.Context, ec *ExecutionContext, execErr error) (map[string]any, error)
}

// Event is one telemetry record, one per tracker per execution.
type Event struct {
	Type           string         `json:"type"` // analytics | analytics.error
	TrackerID      string         `json:"trackerId"`
	OperationLabel string         `json:"operationLabel"`
	CapabilityID   string         `json:"capabilityId"`
	ModelID        string         `json:"modelId"`
	Timestamp      int64          `json:"timestamp"`
	Duration       int64          `json:"duration"`
	Error          string         `json:"error,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Sink receives emitted telemetry records.
type Sink func(Event)

// Wrapper runs every capability execution between the trackers' hooks.
type Wrapper struct {
	mu       sync.RWMutex
	trackers []Tracker
	sink     Sink
	log      *zap.Logger
}

// NewWrapper builds a wrapper. sink may be nil when telemetry records
// are only logged.
func NewWrapper(log *zap.Logger, sink Sink) *Wrapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Wrapper{sink: sink, log: log}
}

// Register appends a tracker. Trackers run in registration order.
func (w *Wrapper) Register(t Tracker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trackers = append(w.trackers, t)
}

// Execute runs fn between the before/after/error hooks of every
// registered tracker and emits one telemetry record per tracker. The
// execution error, if any, is returned unchanged.
func (w *Wrapper) Execute(ctx context.Context, ec *ExecutionContext, fn func(ctx context.Context) (any, error)) (any, error) {
	w.mu.RLock()
	trackers := make([]Tracker, len(w.trackers))
	copy(trackers, w.trackers)
	w.mu.RUnlock()

	if ec.StartTime.IsZero() {
		ec.StartTime = time.Now()
	}

	for _, t := range trackers {
		w.guard(t, func() error { return t.BeforeExecution(ctx, ec) })
	}

	result, err := fn(ctx)
	duration := time.Since(ec.StartTime)

	for _, t := range trackers {
		t := t
		var data map[string]any
		if err != nil {
			w.guard(t, func() error {
				var hookErr error
				data, hookErr = t.OnError(ctx, ec, err)
				return hookErr
			})
			w.emit(Event{
				Type:           "analytics.error",
				TrackerID:      t.ID(),
				OperationLabel: ec.OperationLabel,
				CapabilityID:   ec.CapabilityID,
				ModelID:        ec.ModelID,
				Timestamp:      time.Now().UnixMilli(),
				Duration:       duration.Milliseconds(),
				Error:          err.Error(),
				Data:           data,
			})
			continue
		}
		w.guard(t, func() error {
			var hookErr error
			data, hookErr = t.AfterExecution(ctx, ec, result)
			return hookErr
		})
		w.emit(Event{
			Type:           "analytics",
			TrackerID:      t.ID(),
			OperationLabel: ec.OperationLabel,
			CapabilityID:   ec.CapabilityID,
			ModelID:        ec.ModelID,
			Timestamp:      time.Now().UnixMilli(),
			Duration:       duration.Milliseconds(),
			Data:           data,
		})
	}

	return result, err
}

func (w *Wrapper) guard(t Tracker, hook func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn("analytics tracker panicked",
				zap.String("tracker", t.ID()), zap.Any("panic", r))
		}
	}()
	if err := hook(); err != nil {
		w.log.Warn("analytics tracker hook failed",
			zap.String("tracker", t.ID()), zap.Error(err))
	}
}

func (w *Wrapper) emit(evt Event) {
	if w.sink != nil {
		w.sink(evt)
	}
}
