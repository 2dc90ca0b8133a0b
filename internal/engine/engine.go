// Copyright 2025 James Ross
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/model"
	"github.com/0xPBIT/maiar-ai-sub000/internal/monitor"
	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"github.com/0xPBIT/maiar-ai-sub000/internal/plugin"
	"github.com/0xPBIT/maiar-ai-sub000/internal/templates"
	"go.uber.org/zap"
)

const (
	pipelineTemplateID     = "core/pipeline"
	modificationTemplateID = "core/modification"
)

// Config tunes the engine's model interactions. Temperature applies to
// pipeline planning only; capability calls made by executors carry
// their own config.
type Config struct {
	MaxRetries  int
	Temperature float64
}

// Engine drives one task at a time through the model-planned pipeline:
// generate, execute step, ask for modification, repeat. It never lets
// an error escape; failures become error context items and the loop
// continues.
type Engine struct {
	plugins    *plugin.Registry
	models     *model.Manager
	templates  *templates.Registry
	bus        *monitor.Bus
	queueState func() monitor.StateSnapshot
	cfg        Config
	log        *zap.Logger
}

// New builds an engine.
func New(plugins *plugin.Registry, models *model.Manager, tpl *templates.Registry, bus *monitor.Bus, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = monitor.NewBus(log)
	}
	return &Engine{
		plugins:   plugins,
		models:    models,
		templates: tpl,
		bus:       bus,
		cfg:       cfg,
		log:       log,
	}
}

// SetQueueStateSource wires the scheduler's queue snapshot into the
// engine's state events. Called once at runtime assembly.
func (e *Engine) SetQueueStateSource(fn func() monitor.StateSnapshot) {
	e.queueState = fn
}

type generationContext struct {
	ContextChain     []*agent.ContextItem
	AvailablePlugins []plugin.Summary
	CurrentContext   *agent.ContextItem
}

type modificationContext struct {
	ContextChain      []*agent.ContextItem
	CurrentStep       agent.PipelineStep
	RemainingPipeline []agent.PipelineStep
	AvailablePlugins  []plugin.Summary
}

// RunTask executes the full pipeline loop for one task, mutating its
// context chain in place.
func (e *Engine) RunTask(ctx context.Context, task *agent.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine panic recovered",
				obs.String("task", task.ID), obs.Any("panic", r))
			task.AppendContext(agent.NewErrorContext("", "", fmt.Errorf("engine panic: %v", r), nil))
		}
	}()

	log := e.log.With(obs.String("task", task.ID), obs.String("space", task.Space.ID))
	log.Info("task execution starting")
	e.emitState("runtime.task.started", task, nil, nil)

	pipeline := e.generatePipeline(ctx, task)
	e.emitState("pipeline.generation.complete", task, pipeline, nil)

	for i := 0; i < len(pipeline); i++ {
		step := pipeline[i]
		e.executeStep(ctx, task, step)
		idx := i
		e.emitState("runtime.pipeline.step.executed", task, pipeline, &idx)
		pipeline = e.modifyPipeline(ctx, task, pipeline, i)
	}

	log.Info("task execution complete", obs.Int("contextItems", len(task.ContextChain)))
	e.emitState("runtime.task.completed", task, pipeline, nil)
	return nil
}

// generatePipeline asks the model to plan the task. Any failure yields
// the empty pipeline and an error context item; the task still counts
// as complete.
func (e *Engine) generatePipeline(ctx context.Context, task *agent.Task) agent.Pipeline {
	prompt, err := e.templates.Render(pipelineTemplateID, generationContext{
		ContextChain:     task.ContextChain,
		AvailablePlugins: e.plugins.Summaries(),
		CurrentContext:   task.CurrentContext(),
	})
	if err != nil {
		e.recordGenerationFailure(task, err)
		return nil
	}

	value, err := e.GetObject(ctx, PipelineSchema, prompt)
	if err != nil {
		e.recordGenerationFailure(task, err)
		return nil
	}

	var pipeline agent.Pipeline
	if err := decode(value, &pipeline); err != nil {
		e.recordGenerationFailure(task, err)
		return nil
	}

	e.log.Info("pipeline generated",
		obs.String("task", task.ID), obs.Int("steps", len(pipeline)))
	return pipeline
}

func (e *Engine) recordGenerationFailure(task *agent.Task, err error) {
	e.log.Warn("pipeline generation failed, continuing with empty pipeline",
		obs.String("task", task.ID), obs.Err(err))
	task.AppendContext(agent.NewErrorContext("", "", fmt.Errorf("pipeline generation: %w", err), nil))
}

// executeStep resolves and runs one step, appending either a result
// item or an error item to the chain.
func (e *Engine) executeStep(ctx context.Context, task *agent.Task, step agent.PipelineStep) {
	stepCtx, span := obs.StartStepSpan(ctx, step.PluginID, step.Action)
	defer span.End()

	p, ok := e.plugins.Get(step.PluginID)
	if !ok {
		err := fmt.Errorf("plugin %s not found", step.PluginID)
		obs.RecordError(stepCtx, err)
		obs.PipelineStepFailures.WithLabelValues(step.PluginID, step.Action).Inc()
		task.AppendContext(agent.NewErrorContext(step.PluginID, step.Action, err, &step))
		return
	}
	exec, ok := p.Executor(step.Action)
	if !ok {
		err := fmt.Errorf("executor %s not found on plugin %s", step.Action, step.PluginID)
		obs.RecordError(stepCtx, err)
		obs.PipelineStepFailures.WithLabelValues(step.PluginID, step.Action).Inc()
		task.AppendContext(agent.NewErrorContext(step.PluginID, step.Action, err, &step))
		return
	}

	result := e.callExecutor(stepCtx, exec, task, step)
	obs.PipelineStepsExecuted.WithLabelValues(step.PluginID, step.Action).Inc()

	if !result.Success {
		obs.PipelineStepFailures.WithLabelValues(step.PluginID, step.Action).Inc()
		obs.RecordError(stepCtx, fmt.Errorf("%s", result.Error))
		task.AppendContext(agent.NewErrorContext(step.PluginID, step.Action, fmt.Errorf("%s", result.Error), &step))
		return
	}
	obs.SetSpanSuccess(stepCtx)
	if result.Data == nil {
		return
	}

	content, err := json.Marshal(result.Data)
	if err != nil {
		content = []byte(agent.SafeStringify(fmt.Sprintf("%v", result.Data)))
	}
	item := agent.NewContextItem(step.PluginID, step.Action, step.Action, string(content))
	item.Metadata = make(map[string]any, len(result.Data))
	for k, v := range result.Data {
		item.Metadata[k] = v
	}
	task.AppendContext(item)
}

// callExecutor isolates executor panics into failure results.
func (e *Engine) callExecutor(ctx context.Context, exec *plugin.Executor, task *agent.Task, step agent.PipelineStep) (result agent.PluginResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor panicked",
				obs.String("plugin", step.PluginID),
				obs.String("action", step.Action),
				obs.Any("panic", r))
			result = agent.PluginResult{Success: false, Error: fmt.Sprintf("executor panic: %v", r)}
		}
	}()
	return exec.Fn(ctx, task)
}

// modifyPipeline asks the model whether the remaining steps should
// change. Steps up to and including idx are always retained; any
// failure keeps the pipeline unchanged.
func (e *Engine) modifyPipeline(ctx context.Context, task *agent.Task, pipeline agent.Pipeline, idx int) agent.Pipeline {
	remaining := make([]agent.PipelineStep, 0)
	if idx+1 < len(pipeline) {
		remaining = append(remaining, pipeline[idx+1:]...)
	}
	prompt, err := e.templates.Render(modificationTemplateID, modificationContext{
		ContextChain:      task.ContextChain,
		CurrentStep:       pipeline[idx],
		RemainingPipeline: remaining,
		AvailablePlugins:  e.plugins.Summaries(),
	})
	if err != nil {
		e.log.Warn("modification template failed, keeping pipeline", obs.Err(err))
		return pipeline
	}

	value, err := e.GetObject(ctx, ModificationSchema, prompt)
	if err != nil {
		e.log.Warn("modification check failed, keeping pipeline",
			obs.String("task", task.ID), obs.Err(err))
		return pipeline
	}
	var mod agent.PipelineModification
	if err := decode(value, &mod); err != nil {
		e.log.Warn("modification decode failed, keeping pipeline", obs.Err(err))
		return pipeline
	}
	if !mod.ShouldModify || mod.ModifiedSteps == nil {
		return pipeline
	}

	modified := make(agent.Pipeline, 0, idx+1+len(mod.ModifiedSteps))
	modified = append(modified, pipeline[:idx+1]...)
	modified = append(modified, mod.ModifiedSteps...)

	obs.PipelineModifications.Inc()
	e.log.Info("pipeline modified",
		obs.String("task", task.ID),
		obs.Int("retained", idx+1),
		obs.Int("replacement", len(mod.ModifiedSteps)),
		obs.String("explanation", mod.Explanation))
	e.emitModification(task, modified, idx, mod)
	return modified
}

func (e *Engine) emitState(message string, task *agent.Task, pipeline agent.Pipeline, stepIdx *int) {
	state := e.baseState()
	state.CurrentContext = task.CurrentContext()
	state.Pipeline = pipeline
	if stepIdx != nil {
		state.CurrentStepIndex = stepIdx
		if *stepIdx < len(pipeline) {
			step := pipeline[*stepIdx]
			state.CurrentStep = &step
		}
	}
	e.bus.Publish(monitor.StateEvent(message, state))
}

func (e *Engine) emitModification(task *agent.Task, pipeline agent.Pipeline, idx int, mod agent.PipelineModification) {
	state := e.baseState()
	state.CurrentContext = task.CurrentContext()
	state.Pipeline = pipeline
	state.CurrentStepIndex = &idx
	state.ModifiedSteps = mod.ModifiedSteps
	state.Explanation = mod.Explanation
	e.bus.Publish(monitor.StateEvent("pipeline.modification.applied", state))
}

func (e *Engine) baseState() monitor.StateSnapshot {
	if e.queueState != nil {
		return e.queueState()
	}
	return monitor.StateSnapshot{}
}
