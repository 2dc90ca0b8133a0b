// Copyright 2025 James Ross
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/analytics"
	"github.com/0xPBIT/maiar-ai-sub000/internal/capability"
	"github.com/0xPBIT/maiar-ai-sub000/internal/config"
	"github.com/0xPBIT/maiar-ai-sub000/internal/engine"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	memoryplugin "github.com/0xPBIT/maiar-ai-sub000/internal/memory-plugin"
	"github.com/0xPBIT/maiar-ai-sub000/internal/model"
	"github.com/0xPBIT/maiar-ai-sub000/internal/monitor"
	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"github.com/0xPBIT/maiar-ai-sub000/internal/plugin"
	"github.com/0xPBIT/maiar-ai-sub000/internal/scheduler"
	"github.com/0xPBIT/maiar-ai-sub000/internal/server"
	"github.com/0xPBIT/maiar-ai-sub000/internal/templates"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ErrMissingCapability aborts boot when a required capability has no
// provider.
var ErrMissingCapability = errors.New("required capability missing")

// requiredCapabilities is the fixed set every runtime needs regardless
// of plugins: pipeline planning runs on text generation.
var requiredCapabilities = []string{model.CapTextGeneration}

// AliasGroup declares ids that name the same capability. The first id
// already declared by a provider becomes canonical; the others become
// aliases of it, with the given transforms.
type AliasGroup struct {
	IDs        []string
	Transforms []capability.TransformEntry
}

// Options assembles a runtime.
type Options struct {
	Config   *config.Config
	Models   []model.Provider
	Memory   memory.Provider
	Plugins  []*plugin.Plugin
	Trackers []analytics.Tracker
	Aliases  []AliasGroup
	// ExtraRequiredCapabilities extends the fixed required set beyond
	// what plugins declare.
	ExtraRequiredCapabilities []string
}

// Runtime composes the managers, the engine, the scheduler, and the
// HTTP surface into one bootable agent.
type Runtime struct {
	cfg *config.Config
	log *zap.Logger
	hub *obs.LogHub
	bus *monitor.Bus

	caps      *capability.Registry
	models    *model.Manager
	memory    memory.Provider
	templates *templates.Registry
	plugins   *plugin.Registry
	wrapper   *analytics.Wrapper
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	server    *server.Server

	opts   Options
	tracer *sdktrace.TracerProvider

	cancel       context.CancelFunc
	sigCh        chan os.Signal
	modelOrder   []string
	shutdownOnce sync.Once
	stopped      chan struct{}
}

// New wires the component graph. No I/O happens here; Start performs
// the boot sequence.
func New(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if opts.Memory == nil {
		return nil, fmt.Errorf("memory provider is required")
	}

	hub := obs.NewLogHub()
	logOpts := obs.LoggerOptions{Level: cfg.Logger.Level}
	for _, tr := range cfg.Logger.Transports {
		logOpts.Transports = append(logOpts.Transports, obs.TransportOptions{
			Type:       tr.Type,
			Path:       tr.Path,
			MaxSizeMB:  tr.MaxSizeMB,
			MaxBackups: tr.MaxBackups,
			MaxAgeDays: tr.MaxAgeDays,
		})
	}
	log, err := obs.NewLogger(logOpts, hub)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	bus := monitor.NewBus(obs.Scope(log, "monitor"))
	wrapper := analytics.NewWrapper(obs.Scope(log, "analytics"), analyticsSink(bus))
	wrapper.Register(&analytics.LoggingTracker{Log: obs.Scope(log, "capability")})
	wrapper.Register(&analytics.MetricsTracker{})
	for _, t := range opts.Trackers {
		wrapper.Register(t)
	}

	caps := capability.NewRegistry(obs.Scope(log, "capability"))
	models := model.NewManager(caps, wrapper, obs.Scope(log, "model"))
	tpl := templates.NewRegistry(obs.Scope(log, "templates"))
	plugins := plugin.NewRegistry(tpl, obs.Scope(log, "plugin"))

	eng := engine.New(plugins, models, tpl, bus, engine.Config{
		MaxRetries:  cfg.GetObject.MaxRetries,
		Temperature: cfg.GetObject.Temperature,
	}, obs.Scope(log, "engine"))

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		DrainTimeout:       cfg.Shutdown.PerTask,
	}, eng, opts.Memory, bus, obs.Scope(log, "scheduler"))
	eng.SetQueueStateSource(sched.Snapshot)

	srv := server.New(server.Options{
		Port:               cfg.Server.Port,
		CORSOrigin:         cfg.Server.CORSOrigin,
		CORSMethods:        cfg.Server.CORSMethods,
		CORSAllowedHeaders: cfg.Server.CORSAllowedHeaders,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
	}, obs.Scope(log, "server"))

	return &Runtime{
		cfg:       cfg,
		log:       log,
		hub:       hub,
		bus:       bus,
		caps:      caps,
		models:    models,
		memory:    opts.Memory,
		templates: tpl,
		plugins:   plugins,
		wrapper:   wrapper,
		engine:    eng,
		scheduler: sched,
		server:    srv,
		opts:      opts,
		stopped:   make(chan struct{}),
	}, nil
}

// analyticsSink forwards capability telemetry onto the monitor stream.
func analyticsSink(bus *monitor.Bus) analytics.Sink {
	return func(e analytics.Event) {
		bus.Publish(monitor.Event{
			Type:      e.Type,
			Message:   e.OperationLabel,
			Timestamp: e.Timestamp,
			Metadata: map[string]any{
				"trackerId":    e.TrackerID,
				"capabilityId": e.CapabilityID,
				"modelId":      e.ModelID,
				"duration":     e.Duration,
				"error":        e.Error,
				"data":         e.Data,
			},
		})
	}
}

// Start boots the runtime in dependency order and fails fast on the
// first error. A failed boot releases the listener before returning.
func (r *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.boot(runCtx); err != nil {
		cancel()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), r.cfg.Shutdown.Server)
		_ = r.server.Shutdown(shutdownCtx)
		cancelShutdown()
		return err
	}

	r.installSignalHandlers()
	r.scheduler.Start(runCtx)

	r.log.Info("runtime started",
		obs.String("addr", r.server.Addr()),
		obs.Int("plugins", len(r.plugins.List())),
		obs.Int("models", len(r.modelOrder)))
	return nil
}

func (r *Runtime) boot(runCtx context.Context) error {
	tracer, err := obs.MaybeInitTracing(obs.TracingOptions{
		Enabled:      r.cfg.Tracing.Enabled,
		Endpoint:     r.cfg.Tracing.Endpoint,
		Environment:  r.cfg.Tracing.Environment,
		SamplingRate: r.cfg.Tracing.SamplingRate,
	})
	if err != nil {
		r.log.Warn("tracing init failed", obs.Err(err))
	}
	r.tracer = tracer

	if err := r.server.Start(); err != nil {
		return err
	}
	if err := r.mountStreams(); err != nil {
		return err
	}

	if err := engine.RegisterCoreTemplates(r.templates); err != nil {
		return fmt.Errorf("register core templates: %w", err)
	}

	for _, p := range r.opts.Models {
		if err := r.models.Register(runCtx, p); err != nil {
			return err
		}
		r.modelOrder = append(r.modelOrder, p.ID())
	}

	if err := r.memory.Init(runCtx); err != nil {
		return fmt.Errorf("init memory provider: %w", err)
	}
	if err := r.memory.CheckHealth(runCtx); err != nil {
		return fmt.Errorf("memory provider health: %w", err)
	}

	if err := r.registerPlugin(runCtx, memoryplugin.New(r.memory)); err != nil {
		return err
	}
	for _, p := range r.opts.Plugins {
		if err := r.registerPlugin(runCtx, p); err != nil {
			return err
		}
	}

	if err := r.mountManagementRoutes(); err != nil {
		return err
	}

	if err := r.installAliases(); err != nil {
		return err
	}
	return r.verifyCapabilities()
}

func (r *Runtime) registerPlugin(ctx context.Context, p *plugin.Plugin) error {
	if err := r.plugins.Register(ctx, p); err != nil {
		return err
	}
	p.Bind(r)

	for _, trig := range p.Triggers {
		if trig.Route != nil {
			route := trig.Route
			if err := r.server.Handle(route.Method, route.Path, route.Handler, route.Middleware...); err != nil {
				return fmt.Errorf("mount route for plugin %s: %w", p.ID, err)
			}
		}
		if trig.Start != nil {
			start := trig.Start
			name := trig.Name
			pluginID := p.ID
			go func() {
				if err := start(ctx); err != nil {
					r.log.Error("trigger stopped with error",
						obs.String("plugin", pluginID),
						obs.String("trigger", name),
						obs.Err(err))
				}
			}()
		}
	}
	return nil
}

// installAliases applies the alias groups: within each group the first
// id a provider already declares is canonical, the rest map onto it.
func (r *Runtime) installAliases() error {
	for _, group := range r.opts.Aliases {
		if len(group.IDs) == 0 {
			continue
		}
		canonical := group.IDs[0]
		for _, id := range group.IDs {
			if r.caps.Declared(id) {
				canonical = id
				break
			}
		}
		for _, id := range group.IDs {
			if id == canonical {
				continue
			}
			if err := r.caps.RegisterAlias(id, canonical, group.Transforms...); err != nil {
				return fmt.Errorf("alias %s -> %s: %w", id, canonical, err)
			}
		}
	}
	return nil
}

// verifyCapabilities checks the fixed required set plus every
// plugin-declared capability. Any gap is fatal.
func (r *Runtime) verifyCapabilities() error {
	required := make(map[string]struct{})
	for _, id := range requiredCapabilities {
		required[id] = struct{}{}
	}
	for _, id := range r.opts.ExtraRequiredCapabilities {
		required[id] = struct{}{}
	}
	for _, id := range r.plugins.RequiredCapabilities() {
		required[id] = struct{}{}
	}

	var missing []string
	for id := range required {
		if !r.models.HasCapability(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrMissingCapability, missing)
	}
	return nil
}

func (r *Runtime) installSignalHandlers() {
	r.sigCh = make(chan os.Signal, 2)
	signal.Notify(r.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP)
	go func() {
		sig, ok := <-r.sigCh
		if !ok {
			return
		}
		r.log.Info("signal received, shutting down", obs.String("signal", sig.String()))
		r.Stop()
	}()
}

// Stop shuts the runtime down exactly once: the HTTP server first, then
// the scheduler drain, plugins in parallel, the memory provider, and the
// model providers in reverse registration order. Safe to call from any goroutine; later calls wait for the first.
func (r *Runtime) Stop() {
	r.shutdownOnce.Do(func() {
		defer close(r.stopped)
		if r.sigCh != nil {
			signal.Stop(r.sigCh)
			close(r.sigCh)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Shutdown.Server)
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			r.log.Warn("server shutdown timed out", obs.Err(err))
		}
		cancel()

		if r.cancel != nil {
			r.cancel()
			select {
			case <-r.scheduler.Done():
			case <-time.After(r.cfg.Shutdown.PerTask + time.Second):
				r.log.Warn("scheduler did not drain in time")
			}
		}

		var wg sync.WaitGroup
		for _, p := range r.plugins.List() {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := r.plugins.Unregister(context.Background(), id, r.cfg.Shutdown.PerPlugin); err != nil {
					r.log.Warn("plugin unregister failed", obs.String("plugin", id), obs.Err(err))
				}
			}(p.ID)
		}
		wg.Wait()

		if err := r.memory.Shutdown(context.Background()); err != nil {
			r.log.Warn("memory shutdown failed", obs.Err(err))
		}

		for i := len(r.modelOrder) - 1; i >= 0; i-- {
			if err := r.models.Unregister(context.Background(), r.modelOrder[i]); err != nil {
				r.log.Warn("model unregister failed",
					obs.String("model", r.modelOrder[i]), obs.Err(err))
			}
		}

		if r.tracer != nil {
			_ = r.tracer.Shutdown(context.Background())
		}
		r.log.Info("runtime stopped")
		_ = r.log.Sync()
	})
	<-r.stopped
}

// Stopped closes once shutdown has completed.
func (r *Runtime) Stopped() <-chan struct{} {
	return r.stopped
}

// ExecuteCapability routes a capability call through the model manager.
func (r *Runtime) ExecuteCapability(ctx context.Context, capabilityID string, input any, cfg map[string]any, modelID string) (any, error) {
	return r.models.ExecuteCapability(ctx, capabilityID, input, cfg, modelID)
}

// GetObject asks the model for a JSON value conforming to schema.
func (r *Runtime) GetObject(ctx context.Context, schema *capability.Schema, prompt string) (any, error) {
	return r.engine.GetObject(ctx, schema, prompt)
}

// CreateEvent enqueues a task for a trigger.
func (r *Runtime) CreateEvent(ctx context.Context, trigger *agent.ContextItem, space agent.Space) error {
	_, err := r.scheduler.QueueTask(trigger, space)
	return err
}

// Memory exposes the memory provider.
func (r *Runtime) Memory() memory.Provider { return r.memory }

// Templates exposes the prompt template registry.
func (r *Runtime) Templates() *templates.Registry { return r.templates }

// Server exposes the HTTP server for embedders.
func (r *Runtime) Server() *server.Server { return r.server }

// Monitor exposes the monitoring event bus.
func (r *Runtime) Monitor() *monitor.Bus { return r.bus }
