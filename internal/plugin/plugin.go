// Copyright 2025 James Ross
package plugin

import (
	"context"
	"net/http"
	"sync"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/capability"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	"github.com/0xPBIT/maiar-ai-sub000/internal/templates"
	"github.com/gorilla/mux"
)

// Host is the slice of the runtime a plugin is allowed to hold: the
// capability surface, not the runtime itself. It is handed to each
// plugin once, right after registration.
type Host interface {
	// ExecuteCapability routes a capability call through the model
	// manager. modelID may be empty to use the capability's default
	// provider.
	ExecuteCapability(ctx context.Context, capabilityID string, input any, config map[string]any, modelID string) (any, error)
	// GetObject asks the model for a JSON value conforming to schema.
	GetObject(ctx context.Context, schema *capability.Schema, prompt string) (any, error)
	// CreateEvent enqueues a new task for the trigger in the space.
	CreateEvent(ctx context.Context, trigger *agent.ContextItem, space agent.Space) error
	// Memory exposes the runtime's memory provider.
	Memory() memory.Provider
	// Templates exposes the prompt template registry.
	Templates() *templates.Registry
}

// ExecutorFunc consumes a task and produces a plugin result. It must not
// mutate the context chain; the engine appends results itself.
type ExecutorFunc func(ctx context.Context, task *agent.Task) agent.PluginResult

// Executor is a named action a pipeline step can invoke on a plugin.
type Executor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Fn          ExecutorFunc `json:"-"`
}

// Route is an HTTP endpoint a trigger contributes to the runtime server.
type Route struct {
	Method     string
	Path       string
	Handler    http.HandlerFunc
	Middleware []mux.MiddlewareFunc
}

// Trigger is a plugin-declared event source: a background loop, an HTTP
// route, or both.
type Trigger struct {
	Name  string
	Start func(ctx context.Context) error
	Route *Route
}

// Plugin bundles executors and triggers under one id, together with the
// capabilities it requires from the model layer and an optional prompt
// directory registered under the plugin id as namespace.
type Plugin struct {
	ID                   string
	Name                 string
	Description          string
	RequiredCapabilities []string
	Executors            []Executor
	Triggers             []Trigger
	PromptsDir           string

	InitFn     func(ctx context.Context) error
	ShutdownFn func(ctx context.Context) error

	mu   sync.RWMutex
	host Host
}

// Bind hands the plugin its host surface. The first bind wins; later
// calls are ignored so a plugin's view of the runtime never changes
// mid-flight.
func (p *Plugin) Bind(h Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.host == nil {
		p.host = h
	}
}

// Host returns the bound host surface, or nil before registration.
func (p *Plugin) Host() Host {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.host
}

// Executor looks up an executor by exact name.
func (p *Plugin) Executor(name string) (*Executor, bool) {
	for i := range p.Executors {
		if p.Executors[i].Name == name {
			return &p.Executors[i], true
		}
	}
	return nil, false
}

// Init runs the plugin's init hook when one is set.
func (p *Plugin) Init(ctx context.Context) error {
	if p.InitFn == nil {
		return nil
	}
	return p.InitFn(ctx)
}

// Shutdown runs the plugin's shutdown hook when one is set.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.ShutdownFn == nil {
		return nil
	}
	return p.ShutdownFn(ctx)
}

// Summary is the plugin shape handed to the model when generating or
// modifying pipelines.
type Summary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Executors   []ExecutorSummary `json:"executors"`
}

// ExecutorSummary is one executor as seen by the model.
type ExecutorSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Summarize renders the plugin for prompt material.
func (p *Plugin) Summarize() Summary {
	execs := make([]ExecutorSummary, 0, len(p.Executors))
	for _, e := range p.Executors {
		execs = append(execs, ExecutorSummary{Name: e.Name, Description: e.Description})
	}
	return Summary{ID: p.ID, Name: p.Name, Description: p.Description, Executors: execs}
}
