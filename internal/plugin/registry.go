// Copyright 2025 James Ross
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/templates"
	"go.uber.org/zap"
)

var (
	// ErrDuplicatePlugin means the id is already registered.
	ErrDuplicatePlugin = errors.New("plugin already registered")
	// ErrUnknownPlugin means no plugin carries the id.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrShutdownTimeout means a plugin did not shut down within its
	// grace window; the runtime abandons the wait and moves on.
	ErrShutdownTimeout = errors.New("plugin shutdown timed out")
)

// Registry holds the runtime's plugins in registration order.
type Registry struct {
	mu        sync.RWMutex
	plugins   []*Plugin
	byID      map[string]*Plugin
	templates *templates.Registry
	log       *zap.Logger
}

// NewRegistry returns an empty registry. Prompt directories of
// registered plugins land in tpl under the plugin id as namespace.
func NewRegistry(tpl *templates.Registry, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{byID: make(map[string]*Plugin), templates: tpl, log: log}
}

// Register runs the plugin's init hook and indexes it. Required
// capabilities are checked at runtime bootstrap, not here.
func (r *Registry) Register(ctx context.Context, p *Plugin) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("plugin must carry an id")
	}
	r.mu.Lock()
	if _, exists := r.byID[p.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.ID)
	}
	r.mu.Unlock()

	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("init plugin %s: %w", p.ID, err)
	}
	if p.PromptsDir != "" && r.templates != nil {
		if err := r.templates.RegisterDirectory(p.PromptsDir, p.ID); err != nil {
			return fmt.Errorf("register prompts for %s: %w", p.ID, err)
		}
	}

	r.mu.Lock()
	r.plugins = append(r.plugins, p)
	r.byID[p.ID] = p
	r.mu.Unlock()

	r.log.Info("plugin registered",
		zap.String("plugin", p.ID),
		zap.Int("executors", len(p.Executors)),
		zap.Int("triggers", len(p.Triggers)))
	return nil
}

// Unregister removes the plugin and runs its shutdown hook, waiting at
// most timeout. A timed-out shutdown is abandoned but the plugin is
// still removed.
func (r *Registry) Unregister(ctx context.Context, id string, timeout time.Duration) error {
	r.mu.Lock()
	p, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	delete(r.byID, id)
	for i, q := range r.plugins {
		if q.ID == id {
			r.plugins = append(r.plugins[:i], r.plugins[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown plugin %s: %w", id, err)
		}
		return nil
	case <-time.After(timeout):
		r.log.Warn("plugin shutdown abandoned", zap.String("plugin", id), zap.Duration("timeout", timeout))
		return fmt.Errorf("%w: %s", ErrShutdownTimeout, id)
	}
}

// Get looks up a plugin by exact id.
func (r *Registry) Get(id string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// List returns plugins in registration order.
func (r *Registry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Summaries renders every plugin for prompt material, in registration
// order.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Summarize())
	}
	return out
}

// RequiredCapabilities is the union of every plugin's declared
// capability ids.
func (r *Registry) RequiredCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.plugins {
		for _, capID := range p.RequiredCapabilities {
			if _, ok := seen[capID]; ok {
				continue
			}
			seen[capID] = struct{}{}
			out = append(out, capID)
		}
	}
	return out
}
