// Copyright 2025 James Ross
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/analytics"
	"github.com/0xPBIT/maiar-ai-sub000/internal/capability"
	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"go.uber.org/zap"
)

// Manager owns the registered model providers and routes capability
// calls to them through the alias/transform layer.
type Manager struct {
	mu        sync.RWMutex
	registry  *capability.Registry
	providers map[string]Provider
	caps      map[string]map[string]*Capability // provider id -> capability id -> capability
	wrapper   *analytics.Wrapper
	log       *zap.Logger
}

// NewManager builds a manager over the given capability registry.
func NewManager(reg *capability.Registry, wrapper *analytics.Wrapper, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if wrapper == nil {
		wrapper = analytics.NewWrapper(log, nil)
	}
	return &Manager{
		registry:  reg,
		providers: make(map[string]Provider),
		caps:      make(map[string]map[string]*Capability),
		wrapper:   wrapper,
		log:       log,
	}
}

// Register initializes and health-checks the provider, then declares
// its capabilities. A failure at any step rolls the provider back out
// and surfaces the underlying error.
func (m *Manager) Register(ctx context.Context, p Provider) error {
	m.mu.Lock()
	if _, exists := m.providers[p.ID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateModel, p.ID())
	}
	m.mu.Unlock()

	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("init model %s: %w", p.ID(), err)
	}
	if err := p.CheckHealth(ctx); err != nil {
		if shutdownErr := p.Shutdown(ctx); shutdownErr != nil {
			m.log.Warn("rollback shutdown failed",
				obs.String("model", p.ID()), obs.Err(shutdownErr))
		}
		return fmt.Errorf("health check for model %s: %w", p.ID(), err)
	}

	byID := make(map[string]*Capability)
	for _, c := range p.Capabilities() {
		byID[c.ID] = c
		m.registry.RegisterCapability(p.ID(), c.ID)
	}

	m.mu.Lock()
	m.providers[p.ID()] = p
	m.caps[p.ID()] = byID
	m.mu.Unlock()

	m.log.Info("model registered",
		obs.String("model", p.ID()), obs.Int("capabilities", len(byID)))
	return nil
}

// Unregister mirrors registration in reverse: the provider's
// capabilities are withdrawn before its shutdown hook runs.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.providers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	delete(m.providers, id)
	delete(m.caps, id)
	m.mu.Unlock()

	m.registry.UnregisterProvider(id)
	if err := p.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown model %s: %w", id, err)
	}
	m.log.Info("model unregistered", obs.String("model", id))
	return nil
}

// Provider looks up a registered provider by id.
func (m *Manager) Provider(id string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	return p, ok
}

// Capability looks up one capability on one provider.
func (m *Manager) Capability(providerID, capID string) (*Capability, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.caps[providerID]
	if !ok {
		return nil, false
	}
	c, ok := byID[capID]
	return c, ok
}

// HasCapability reports whether id (alias or canonical) is served by at
// least one provider.
func (m *Manager) HasCapability(id string) bool {
	return m.registry.Declared(id)
}

// Registry exposes the capability registry the manager routes through.
func (m *Manager) Registry() *capability.Registry {
	return m.registry
}

// ExecuteCapability routes one capability call: alias resolution,
// provider choice, plugin-to-provider transforms, provider-side schema
// validation, analytics-wrapped execution, provider-to-plugin output
// transform.
func (m *Manager) ExecuteCapability(ctx context.Context, capID string, input any, config map[string]any, modelID string) (any, error) {
	canonical := m.registry.Resolve(capID)

	providerID := modelID
	if providerID == "" {
		def, ok := m.registry.DefaultProvider(canonical)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoProvider, capID)
		}
		providerID = def
	} else if _, ok := m.Provider(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, providerID)
	}

	c, ok := m.Capability(providerID, canonical)
	if !ok {
		return nil, fmt.Errorf("%w: provider %s, capability %s", ErrCapabilityMissing, providerID, canonical)
	}

	entry, hasEntry := m.registry.SelectTransformEntry(capID, input, config)

	execInput := input
	execConfig := config
	if hasEntry {
		var err error
		if execInput, err = entry.Input.Apply(execInput); err != nil {
			return nil, fmt.Errorf("input transform for %s: %w", capID, err)
		}
		if entry.Config != nil {
			transformed, err := entry.Config.Apply(execConfig)
			if err != nil {
				return nil, fmt.Errorf("config transform for %s: %w", capID, err)
			}
			cfg, ok := transformed.(map[string]any)
			if !ok && transformed != nil {
				return nil, fmt.Errorf("config transform for %s produced %T, want map", capID, transformed)
			}
			execConfig = cfg
		}
	}

	configSchema := c.Config
	if hasEntry && entry.Config != nil && entry.Config.ProviderSchema != nil {
		configSchema = entry.Config.ProviderSchema
	}
	if configSchema != nil {
		checked := execConfig
		if checked == nil {
			checked = map[string]any{}
		}
		if err := configSchema.Validate(checked); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidConfig, capID, err)
		}
	}

	inputSchema := c.Input
	if hasEntry && entry.Input != nil && entry.Input.ProviderSchema != nil {
		inputSchema = entry.Input.ProviderSchema
	}
	if err := inputSchema.Validate(execInput); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidInput, capID, err)
	}

	ec := &analytics.ExecutionContext{
		CapabilityID:   canonical,
		ModelID:        providerID,
		OperationLabel: capID,
		Input:          execInput,
		Config:         execConfig,
		StartTime:      time.Now(),
	}
	spanCtx, span := obs.StartCapabilitySpan(ctx, canonical, providerID)
	result, err := m.wrapper.Execute(spanCtx, ec, func(ctx context.Context) (any, error) {
		return c.Execute(ctx, execInput, execConfig)
	})
	if err != nil {
		obs.RecordError(spanCtx, err)
		span.End()
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrExecution, canonical, providerID, err)
	}
	obs.SetSpanSuccess(spanCtx)
	span.End()

	if hasEntry && entry.Output != nil {
		transformed, err := entry.Output.Apply(result)
		if err != nil {
			return nil, fmt.Errorf("output transform for %s: %w", capID, err)
		}
		result = transformed
	}
	return result, nil
}
