// Copyright 2025 James Ross
package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrUnknownCapability means the capability id is not declared by any
	// registered provider.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrUnknownCapabilityForProvider means the provider exists but does
	// not declare the capability it was asked to default for.
	ErrUnknownCapabilityForProvider = errors.New("capability not declared by provider")
)

// Registry tracks which providers declare which capabilities, the
// default provider per capability, and the alias/transform table that
// lets plugins and providers speak different vocabularies.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]map[string]struct{} // capability id -> provider ids
	defaults   map[string]string              // capability id -> default provider id
	aliases    map[string]string              // alias id -> canonical id
	transforms map[string][]TransformEntry    // alias id -> ordered entries
	log        *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		providers:  make(map[string]map[string]struct{}),
		defaults:   make(map[string]string),
		aliases:    make(map[string]string),
		transforms: make(map[string][]TransformEntry),
		log:        log,
	}
}

// RegisterCapability records that provider declares the capability.
// Idempotent; the first provider to declare a capability becomes its
// default.
func (r *Registry) RegisterCapability(providerID, capID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.providers[capID]
	if !ok {
		set = make(map[string]struct{})
		r.providers[capID] = set
	}
	set[providerID] = struct{}{}
	if _, ok := r.defaults[capID]; !ok {
		r.defaults[capID] = providerID
		r.log.Debug("default provider assigned",
			zap.String("capability", capID), zap.String("provider", providerID))
	}
}

// UnregisterProvider removes the provider from every capability it
// declares. Defaults held by the provider move to another declaring
// provider when one exists.
func (r *Registry) UnregisterProvider(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for capID, set := range r.providers {
		if _, ok := set[providerID]; !ok {
			continue
		}
		delete(set, providerID)
		if len(set) == 0 {
			delete(r.providers, capID)
			delete(r.defaults, capID)
			continue
		}
		if r.defaults[capID] == providerID {
			remaining := make([]string, 0, len(set))
			for id := range set {
				remaining = append(remaining, id)
			}
			sort.Strings(remaining)
			r.defaults[capID] = remaining[0]
		}
	}
}

// SetDefaultModelForCapability pins the default provider for a
// capability. The provider must already declare it.
func (r *Registry) SetDefaultModelForCapability(capID, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.providers[capID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capID)
	}
	if _, ok := set[providerID]; !ok {
		return fmt.Errorf("%w: provider %s, capability %s", ErrUnknownCapabilityForProvider, providerID, capID)
	}
	r.defaults[capID] = providerID
	return nil
}

// RegisterAlias maps aliasID onto a declared canonical capability with
// optional value transforms. Entries keep registration order.
func (r *Registry) RegisterAlias(aliasID, canonicalID string, transforms ...TransformEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[canonicalID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, canonicalID)
	}
	r.aliases[aliasID] = canonicalID
	if len(transforms) > 0 {
		r.transforms[aliasID] = append(r.transforms[aliasID], transforms...)
	}
	return nil
}

// Resolve maps an alias to its canonical capability id; non-aliases
// resolve to themselves.
func (r *Registry) Resolve(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[id]; ok {
		return canonical
	}
	return id
}

// Declared reports whether id, after alias resolution, is declared by at
// least one provider.
func (r *Registry) Declared(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[id]; ok {
		id = canonical
	}
	set, ok := r.providers[id]
	return ok && len(set) > 0
}

// DefaultProvider returns the default provider for a canonical
// capability id.
func (r *Registry) DefaultProvider(capID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.defaults[capID]
	return id, ok
}

// Providers lists every provider declaring the canonical capability id,
// sorted for stable output.
func (r *Registry) Providers(capID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.providers[capID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Capabilities lists every declared canonical capability id, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SelectTransformEntry picks the transform entry for an alias call:
// the first entry whose plugin-side schemas accept input and config, or
// the first entry as fallback when none accept. ok is false when the
// alias has no entries at all.
func (r *Registry) SelectTransformEntry(aliasID string, input any, config map[string]any) (TransformEntry, bool) {
	r.mu.RLock()
	entries := r.transforms[aliasID]
	r.mu.RUnlock()
	if len(entries) == 0 {
		return TransformEntry{}, false
	}
	for _, e := range entries {
		if e.accepts(input, config) {
			return e, true
		}
	}
	r.log.Debug("no transform entry accepts payload, falling back to first",
		zap.String("alias", aliasID))
	return entries[0], true
}
