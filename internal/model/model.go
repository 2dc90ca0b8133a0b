// Copyright 2025 James Ross
package model

import (
	"context"
	"errors"

	"github.com/0xPBIT/maiar-ai-sub000/internal/capability"
)

// CapTextGeneration is the one capability every runtime requires: the
// engine's pipeline planning runs through it.
const CapTextGeneration = "text-generation"

var (
	// ErrNoProvider means no default and no explicit model was available
	// for the capability at call time.
	ErrNoProvider = errors.New("no provider for capability")
	// ErrUnknownModel means the explicit model id is not registered.
	ErrUnknownModel = errors.New("unknown model")
	// ErrDuplicateModel means the model id is already registered.
	ErrDuplicateModel = errors.New("model already registered")
	// ErrCapabilityMissing means alias resolution succeeded but the
	// chosen provider does not implement the canonical capability.
	ErrCapabilityMissing = errors.New("capability missing on provider")
	// ErrInvalidInput means the transformed input failed provider-side
	// schema validation.
	ErrInvalidInput = errors.New("invalid capability input")
	// ErrInvalidConfig means the transformed config failed provider-side
	// schema validation.
	ErrInvalidConfig = errors.New("invalid capability config")
	// ErrExecution wraps a provider failure while running a capability.
	ErrExecution = errors.New("model execution error")
)

// Capability is one typed operation a provider declares: schemas for
// input, output, and config, plus the execute function.
type Capability struct {
	ID          string
	Name        string
	Description string
	Input       *capability.Schema
	Output      *capability.Schema
	Config      *capability.Schema
	Execute     func(ctx context.Context, input any, config map[string]any) (any, error)
}

// Provider is a model backend. Implementations must be safe for
// concurrent use; the scheduler runs tasks in parallel lanes.
type Provider interface {
	ID() string
	Name() string
	Description() string
	Init(ctx context.Context) error
	CheckHealth(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Capabilities() []*Capability
}
