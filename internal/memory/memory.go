// Copyright 2025 James Ross
package memory

import (
	"context"
	"errors"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("memory record not found")

// Record is one stored memory: the trigger that started a task and, once
// the task completed, its full context chain. CreatedAt is set at insert
// and never mutated; Context and UpdatedAt are set exactly once on
// completion.
type Record struct {
	ID        string         `json:"id"`
	SpaceID   string         `json:"spaceId"`
	Trigger   string         `json:"trigger"`
	Context   string         `json:"context,omitempty"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Update is a partial patch applied to an existing record. Nil fields
// are left untouched.
type Update struct {
	Context   *string
	Metadata  map[string]any
	UpdatedAt int64
}

// QueryOptions filters a memory query. RelatedSpaces wins over SpaceID
// when both are set. Before/After bound CreatedAt in milliseconds; zero
// means unbounded. Results are ordered by descending CreatedAt.
type QueryOptions struct {
	SpaceID       string
	RelatedSpaces *agent.RelatedSpaces
	Before        int64
	After         int64
	Limit         int
	Offset        int
}

// Provider is the storage contract the runtime consumes. Implementations
// must be safe for concurrent readers and for concurrent writes to
// distinct record ids; the scheduler serializes the two writes of any
// single task.
type Provider interface {
	ID() string
	Init(ctx context.Context) error
	CheckHealth(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Store(ctx context.Context, rec Record) (string, error)
	Update(ctx context.Context, id string, patch Update) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, opts QueryOptions) ([]Record, error)
}
