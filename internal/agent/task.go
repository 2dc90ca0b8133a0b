// Copyright 2025 James Ross
package agent

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RelatedSpaces widens a memory query from one space to a family of
// spaces, by id prefix or by glob pattern. Pattern wins when both are set.
type RelatedSpaces struct {
	Prefix  string `json:"prefix,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Space is the conversational bucket a task belongs to. Memory records
// are keyed by the space id.
type Space struct {
	ID            string         `json:"id"`
	RelatedSpaces *RelatedSpaces `json:"relatedSpaces,omitempty"`
}

// ResponseHandler delivers a result back to a request/response style
// trigger, e.g. an HTTP chat endpoint waiting on the pipeline.
type ResponseHandler func(response any)

// PlatformContext carries trigger-platform details through the task,
// including the optional response handler.
type PlatformContext struct {
	Platform        string          `json:"platform,omitempty"`
	ResponseHandler ResponseHandler `json:"-"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// Task is one in-flight unit of work. The context chain starts as
// [trigger] and grows monotonically while the engine runs; it is owned
// exclusively by the task and never shared across tasks.
type Task struct {
	ID           string           `json:"id"`
	Trigger      *ContextItem     `json:"trigger"`
	ContextChain []*ContextItem   `json:"contextChain"`
	Space        Space            `json:"space"`
	Metadata     map[string]any   `json:"metadata"`
	Platform     *PlatformContext `json:"platformContext,omitempty"`
}

// NewTask wraps a trigger into a task whose chain holds exactly the
// trigger.
func NewTask(trigger *ContextItem, space Space) *Task {
	return &Task{
		ID:           uuid.NewString(),
		Trigger:      trigger,
		ContextChain: []*ContextItem{trigger},
		Space:        space,
		Metadata:     map[string]any{},
	}
}

// AppendContext appends an item to the chain. Items are never removed or
// reordered.
func (t *Task) AppendContext(item *ContextItem) {
	if item == nil {
		return
	}
	t.ContextChain = append(t.ContextChain, item)
}

// CurrentContext returns the most recent item in the chain.
func (t *Task) CurrentContext() *ContextItem {
	if len(t.ContextChain) == 0 {
		return nil
	}
	return t.ContextChain[len(t.ContextChain)-1]
}

// MarshalChain serializes the context chain for storage and for prompt
// material.
func (t *Task) MarshalChain() (string, error) {
	b, err := json.Marshal(t.ContextChain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarshalTrigger serializes the trigger item for the memory record.
func (t *Task) MarshalTrigger() (string, error) {
	b, err := json.Marshal(t.Trigger)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
