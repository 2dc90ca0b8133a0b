// Copyright 2025 James Ross
package agent

import (
	"time"

	"github.com/google/uuid"
)

// ContextTypeError marks context items produced from failed steps or
// failed pipeline generation.
const ContextTypeError = "error"

// ContextItem is one entry in a task's context chain. The first item is
// always the trigger that created the task; later items record step
// results and errors in arrival order.
type ContextItem struct {
	ID                 string         `json:"id"`
	PluginID           string         `json:"pluginId,omitempty"`
	Action             string         `json:"action,omitempty"`
	Type               string         `json:"type"`
	Content            string         `json:"content,omitempty"`
	Timestamp          int64          `json:"timestamp"`
	HelpfulInstruction string         `json:"helpfulInstruction,omitempty"`
	Error              string         `json:"error,omitempty"`
	FailedStep         *PipelineStep  `json:"failedStep,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// NewContextItem builds a context item with a fresh id and the current
// timestamp in milliseconds.
func NewContextItem(pluginID, action, typ, content string) *ContextItem {
	return &ContextItem{
		ID:        uuid.NewString(),
		PluginID:  pluginID,
		Action:    action,
		Type:      typ,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewTriggerContext builds the first item of a context chain on behalf of
// a plugin trigger.
func NewTriggerContext(pluginID, typ, content string) *ContextItem {
	return NewContextItem(pluginID, "", typ, content)
}

// NewErrorContext records a failure. failed may be nil when the error did
// not originate from a concrete pipeline step.
func NewErrorContext(pluginID, action string, err error, failed *PipelineStep) *ContextItem {
	item := NewContextItem(pluginID, action, ContextTypeError, "")
	if err != nil {
		item.Error = err.Error()
		item.Content = err.Error()
	}
	item.FailedStep = failed
	return item
}
