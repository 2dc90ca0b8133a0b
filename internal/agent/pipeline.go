// Copyright 2025 James Ross
package agent

// PipelineStep names one executor invocation: the plugin and the action
// (executor name) on it.
type PipelineStep struct {
	PluginID string `json:"pluginId"`
	Action   string `json:"action"`
}

// Pipeline is the ordered list of steps the model produced for a task.
type Pipeline []PipelineStep

// PipelineModification is the model's answer to "should the remaining
// pipeline change in light of the last step". ModifiedSteps is nil when
// the pipeline is kept as-is.
type PipelineModification struct {
	ShouldModify  bool           `json:"shouldModify"`
	Explanation   string         `json:"explanation"`
	ModifiedSteps []PipelineStep `json:"modifiedSteps"`
}

// PluginResult is what an executor returns. A successful result with nil
// Data produces no context item.
type PluginResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}
