// Copyright 2025 James Ross
package memoryplugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	"github.com/0xPBIT/maiar-ai-sub000/internal/plugin"
)

const defaultQueryLimit = 10

// New bundles a memory provider into the plugin every runtime registers
// first, so pipelines can persist, drop, and recall memories through
// ordinary executor steps.
func New(provider memory.Provider) *plugin.Plugin {
	return &plugin.Plugin{
		ID:          "memory",
		Name:        "Memory",
		Description: "Persists and recalls conversation memories for the current space",
		Executors: []plugin.Executor{
			{
				Name:        "save_memory",
				Description: "Save the current context chain as a memory in this space",
				Fn:          saveMemory(provider),
			},
			{
				Name:        "remove_memory",
				Description: "Remove a previously saved memory by its id",
				Fn:          removeMemory(provider),
			},
			{
				Name:        "query_memory",
				Description: "Recall recent memories from this space and its related spaces",
				Fn:          queryMemory(provider),
			},
		},
	}
}

func saveMemory(provider memory.Provider) plugin.ExecutorFunc {
	return func(ctx context.Context, task *agent.Task) agent.PluginResult {
		trigger, err := task.MarshalTrigger()
		if err != nil {
			return agent.PluginResult{Success: false, Error: fmt.Sprintf("serialize trigger: %v", err)}
		}
		chain, err := task.MarshalChain()
		if err != nil {
			return agent.PluginResult{Success: false, Error: fmt.Sprintf("serialize chain: %v", err)}
		}
		id, err := provider.Store(ctx, memory.Record{
			SpaceID:  task.Space.ID,
			Trigger:  trigger,
			Context:  chain,
			Metadata: map[string]any{"source": "save_memory", "taskId": task.ID},
		})
		if err != nil {
			return agent.PluginResult{Success: false, Error: fmt.Sprintf("store memory: %v", err)}
		}
		return agent.PluginResult{Success: true, Data: map[string]any{"memoryId": id}}
	}
}

func removeMemory(provider memory.Provider) plugin.ExecutorFunc {
	return func(ctx context.Context, task *agent.Task) agent.PluginResult {
		id := findMemoryID(task)
		if id == "" {
			return agent.PluginResult{Success: false, Error: "no memoryId found in context chain"}
		}
		if err := provider.Delete(ctx, id); err != nil {
			return agent.PluginResult{Success: false, Error: fmt.Sprintf("delete memory %s: %v", id, err)}
		}
		return agent.PluginResult{Success: true, Data: map[string]any{"removed": id}}
	}
}

func queryMemory(provider memory.Provider) plugin.ExecutorFunc {
	return func(ctx context.Context, task *agent.Task) agent.PluginResult {
		records, err := provider.Query(ctx, memory.QueryOptions{
			SpaceID:       task.Space.ID,
			RelatedSpaces: task.Space.RelatedSpaces,
			Limit:         defaultQueryLimit,
		})
		if err != nil {
			return agent.PluginResult{Success: false, Error: fmt.Sprintf("query memory: %v", err)}
		}
		return agent.PluginResult{Success: true, Data: map[string]any{"memories": records}}
	}
}

// findMemoryID walks the chain newest-first for a memoryId left by an
// earlier step, either in item metadata or in JSON content.
func findMemoryID(task *agent.Task) string {
	for i := len(task.ContextChain) - 1; i >= 0; i-- {
		item := task.ContextChain[i]
		if item == nil {
			continue
		}
		if v, ok := item.Metadata["memoryId"].(string); ok && v != "" {
			return v
		}
		if item.Content == "" {
			continue
		}
		var body map[string]any
		if err := json.Unmarshal([]byte(item.Content), &body); err != nil {
			continue
		}
		if v, ok := body["memoryId"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
