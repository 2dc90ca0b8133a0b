// Copyright 2025 James Ross
package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/capability"
	"github.com/0xPBIT/maiar-ai-sub000/internal/model"
	"github.com/0xPBIT/maiar-ai-sub000/internal/monitor"
	"github.com/0xPBIT/maiar-ai-sub000/internal/plugin"
	"github.com/0xPBIT/maiar-ai-sub000/internal/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays canned text-generation responses in order.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (s *scriptedProvider) ID() string                            { return "scripted" }
func (s *scriptedProvider) Name() string                          { return "Scripted" }
func (s *scriptedProvider) Description() string                   { return "replays canned responses" }
func (s *scriptedProvider) Init(ctx context.Context) error        { return nil }
func (s *scriptedProvider) CheckHealth(ctx context.Context) error { return nil }
func (s *scriptedProvider) Shutdown(ctx context.Context) error    { return nil }

func (s *scriptedProvider) Capabilities() []*model.Capability {
	return []*model.Capability{{
		ID:    model.CapTextGeneration,
		Input: capability.MustSchema(`{"type":"object","required":["prompt"],"properties":{"prompt":{"type":"string"}}}`),
		Execute: func(ctx context.Context, input any, config map[string]any) (any, error) {
			if s.calls >= len(s.responses) {
				return nil, fmt.Errorf("no scripted response for call %d", s.calls)
			}
			out := s.responses[s.calls]
			s.calls++
			return out, nil
		},
	}}
}

type harness struct {
	engine   *Engine
	bus      *monitor.Bus
	provider *scriptedProvider
	plugins  *plugin.Registry
	tpl      *templates.Registry
}

func newHarness(t *testing.T, responses []string, plugins ...*plugin.Plugin) *harness {
	t.Helper()
	tpl := templates.NewRegistry(nil)
	require.NoError(t, RegisterCoreTemplates(tpl))

	reg := capability.NewRegistry(nil)
	mgr := model.NewManager(reg, nil, nil)
	provider := &scriptedProvider{responses: responses}
	require.NoError(t, mgr.Register(context.Background(), provider))

	pr := plugin.NewRegistry(tpl, nil)
	for _, p := range plugins {
		require.NoError(t, pr.Register(context.Background(), p))
	}

	bus := monitor.NewBus(nil)
	eng := New(pr, mgr, tpl, bus, Config{MaxRetries: 3, Temperature: 0.1}, nil)
	return &harness{engine: eng, bus: bus, provider: provider, plugins: pr, tpl: tpl}
}

func newTask() *agent.Task {
	trigger := agent.NewTriggerContext("plug-a", "recv", "hello")
	return agent.NewTask(trigger, agent.Space{ID: "room-1"})
}

const noModify = `{"shouldModify": false, "explanation": "plan holds", "modifiedSteps": null}`

func recordingPlugin(order *[]string) *plugin.Plugin {
	mk := func(name string, data map[string]any) plugin.Executor {
		return plugin.Executor{
			Name:        name,
			Description: name,
			Fn: func(ctx context.Context, task *agent.Task) agent.PluginResult {
				if order != nil {
					*order = append(*order, name)
				}
				return agent.PluginResult{Success: true, Data: data}
			},
		}
	}
	return &plugin.Plugin{
		ID:   "plug-a",
		Name: "Plugin A",
		Executors: []plugin.Executor{
			mk("gen", map[string]any{"text": "hi"}),
			mk("reply", map[string]any{"acked": true}),
			mk("a", map[string]any{"step": "a"}),
			mk("b", map[string]any{"step": "b"}),
			mk("c", map[string]any{"step": "c"}),
			mk("d", map[string]any{"step": "d"}),
			mk("e", map[string]any{"step": "e"}),
		},
	}
}

func collectEvents(bus *monitor.Bus) func() []monitor.Event {
	ch, cancel := bus.Subscribe(256)
	return func() []monitor.Event {
		cancel()
		var out []monitor.Event
		for evt := range ch {
			out = append(out, evt)
		}
		return out
	}
}

func countByMessage(events []monitor.Event, message string) int {
	n := 0
	for _, evt := range events {
		if evt.Message == message {
			n++
		}
	}
	return n
}

func TestSingleTaskHappyPath(t *testing.T) {
	h := newHarness(t, []string{
		`[{"pluginId":"plug-a","action":"gen"},{"pluginId":"plug-a","action":"reply"}]`,
		noModify,
		noModify,
	}, recordingPlugin(nil))

	drain := collectEvents(h.bus)
	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))

	require.Len(t, task.ContextChain, 3)
	assert.Same(t, task.Trigger, task.ContextChain[0])
	assert.Equal(t, "gen", task.ContextChain[1].Type)
	assert.Equal(t, "reply", task.ContextChain[2].Type)
	assert.JSONEq(t, `{"text":"hi"}`, task.ContextChain[1].Content)
	assert.Equal(t, map[string]any{"acked": true}, task.ContextChain[2].Metadata)

	events := drain()
	assert.Equal(t, 1, countByMessage(events, "pipeline.generation.complete"))
	assert.Equal(t, 2, countByMessage(events, "runtime.pipeline.step.executed"))
	assert.Equal(t, 1, countByMessage(events, "runtime.task.started"))
	assert.Equal(t, 1, countByMessage(events, "runtime.task.completed"))
	assert.Equal(t, 3, h.provider.calls)
}

func TestPipelineModificationMidRun(t *testing.T) {
	var order []string
	h := newHarness(t, []string{
		`[{"pluginId":"plug-a","action":"a"},{"pluginId":"plug-a","action":"b"},{"pluginId":"plug-a","action":"c"}]`,
		`{"shouldModify": true, "explanation": "b and c are wrong", "modifiedSteps": [{"pluginId":"plug-a","action":"d"},{"pluginId":"plug-a","action":"e"}]}`,
		noModify,
		noModify,
	}, recordingPlugin(&order))

	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))

	assert.Equal(t, []string{"a", "d", "e"}, order)
	// trigger + three step results
	require.Len(t, task.ContextChain, 4)
	assert.Equal(t, "d", task.ContextChain[2].Type)
	assert.Equal(t, "e", task.ContextChain[3].Type)
}

func TestExecutorFailureAppendsErrorAndContinues(t *testing.T) {
	failing := &plugin.Plugin{
		ID: "plug-a",
		Executors: []plugin.Executor{
			{Name: "boom", Fn: func(ctx context.Context, task *agent.Task) agent.PluginResult {
				return agent.PluginResult{Success: false, Error: "boom"}
			}},
			{Name: "after", Fn: func(ctx context.Context, task *agent.Task) agent.PluginResult {
				return agent.PluginResult{Success: true, Data: map[string]any{"ran": true}}
			}},
		},
	}
	h := newHarness(t, []string{
		`[{"pluginId":"plug-a","action":"boom"},{"pluginId":"plug-a","action":"after"}]`,
		noModify,
		noModify,
	}, failing)

	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))

	require.Len(t, task.ContextChain, 3)
	errItem := task.ContextChain[1]
	assert.Equal(t, agent.ContextTypeError, errItem.Type)
	assert.Equal(t, "boom", errItem.Error)
	require.NotNil(t, errItem.FailedStep)
	assert.Equal(t, agent.PipelineStep{PluginID: "plug-a", Action: "boom"}, *errItem.FailedStep)
	assert.Equal(t, "after", task.ContextChain[2].Type)
}

func TestMissingPluginAndExecutorAreSkipped(t *testing.T) {
	h := newHarness(t, []string{
		`[{"pluginId":"ghost","action":"x"},{"pluginId":"plug-a","action":"nope"},{"pluginId":"plug-a","action":"gen"}]`,
		noModify,
		noModify,
		noModify,
	}, recordingPlugin(nil))

	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))

	require.Len(t, task.ContextChain, 4)
	assert.Equal(t, agent.ContextTypeError, task.ContextChain[1].Type)
	assert.Contains(t, task.ContextChain[1].Error, "ghost")
	assert.Equal(t, agent.ContextTypeError, task.ContextChain[2].Type)
	assert.Contains(t, task.ContextChain[2].Error, "nope")
	assert.Equal(t, "gen", task.ContextChain[3].Type)
}

func TestEmptyPipelineLeavesChainUntouched(t *testing.T) {
	h := newHarness(t, []string{`[]`}, recordingPlugin(nil))
	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))
	require.Len(t, task.ContextChain, 1)
	assert.Same(t, task.Trigger, task.ContextChain[0])
}

func TestNilDataAppendsNothing(t *testing.T) {
	quiet := &plugin.Plugin{
		ID: "plug-a",
		Executors: []plugin.Executor{
			{Name: "silent", Fn: func(ctx context.Context, task *agent.Task) agent.PluginResult {
				return agent.PluginResult{Success: true, Data: nil}
			}},
		},
	}
	h := newHarness(t, []string{
		`[{"pluginId":"plug-a","action":"silent"}]`,
		noModify,
	}, quiet)

	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))
	require.Len(t, task.ContextChain, 1)
}

func TestGenerationFailureYieldsEmptyPipeline(t *testing.T) {
	// Every attempt returns prose: generation exhausts retries, the task
	// completes with an error context item and no steps.
	h := newHarness(t, []string{
		"I cannot help with that.",
		"still not json",
		"nope",
		"sorry",
	}, recordingPlugin(nil))

	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))

	require.Len(t, task.ContextChain, 2)
	assert.Equal(t, agent.ContextTypeError, task.ContextChain[1].Type)
	assert.Contains(t, task.ContextChain[1].Error, "pipeline generation")
}

func TestModificationFailureKeepsPipeline(t *testing.T) {
	var order []string
	h := newHarness(t, []string{
		`[{"pluginId":"plug-a","action":"a"},{"pluginId":"plug-a","action":"b"}]`,
		"garbage", "garbage", "garbage", "garbage", // modification check after a: exhausted
		noModify, // modification check after b
	}, recordingPlugin(&order))

	task := newTask()
	require.NoError(t, h.engine.RunTask(context.Background(), task))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGetObjectRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, []string{
		"not json at all",
		`{"wrong": "shape"}`,
		"```json\n{\"name\": \"ok\"}\n```",
	})

	retryRenders := 0
	h.tpl.Extend("core/retry", func(ctx any, rendered string) (string, error) {
		retryRenders++
		return rendered, nil
	})

	schema := capability.MustSchema(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}},"additionalProperties":false}`)
	value, err := h.engine.GetObject(context.Background(), schema, "give me a name")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ok"}, value)
	assert.Equal(t, 3, h.provider.calls)
	assert.Equal(t, 2, retryRenders)
}

func TestGetObjectZeroRetriesSurfacesFirstFailure(t *testing.T) {
	h := newHarness(t, []string{"not json"})
	schema := capability.MustSchema(`{"type":"object"}`)

	_, err := h.engine.GetObjectWithRetries(context.Background(), schema, "anything", 0)
	assert.ErrorIs(t, err, ErrTypedObject)
	assert.Equal(t, 1, h.provider.calls)
}

func TestGetObjectExhaustsRetries(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c", "d", "e"})
	schema := capability.MustSchema(`{"type":"object"}`)

	_, err := h.engine.GetObjectWithRetries(context.Background(), schema, "anything", 2)
	assert.ErrorIs(t, err, ErrTypedObject)
	assert.Equal(t, 3, h.provider.calls)
}

func TestGetObjectAcceptsTopLevelArray(t *testing.T) {
	h := newHarness(t, []string{`[{"pluginId":"p","action":"a"}]`})
	value, err := h.engine.GetObject(context.Background(), PipelineSchema, "plan")
	require.NoError(t, err)

	var pipe agent.Pipeline
	require.NoError(t, decode(value, &pipe))
	assert.Equal(t, agent.Pipeline{{PluginID: "p", Action: "a"}}, pipe)
}
