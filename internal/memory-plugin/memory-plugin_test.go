// Copyright 2025 James Ross
package memoryplugin

import (
	"context"
	"testing"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	records map[string]memory.Record
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{records: make(map[string]memory.Record)}
}

func (f *fakeProvider) ID() string                                { return "fake" }
func (f *fakeProvider) Init(ctx context.Context) error            { return nil }
func (f *fakeProvider) CheckHealth(ctx context.Context) error     { return nil }
func (f *fakeProvider) Shutdown(ctx context.Context) error        { return nil }

func (f *fakeProvider) Store(ctx context.Context, rec memory.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	f.records[rec.ID] = rec
	return rec.ID, nil
}

func (f *fakeProvider) Update(ctx context.Context, id string, patch memory.Update) error {
	rec, ok := f.records[id]
	if !ok {
		return memory.ErrNotFound
	}
	if patch.Context != nil {
		rec.Context = *patch.Context
	}
	if patch.UpdatedAt != 0 {
		rec.UpdatedAt = patch.UpdatedAt
	}
	f.records[id] = rec
	return nil
}

func (f *fakeProvider) Delete(ctx context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return memory.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeProvider) Query(ctx context.Context, opts memory.QueryOptions) ([]memory.Record, error) {
	var out []memory.Record
	for _, rec := range f.records {
		if opts.SpaceID != "" && rec.SpaceID != opts.SpaceID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func newTask() *agent.Task {
	trigger := agent.NewTriggerContext("chat", "recv", "hello")
	return agent.NewTask(trigger, agent.Space{ID: "room-1"})
}

func TestSaveMemory(t *testing.T) {
	provider := newFakeProvider()
	p := New(provider)
	exec, ok := p.Executor("save_memory")
	require.True(t, ok)

	task := newTask()
	res := exec.Fn(context.Background(), task)
	require.True(t, res.Success)
	id, _ := res.Data["memoryId"].(string)
	require.NotEmpty(t, id)

	rec := provider.records[id]
	assert.Equal(t, "room-1", rec.SpaceID)
	assert.NotEmpty(t, rec.Trigger)
	assert.NotEmpty(t, rec.Context)
}

func TestRemoveMemoryFromContent(t *testing.T) {
	provider := newFakeProvider()
	id, err := provider.Store(context.Background(), memory.Record{SpaceID: "room-1", Trigger: "{}"})
	require.NoError(t, err)

	task := newTask()
	item := agent.NewContextItem("memory", "save_memory", "save_memory", `{"memoryId":"`+id+`"}`)
	task.AppendContext(item)

	p := New(provider)
	exec, _ := p.Executor("remove_memory")
	res := exec.Fn(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, provider.records)
}

func TestRemoveMemoryWithoutID(t *testing.T) {
	p := New(newFakeProvider())
	exec, _ := p.Executor("remove_memory")
	res := exec.Fn(context.Background(), newTask())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "memoryId")
}

func TestQueryMemory(t *testing.T) {
	provider := newFakeProvider()
	_, err := provider.Store(context.Background(), memory.Record{SpaceID: "room-1", Trigger: "{}"})
	require.NoError(t, err)
	_, err = provider.Store(context.Background(), memory.Record{SpaceID: "other", Trigger: "{}"})
	require.NoError(t, err)

	p := New(provider)
	exec, _ := p.Executor("query_memory")
	res := exec.Fn(context.Background(), newTask())
	require.True(t, res.Success)
	memories, ok := res.Data["memories"].([]memory.Record)
	require.True(t, ok)
	assert.Len(t, memories, 1)
}
