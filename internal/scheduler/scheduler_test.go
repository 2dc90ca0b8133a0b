// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	active    int
	maxActive int
	order     []string
	delay     time.Duration
	errFor    map[string]error
	block     chan struct{}
}

func (r *fakeRunner) RunTask(ctx context.Context, task *agent.Task) error {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.order = append(r.order, task.Trigger.Content)
	errFor := r.errFor[task.Trigger.Content]
	block := r.block
	delay := r.delay
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	if errFor != nil {
		return errFor
	}
	task.AppendContext(agent.NewContextItem("plug-a", "gen", "gen", `{"done":true}`))
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]memory.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]memory.Record)}
}

func (f *fakeStore) ID() string                            { return "fake" }
func (f *fakeStore) Init(ctx context.Context) error        { return nil }
func (f *fakeStore) CheckHealth(ctx context.Context) error { return nil }
func (f *fakeStore) Shutdown(ctx context.Context) error    { return nil }

func (f *fakeStore) Store(ctx context.Context, rec memory.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	f.records[rec.ID] = rec
	return rec.ID, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, patch memory.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, opts memory.QueryOptions) ([]memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.Record
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) updatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if rec.Context != "" {
			n++
		}
	}
	return n
}

func enqueue(t *testing.T, s *Scheduler, content string) *agent.Task {
	t.Helper()
	trigger := agent.NewTriggerContext("plug-a", "recv", content)
	task, err := s.QueueTask(trigger, agent.Space{ID: "room-1"})
	require.NoError(t, err)
	return task
}

func TestConcurrencyBound(t *testing.T) {
	runner := &fakeRunner{delay: 100 * time.Millisecond}
	store := newFakeStore()
	s := New(Config{MaxConcurrentTasks: 3}, runner, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	start := time.Now()
	for i := 0; i < 5; i++ {
		enqueue(t, s, string(rune('a'+i)))
	}

	require.Eventually(t, func() bool { return store.updatedCount() == 5 },
		2*time.Second, 5*time.Millisecond)
	elapsed := time.Since(start)

	assert.LessOrEqual(t, runner.maxActive, 3)
	assert.GreaterOrEqual(t, runner.maxActive, 2)
	// two waves of <=3 take about 200ms; five tasks run one at a time
	// would take 500ms
	assert.Less(t, elapsed, 450*time.Millisecond)
}

func TestSequentialWhenMaxIsOne(t *testing.T) {
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	store := newFakeStore()
	s := New(Config{MaxConcurrentTasks: 1}, runner, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	contents := []string{"t1", "t2", "t3", "t4"}
	for _, c := range contents {
		enqueue(t, s, c)
	}

	require.Eventually(t, func() bool { return store.updatedCount() == 4 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, runner.maxActive)
	assert.Equal(t, contents, runner.order)
}

func TestMemoryRecordLifecycle(t *testing.T) {
	runner := &fakeRunner{}
	store := newFakeStore()
	s := New(Config{MaxConcurrentTasks: 2}, runner, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	task := enqueue(t, s, "hello")
	require.Eventually(t, func() bool { return store.updatedCount() == 1 },
		time.Second, 5*time.Millisecond)

	memID, ok := task.Metadata["memoryId"].(string)
	require.True(t, ok)
	store.mu.Lock()
	rec := store.records[memID]
	store.mu.Unlock()

	assert.Equal(t, "room-1", rec.SpaceID)
	assert.NotEmpty(t, rec.Trigger)
	assert.NotEmpty(t, rec.Context)
	assert.NotZero(t, rec.CreatedAt)
	assert.GreaterOrEqual(t, rec.UpdatedAt, rec.CreatedAt)
}

func TestFailedTaskDoesNotStopScheduler(t *testing.T) {
	runner := &fakeRunner{errFor: map[string]error{"bad": errors.New("engine exploded")}}
	store := newFakeStore()
	s := New(Config{MaxConcurrentTasks: 1}, runner, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	enqueue(t, s, "bad")
	enqueue(t, s, "good")

	require.Eventually(t, func() bool { return store.updatedCount() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bad", "good"}, runner.order)
}

func TestTasksQueuedBeforeStartRunAfterStart(t *testing.T) {
	runner := &fakeRunner{}
	store := newFakeStore()
	s := New(Config{MaxConcurrentTasks: 2}, runner, store, nil, nil)

	enqueue(t, s, "early")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return store.updatedCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestShutdownDrainsInFlight(t *testing.T) {
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	store := newFakeStore()
	s := New(Config{MaxConcurrentTasks: 2, DrainTimeout: time.Second}, runner, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	enqueue(t, s, "t1")

	// Give the dispatcher a moment to start the lane, then shut down.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, store.updatedCount())
	assert.False(t, s.Snapshot().IsRunning)
}

func TestShutdownAbandonsStuckTask(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{block: block}
	s := New(Config{MaxConcurrentTasks: 1, DrainTimeout: 30 * time.Millisecond}, runner, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	enqueue(t, s, "stuck")
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not abandon stuck task")
	}
	close(block)
}

func TestQueueTaskRequiresTrigger(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, nil, nil, nil)
	_, err := s.QueueTask(nil, agent.Space{ID: "x"})
	assert.Error(t, err)
}

func TestSnapshotShape(t *testing.T) {
	s := New(Config{MaxConcurrentTasks: 7}, &fakeRunner{}, nil, nil, nil)
	enqueue(t, s, "pending")

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.QueueLength)
	assert.Equal(t, 7, snap.MaxConcurrentTasks)
	assert.False(t, snap.IsRunning)
	assert.Zero(t, snap.ActiveTasks)
	assert.NotZero(t, snap.LastUpdate)
}
