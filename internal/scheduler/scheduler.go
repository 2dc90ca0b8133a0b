// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"github.com/0xPBIT/maiar-ai-sub000/internal/memory"
	"github.com/0xPBIT/maiar-ai-sub000/internal/monitor"
	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"go.uber.org/zap"
)

// Runner executes one task to completion. The engine implements it.
type Runner interface {
	RunTask(ctx context.Context, task *agent.Task) error
}

// Config tunes the scheduler.
type Config struct {
	// MaxConcurrentTasks bounds the in-flight set. Minimum 1.
	MaxConcurrentTasks int
	// DrainTimeout is how long shutdown waits for a straggling in-flight
	// task before abandoning it.
	DrainTimeout time.Duration
}

// Scheduler accepts tasks from any producer and runs them through the
// engine on up to MaxConcurrentTasks concurrent lanes. Tasks start in
// FIFO arrival order; completion order is unconstrained. A memory
// record is written when a task starts and updated once when it
// finishes, success or failure.
type Scheduler struct {
	cfg    Config
	runner Runner
	store  memory.Provider
	bus    *monitor.Bus
	log    *zap.Logger

	mu       sync.Mutex
	queue    []*agent.Task
	inflight map[string]time.Time
	running  bool

	notify      chan struct{}
	completions chan string
	done        chan struct{}
}

// New builds a scheduler. store may be nil in tests that only exercise
// dispatch behavior.
func New(cfg Config, runner Runner, store memory.Provider, bus *monitor.Bus, log *zap.Logger) *Scheduler {
	if cfg.MaxConcurrentTasks < 1 {
		cfg.MaxConcurrentTasks = 4
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = monitor.NewBus(log)
	}
	return &Scheduler{
		cfg:         cfg,
		runner:      runner,
		store:       store,
		bus:         bus,
		log:         log,
		inflight:    make(map[string]time.Time),
		notify:      make(chan struct{}, 1),
		completions: make(chan string, cfg.MaxConcurrentTasks),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch loop. Cancel ctx to begin shutdown; Done
// closes once the loop has drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.dispatch(ctx)
}

// Done closes when the dispatch loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// QueueTask wraps a trigger into a task and appends it to the queue.
// Safe from any goroutine, including while shutdown is in progress.
func (s *Scheduler) QueueTask(trigger *agent.ContextItem, space agent.Space) (*agent.Task, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	task := agent.NewTask(trigger, space)

	s.mu.Lock()
	s.queue = append(s.queue, task)
	queueLen := len(s.queue)
	s.mu.Unlock()

	obs.TasksQueued.Inc()
	obs.QueueLength.Set(float64(queueLen))

	select {
	case s.notify <- struct{}{}:
	default:
	}

	s.log.Debug("task queued",
		obs.String("task", task.ID),
		obs.String("space", space.ID),
		obs.Int("queueLength", queueLen))
	s.emitState("scheduler.task.queued")
	return task, nil
}

// Snapshot reports the queue state for monitoring.
func (s *Scheduler) Snapshot() monitor.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return monitor.StateSnapshot{
		QueueLength:        len(s.queue),
		IsRunning:          s.running,
		ActiveTasks:        len(s.inflight),
		MaxConcurrentTasks: s.cfg.MaxConcurrentTasks,
		LastUpdate:         time.Now().UnixMilli(),
	}
}

func (s *Scheduler) emitState(message string) {
	s.bus.Publish(monitor.StateEvent(message, s.Snapshot()))
}

// dispatch is the single scheduling loop: fill free lanes from the
// queue head, then wait for a completion or a new-task signal. No lock
// is held while waiting.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		for ctx.Err() == nil && len(s.queue) > 0 && len(s.inflight) < s.cfg.MaxConcurrentTasks {
			task := s.queue[0]
			s.queue = s.queue[1:]
			s.inflight[task.ID] = time.Now()
			go s.runTask(ctx, task)
		}
		queueLen := len(s.queue)
		inflightLen := len(s.inflight)
		s.mu.Unlock()

		obs.QueueLength.Set(float64(queueLen))
		obs.ActiveTasks.Set(float64(inflightLen))
		s.emitState("scheduler.dispatch")

		if ctx.Err() != nil {
			break
		}

		if inflightLen == 0 && queueLen == 0 {
			select {
			case <-ctx.Done():
			case <-s.notify:
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		select {
		case <-ctx.Done():
		case id := <-s.completions:
			s.reap(id)
		case <-s.notify:
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.drain()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	obs.ActiveTasks.Set(0)
	s.emitState("scheduler.stopped")
	s.log.Info("scheduler stopped")
}

// reap removes completed lanes, draining any completions that piled up.
func (s *Scheduler) reap(id string) {
	s.removeInflight(id)
	for {
		select {
		case next := <-s.completions:
			s.removeInflight(next)
		default:
			return
		}
	}
}

func (s *Scheduler) removeInflight(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// drain awaits in-flight tasks at shutdown. A lane that stays silent
// longer than DrainTimeout is abandoned with a warning.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		remaining := len(s.inflight)
		s.mu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case id := <-s.completions:
			s.reap(id)
		case <-time.After(s.cfg.DrainTimeout):
			s.mu.Lock()
			for id := range s.inflight {
				s.log.Warn("abandoning in-flight task at shutdown", obs.String("task", id))
			}
			s.inflight = make(map[string]time.Time)
			s.mu.Unlock()
			return
		}
	}
}

// runTask is one lane: memory record, engine run, memory update. Errors
// are logged with the task id and never reach the dispatcher.
func (s *Scheduler) runTask(ctx context.Context, task *agent.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task lane panicked",
				obs.String("task", task.ID), obs.Any("panic", r))
			obs.TasksFailed.Inc()
		}
		s.completions <- task.ID
	}()

	obs.TasksStarted.Inc()

	memID := s.storeRecord(ctx, task)

	if err := s.runner.RunTask(ctx, task); err != nil {
		s.log.Error("task execution failed",
			obs.String("task", task.ID), obs.Err(err))
		obs.TasksFailed.Inc()
	}

	s.updateRecord(ctx, task, memID)
	obs.TasksCompleted.Inc()
}

func (s *Scheduler) storeRecord(ctx context.Context, task *agent.Task) string {
	if s.store == nil {
		return ""
	}
	trigger, err := task.MarshalTrigger()
	if err != nil {
		s.log.Error("serialize trigger failed",
			obs.String("task", task.ID), obs.Err(err))
		return ""
	}
	id, err := s.store.Store(ctx, memory.Record{
		SpaceID:   task.Space.ID,
		Trigger:   trigger,
		CreatedAt: time.Now().UnixMilli(),
		Metadata:  map[string]any{"taskId": task.ID},
	})
	if err != nil {
		s.log.Error("store memory record failed",
			obs.String("task", task.ID), obs.Err(err))
		return ""
	}
	task.Metadata["memoryId"] = id
	return id
}

func (s *Scheduler) updateRecord(ctx context.Context, task *agent.Task, memID string) {
	if s.store == nil || memID == "" {
		return
	}
	chain, err := task.MarshalChain()
	if err != nil {
		s.log.Error("serialize context chain failed",
			obs.String("task", task.ID), obs.Err(err))
		obs.TasksFailed.Inc()
		return
	}
	if err := s.store.Update(ctx, memID, memory.Update{
		Context:   &chain,
		UpdatedAt: time.Now().UnixMilli(),
	}); err != nil {
		s.log.Error("update memory record failed",
			obs.String("task", task.ID), obs.Err(err))
		obs.TasksFailed.Inc()
	}
}
