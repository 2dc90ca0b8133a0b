// Copyright 2025 James Ross
package monitor

import (
	"sync"
	"time"

	"github.com/0xPBIT/maiar-ai-sub000/internal/agent"
	"go.uber.org/zap"
)

// StateSnapshot is the observable state of the runtime at one moment:
// the scheduler's queue plus, while the engine is inside a pipeline, the
// pipeline position.
type StateSnapshot struct {
	QueueLength        int                 `json:"queueLength"`
	IsRunning          bool                `json:"isRunning"`
	ActiveTasks        int                 `json:"activeTasks"`
	MaxConcurrentTasks int                 `json:"maxConcurrentTasks"`
	LastUpdate         int64               `json:"lastUpdate"`
	CurrentContext     *agent.ContextItem  `json:"currentContext,omitempty"`
	Pipeline           agent.Pipeline      `json:"pipeline,omitempty"`
	CurrentStepIndex   *int                `json:"currentStepIndex,omitempty"`
	CurrentStep        *agent.PipelineStep `json:"currentStep,omitempty"`
	ModifiedSteps      []agent.PipelineStep `json:"modifiedSteps,omitempty"`
	Explanation        string              `json:"explanation,omitempty"`
}

// Event is one monitoring message. State updates carry a StateSnapshot
// under metadata.state; analytics events carry their own bag.
type Event struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StateEvent wraps a snapshot into a state update event.
func StateEvent(message string, state StateSnapshot) Event {
	state.LastUpdate = time.Now().UnixMilli()
	return Event{
		Type:      "state",
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  map[string]any{"state": state},
	}
}

// Bus fans monitoring events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[int]chan Event), log: log}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.log.Debug("monitor subscriber lagging, dropping event",
				zap.Int("subscriber", id), zap.String("event", evt.Type))
		}
	}
}

// Subscribe registers a buffered listener. The returned cancel func
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
