// Copyright 2025 James Ross
package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(StateEvent("queue updated", StateSnapshot{QueueLength: 2, IsRunning: true}))

	evt := <-ch
	assert.Equal(t, "state", evt.Type)
	assert.Equal(t, "queue updated", evt.Message)
	state, ok := evt.Metadata["state"].(StateSnapshot)
	require.True(t, ok)
	assert.Equal(t, 2, state.QueueLength)
	assert.True(t, state.IsRunning)
	assert.NotZero(t, state.LastUpdate)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus(nil)
	_, cancel := b.Subscribe(1)
	defer cancel()

	// Second publish overflows the buffer and must not block.
	b.Publish(Event{Type: "state", Message: "one"})
	b.Publish(Event{Type: "state", Message: "two"})
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // second cancel is a no-op

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())
}
