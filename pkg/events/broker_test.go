package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(types.WorkerEvent{WorkerID: "w1", Event: types.EventStarted})

	for _, sub := range []<-chan types.WorkerEvent{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, "w1", ev.WorkerID)
			assert.Equal(t, types.EventStarted, ev.Event)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(1)
	defer b.Close()

	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// One more than the buffer; the extra event is dropped
		b.Publish(types.WorkerEvent{WorkerID: "w1", Event: types.EventStarted})
		b.Publish(types.WorkerEvent{WorkerID: "w1", Event: types.EventReady})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-sub
	assert.Equal(t, types.EventStarted, ev.Event)
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(4)
	sub := b.Subscribe()

	b.Close()
	b.Close()

	_, open := <-sub
	require.False(t, open)

	// Publishing and subscribing after close are safe no-ops
	b.Publish(types.WorkerEvent{WorkerID: "w1", Event: types.EventStopped})
	_, open = <-b.Subscribe()
	assert.False(t, open)
}
