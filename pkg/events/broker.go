package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// defaultBuffer is the per-subscriber channel depth
const defaultBuffer = 64

// Broker fans worker lifecycle events out to in-process subscribers.
// Publishing never blocks: a subscriber that falls behind loses events
// rather than stalling the lifecycle path.
type Broker struct {
	mu     sync.RWMutex
	subs   []chan types.WorkerEvent
	buffer int
	closed bool
	logger zerolog.Logger
}

// NewBroker creates a broker. A non-positive buffer uses the default depth.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		buffer: buffer,
		logger: log.WithComponent("events"),
	}
}

// Subscribe registers a new subscriber and returns its event channel. The
// channel is closed when the broker shuts down.
func (b *Broker) Subscribe() <-chan types.WorkerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan types.WorkerEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber. A zero timestamp is
// stamped with the current time.
func (b *Broker) Publish(ev types.WorkerEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().
				Str("worker_id", ev.WorkerID).
				Str("event", string(ev.Event)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// Close shuts the broker down and closes all subscriber channels
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
