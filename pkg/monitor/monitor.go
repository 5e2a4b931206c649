package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/bus"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/events"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/metrics"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// eventSource is the slice of the container engine the monitor needs
type eventSource interface {
	Events(ctx context.Context) (<-chan engine.ContainerEvent, <-chan error)
}

// Monitor watches the engine's event stream for workers dying outside the
// normal delete path. A crashed worker is marked failed, and if an exchange
// was in flight the caller gets exactly one synthesized failure response
// addressed with the recorded task context.
type Monitor struct {
	store     storage.Store
	engine    eventSource
	publisher bus.Publisher
	broker    *events.Broker
	logger    zerolog.Logger
}

// New creates a crash monitor
func New(store storage.Store, eng eventSource, publisher bus.Publisher, broker *events.Broker) *Monitor {
	return &Monitor{
		store:     store,
		engine:    eng,
		publisher: publisher,
		broker:    broker,
		logger:    log.WithComponent("monitor"),
	}
}

// Run consumes the event stream until the context ends, resubscribing with
// backoff when the stream drops
func (m *Monitor) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		evCh, errCh := m.engine.Events(ctx)
		m.logger.Info().Msg("Watching engine events")

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evCh:
				if !ok {
					break stream
				}
				backoff = initialBackoff
				m.handle(ctx, ev)
			case err, ok := <-errCh:
				if !ok {
					break stream
				}
				if err != nil {
					m.logger.Warn().Err(err).Msg("Engine event stream error")
				}
				break stream
			}
		}

		m.logger.Warn().Dur("backoff", backoff).Msg("Engine event stream lost, resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev engine.ContainerEvent) {
	if ev.Action != "die" && ev.Action != "oom" {
		return
	}

	w, err := m.lookup(ev)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Error().Err(err).Str("container_id", ev.ContainerID).Msg("Failed to resolve crashed container")
		}
		return
	}
	// A deliberate delete marks the worker terminal before removing the
	// container; its die event is not a crash
	if w.State.Terminal() {
		return
	}

	cause := crashCause(ev)
	logger := log.WithWorkerID(m.logger, w.ID).With().Str("container_id", ev.ContainerID).Logger()
	logger.Warn().Int("exit_code", ev.ExitCode).Str("cause", cause).Msg("Worker crashed")

	requestID, taskID := w.RequestID, w.TaskID
	w.State = types.WorkerStateFailed
	w.ExitCode = ev.ExitCode
	w.Error = cause
	w.TaskID = ""
	w.RequestID = ""
	if err := m.store.SaveWorker(w); err != nil {
		logger.Error().Err(err).Msg("Failed to persist crashed worker state")
		return
	}

	m.broker.Publish(types.WorkerEvent{
		WorkerID: w.ID,
		Event:    types.EventFailed,
		Details:  map[string]string{"error": cause},
	})

	// Only an exchange in flight gets a synthesized response; an idle
	// crash has no caller waiting. Delivery is at least once: if the
	// handler's own exec error races this write, the caller may see two
	// failures for the same request_id.
	if requestID == "" {
		return
	}
	resp := &types.Response{
		RequestID: requestID,
		Success:   false,
		WorkerID:  w.ID,
		State:     types.WorkerStateFailed,
		Error:     cause,
		Metadata: map[string]any{
			"task_id":   taskID,
			"exit_code": ev.ExitCode,
		},
	}
	if err := m.publisher.PublishJSON(bus.OutputSubject(w.Config.Name), resp); err != nil {
		logger.Error().Err(err).Msg("Failed to publish crash response")
		return
	}
	metrics.CrashNotificationsTotal.Inc()
	logger.Info().Str("request_id", requestID).Msg("Published crash failure response")
}

// lookup resolves the worker behind an event, preferring the worker id
// label stamped at create time
func (m *Monitor) lookup(ev engine.ContainerEvent) (*types.WorkerInstance, error) {
	if id := ev.Labels[engine.LabelWorker]; id != "" {
		w, err := m.store.GetWorker(id)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return w, err
		}
	}
	return m.store.GetWorkerByContainer(ev.ContainerID)
}

func crashCause(ev engine.ContainerEvent) string {
	switch {
	case ev.Action == "oom":
		return "container ran out of memory"
	case ev.ExitCode == 137:
		return "container was killed"
	default:
		return fmt.Sprintf("container exited unexpectedly with code %d", ev.ExitCode)
	}
}
