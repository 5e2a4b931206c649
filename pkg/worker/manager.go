package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/agent"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/events"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/metrics"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/session"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// imageEnsurer is the slice of the image builder the manager needs
type imageEnsurer interface {
	EnsureImage(ctx context.Context, agentType types.AgentType, caps []types.Capability) (string, error)
}

// adapterRegistry resolves the protocol adapter for an agent type
type adapterRegistry interface {
	Get(t types.AgentType) (agent.Adapter, error)
}

// capacity guards the concurrent-worker ceiling. Acquire reserves a slot
// for a create in flight; Release drops the reservation once the worker is
// visible in the status store (or the create failed before reaching it).
type capacity interface {
	Acquire(ctx context.Context) error
	Release()
}

// Config carries the daemon-level settings the manager folds into every
// worker
type Config struct {
	Env            SpecEnv
	Limits         Limits
	DefaultTimeout time.Duration
}

// ExchangeResult is the outcome of one message exchange with a worker
type ExchangeResult struct {
	Response string
	Verdict  *types.AgentVerdict
}

// Manager drives the worker lifecycle: create, message exchanges, file
// delivery, pause/resume, and delete
type Manager struct {
	store    storage.Store
	engine   engine.Engine
	images   imageEnsurer
	sessions *session.Manager
	adapters adapterRegistry
	governor capacity
	broker   *events.Broker
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewManager wires a worker manager
func NewManager(store storage.Store, eng engine.Engine, images imageEnsurer, sessions *session.Manager, adapters adapterRegistry, governor capacity, broker *events.Broker, config Config) *Manager {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Minute
	}
	return &Manager{
		store:    store,
		engine:   eng,
		images:   images,
		sessions: sessions,
		adapters: adapters,
		governor: governor,
		broker:   broker,
		config:   config,
		logger:   log.WithComponent("worker-manager"),
		now:      time.Now,
	}
}

// Create provisions a new worker from the config. Creating a worker whose
// name already belongs to a live worker is idempotent and returns the
// existing instance.
func (m *Manager) Create(ctx context.Context, cfg *types.WorkerConfig) (*types.WorkerInstance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	existing, err := m.store.GetWorkerByName(cfg.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing worker: %w", err)
	}
	if err == nil && !existing.State.Terminal() {
		m.logger.Debug().Str("name", cfg.Name).Str("worker_id", existing.ID).Msg("Create is a no-op, worker already live")
		return existing, nil
	}

	if err := m.governor.Acquire(ctx); err != nil {
		return nil, err
	}

	now := m.now()
	w := &types.WorkerInstance{
		ID:           uuid.NewString(),
		Config:       cfg,
		State:        types.WorkerStateStarting,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.store.SaveWorker(w); err != nil {
		m.governor.Release()
		return nil, fmt.Errorf("failed to persist worker: %w", err)
	}
	// The store now counts this worker toward the ceiling
	m.governor.Release()

	logger := log.WithWorkerID(m.logger, w.ID).With().Str("name", cfg.Name).Logger()
	logger.Info().Str("role", string(cfg.Role)).Str("agent", string(cfg.Agent)).Msg("Creating worker")

	imageRef, err := m.images.EnsureImage(ctx, cfg.Agent, cfg.Capabilities)
	if err != nil {
		return nil, m.failCreate(w, err)
	}
	w.ImageRef = imageRef

	spec := ToRuntimeSpec(cfg, w.ID, imageRef, m.config.Env, m.config.Limits)
	containerID, err := m.engine.CreateContainer(ctx, spec)
	if err != nil {
		return nil, m.failCreate(w, err)
	}
	w.ContainerID = containerID
	if err := m.store.SaveWorker(w); err != nil {
		return nil, m.failCreate(w, err)
	}

	if err := m.engine.StartContainer(ctx, containerID); err != nil {
		m.rollbackContainer(ctx, w)
		return nil, m.failCreate(w, err)
	}

	if cfg.Instructions != "" {
		if err := m.injectInstructions(ctx, w, cfg.Instructions); err != nil {
			m.rollbackContainer(ctx, w)
			return nil, m.failCreate(w, err)
		}
	}

	w.State = types.WorkerStateRunning
	w.LastActivity = m.now()
	if err := m.store.SaveWorker(w); err != nil {
		m.rollbackContainer(ctx, w)
		return nil, m.failCreate(w, err)
	}

	m.broker.Publish(types.WorkerEvent{WorkerID: w.ID, Event: types.EventStarted})
	m.broker.Publish(types.WorkerEvent{WorkerID: w.ID, Event: types.EventReady})
	logger.Info().Str("container_id", containerID).Msg("Worker running")
	return w, nil
}

// failCreate marks the worker failed with the causing error and returns it
func (m *Manager) failCreate(w *types.WorkerInstance, cause error) error {
	w.State = types.WorkerStateFailed
	w.Error = cause.Error()
	if err := m.store.SaveWorker(w); err != nil {
		m.logger.Error().Err(err).Str("worker_id", w.ID).Msg("Failed to persist failed worker state")
	}
	m.broker.Publish(types.WorkerEvent{
		WorkerID: w.ID,
		Event:    types.EventFailed,
		Details:  map[string]string{"error": cause.Error()},
	})
	return cause
}

// rollbackContainer removes a partially created container. Best effort;
// the worker record is marked failed regardless.
func (m *Manager) rollbackContainer(ctx context.Context, w *types.WorkerInstance) {
	if w.ContainerID == "" {
		return
	}
	if err := m.engine.DeleteContainer(ctx, w.ContainerID); err != nil {
		m.logger.Warn().Err(err).Str("worker_id", w.ID).Msg("Rollback container removal failed")
	}
}

// injectInstructions writes the configured instructions into the agent's
// instruction file. The file path is agent-specific; content never affects
// the image hash, so it is delivered after start rather than baked in.
func (m *Manager) injectInstructions(ctx context.Context, w *types.WorkerInstance, instructions string) error {
	p := agent.InstructionPath(w.Config.Agent)
	if p == "" {
		return nil
	}
	return m.engine.CopyToContainer(ctx, w.ContainerID, path.Dir(p), []engine.FileEntry{{
		Path:    path.Base(p),
		Mode:    0o644,
		Content: []byte(instructions),
	}})
}

// Delete tears a worker down. Deleting an unknown or already terminal
// worker is a no-op. The terminal state is persisted before the container
// is removed so the crash monitor ignores the resulting die event.
func (m *Manager) Delete(ctx context.Context, workerID string) error {
	w, err := m.store.GetWorker(workerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load worker: %w", err)
	}
	if w.State.Terminal() {
		return nil
	}

	w.State = types.WorkerStateStopped
	w.TaskID = ""
	w.RequestID = ""
	if err := m.store.SaveWorker(w); err != nil {
		return fmt.Errorf("failed to persist worker state: %w", err)
	}

	if w.ContainerID != "" {
		if err := m.engine.DeleteContainer(ctx, w.ContainerID); err != nil {
			return err
		}
	}
	if err := m.sessions.Delete(workerID); err != nil {
		return fmt.Errorf("failed to delete worker session: %w", err)
	}

	m.broker.Publish(types.WorkerEvent{WorkerID: workerID, Event: types.EventStopped})
	m.logger.Info().Str("worker_id", workerID).Msg("Worker deleted")
	return nil
}

// Status returns the worker's stored status. Terminal workers remain
// queryable indefinitely.
func (m *Manager) Status(workerID string) (*types.WorkerInstance, error) {
	return m.store.GetWorker(workerID)
}

// SendMessage runs one prompt exchange against the worker's agent. A
// paused worker is resumed first. For long-lived workers the session
// handle is resolved before and persisted after the exchange, keeping the
// conversation continuous.
func (m *Manager) SendMessage(ctx context.Context, workerID, requestID, taskID, message string, timeout time.Duration) (*ExchangeResult, error) {
	w, err := m.store.GetWorker(workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load worker: %w", err)
	}
	if w.State.Terminal() {
		return nil, fmt.Errorf("worker %s is %s", workerID, w.State)
	}
	if w.State == types.WorkerStatePaused {
		if err := m.engine.ResumeContainer(ctx, w.ContainerID); err != nil {
			return nil, err
		}
		w.State = types.WorkerStateRunning
	}
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}

	adapter, err := m.adapters.Get(w.Config.Agent)
	if err != nil {
		return nil, err
	}

	// Record the task context before invoking; the crash monitor uses it
	// to address a synthesized failure if the container dies mid-exchange
	w.TaskID = taskID
	w.RequestID = requestID
	w.LastActivity = m.now()
	if err := m.store.SaveWorker(w); err != nil {
		return nil, fmt.Errorf("failed to persist task context: %w", err)
	}
	m.broker.Publish(types.WorkerEvent{
		WorkerID: workerID,
		Event:    types.EventBusy,
		Details:  map[string]string{"task_id": taskID},
	})

	inv := &agent.Invocation{Prompt: message, Timeout: timeout}
	if w.Config.Role == types.WorkerRoleProductOwner {
		handle, found, err := m.sessions.GetOrCreate(workerID)
		if err != nil {
			return nil, m.finishExchange(w, err)
		}
		// Only resume an established conversation; a freshly minted
		// handle has nothing behind it yet
		if found {
			inv.SessionHandle = handle
		}
	}

	timer := metrics.NewTimer()
	res, err := adapter.Invoke(ctx, m.engine, w.ContainerID, inv)
	timer.ObserveDurationVec(metrics.InvocationDuration, string(w.Config.Agent))
	if err != nil {
		return nil, m.finishExchange(w, err)
	}

	verdict, err := agent.ExtractVerdict(res.Segments)
	if err != nil {
		return nil, m.finishExchange(w, err)
	}
	if verdict == nil && w.Config.Role == types.WorkerRoleDeveloper {
		return nil, m.finishExchange(w, &types.AgentProtocolError{
			Reason: "task worker produced no structured result",
		})
	}

	if w.Config.Role == types.WorkerRoleProductOwner && res.SessionHandle != "" {
		if err := m.sessions.Save(workerID, res.SessionHandle); err != nil {
			return nil, m.finishExchange(w, err)
		}
	}

	if err := m.finishExchange(w, nil); err != nil {
		return nil, err
	}
	m.broker.Publish(types.WorkerEvent{
		WorkerID: workerID,
		Event:    types.EventCompleted,
		Details:  map[string]string{"task_id": taskID},
	})

	return &ExchangeResult{
		Response: strings.Join(res.Segments, "\n"),
		Verdict:  verdict,
	}, nil
}

// finishExchange clears the recorded task context and passes the causing
// error through. If the crash monitor marked the worker terminal while the
// exchange was in flight, its write stands untouched.
func (m *Manager) finishExchange(w *types.WorkerInstance, cause error) error {
	if stored, err := m.store.GetWorker(w.ID); err == nil && stored.State.Terminal() {
		return cause
	}
	w.TaskID = ""
	w.RequestID = ""
	w.LastActivity = m.now()
	if err := m.store.SaveWorker(w); err != nil {
		m.logger.Error().Err(err).Str("worker_id", w.ID).Msg("Failed to clear task context")
	}
	return cause
}

// SendFile copies a file into the worker's container at destPath
func (m *Manager) SendFile(ctx context.Context, workerID, destPath string, content []byte) error {
	if !path.IsAbs(destPath) {
		return &types.ConfigurationError{Reason: "file path must be absolute"}
	}
	w, err := m.store.GetWorker(workerID)
	if err != nil {
		return fmt.Errorf("failed to load worker: %w", err)
	}
	if w.State.Terminal() {
		return fmt.Errorf("worker %s is %s", workerID, w.State)
	}

	if err := m.engine.CopyToContainer(ctx, w.ContainerID, path.Dir(destPath), []engine.FileEntry{{
		Path:    path.Base(destPath),
		Mode:    0o644,
		Content: content,
	}}); err != nil {
		return err
	}

	w.LastActivity = m.now()
	return m.store.SaveWorker(w)
}

// PauseIdle pauses long-lived workers that have been idle longer than
// idleAfter. Task workers and workers with an exchange in flight are left
// alone. Returns the number of workers paused.
func (m *Manager) PauseIdle(ctx context.Context, idleAfter time.Duration) (int, error) {
	workers, err := m.store.ListWorkers()
	if err != nil {
		return 0, fmt.Errorf("failed to list workers: %w", err)
	}

	cutoff := m.now().Add(-idleAfter)
	paused := 0
	for _, w := range workers {
		if w.State != types.WorkerStateRunning || w.Config.Role != types.WorkerRoleProductOwner {
			continue
		}
		if w.TaskID != "" || w.RequestID != "" || w.LastActivity.After(cutoff) {
			continue
		}
		if err := m.engine.PauseContainer(ctx, w.ContainerID); err != nil {
			m.logger.Warn().Err(err).Str("worker_id", w.ID).Msg("Failed to pause idle worker")
			continue
		}
		w.State = types.WorkerStatePaused
		if err := m.store.SaveWorker(w); err != nil {
			return paused, fmt.Errorf("failed to persist paused state: %w", err)
		}
		m.logger.Info().Str("worker_id", w.ID).Msg("Paused idle worker")
		paused++
	}
	return paused, nil
}
