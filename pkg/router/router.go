package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/bus"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/metrics"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/worker"
)

const (
	defaultShards = 8
	shardBuffer   = 32
)

// managerAPI is the worker lifecycle surface the router drives
type managerAPI interface {
	Create(ctx context.Context, cfg *types.WorkerConfig) (*types.WorkerInstance, error)
	Delete(ctx context.Context, workerID string) error
	Status(workerID string) (*types.WorkerInstance, error)
	SendMessage(ctx context.Context, workerID, requestID, taskID, message string, timeout time.Duration) (*worker.ExchangeResult, error)
	SendFile(ctx context.Context, workerID, destPath string, content []byte) error
}

// Router dispatches inbound command envelopes to the worker manager and
// publishes exactly one response per command.
//
// Commands are sharded by worker key onto a fixed set of serial queues:
// commands for the same worker execute in arrival order, commands for
// different workers run concurrently.
type Router struct {
	manager   managerAPI
	store     storage.Store
	publisher bus.Publisher
	shards    []chan *types.Command
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// New creates a router with the given shard count. Non-positive shards
// fall back to the default.
func New(manager managerAPI, store storage.Store, publisher bus.Publisher, shards int) *Router {
	if shards <= 0 {
		shards = defaultShards
	}
	r := &Router{
		manager:   manager,
		store:     store,
		publisher: publisher,
		shards:    make([]chan *types.Command, shards),
		logger:    log.WithComponent("router"),
	}
	for i := range r.shards {
		r.shards[i] = make(chan *types.Command, shardBuffer)
	}
	return r
}

// Start launches the shard workers. They stop when the context ends.
func (r *Router) Start(ctx context.Context) {
	for i, ch := range r.shards {
		r.wg.Add(1)
		go func(i int, ch chan *types.Command) {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case cmd := <-ch:
					r.dispatch(ctx, cmd)
				}
			}
		}(i, ch)
	}
}

// Wait blocks until all shard workers have stopped
func (r *Router) Wait() {
	r.wg.Wait()
}

// Handle accepts one raw command payload from the bus. Unparseable
// payloads are answered on the control subject.
func (r *Router) Handle(data []byte) {
	var cmd types.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping unparseable command")
		r.publish(bus.SubjectControl, &types.Response{
			Success: false,
			Error:   fmt.Sprintf("unparseable command: %v", err),
		})
		return
	}
	r.shards[r.shardFor(&cmd)] <- &cmd
}

// shardFor keys a command to its serial queue. Commands addressing the
// same worker must land on the same shard.
func (r *Router) shardFor(cmd *types.Command) int {
	key := cmd.WorkerID
	if key == "" && cmd.Config != nil {
		key = cmd.Config.Name
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Router) dispatch(ctx context.Context, cmd *types.Command) {
	timer := metrics.NewTimer()
	logger := log.WithRequestID(r.logger, cmd.RequestID).With().Str("command", string(cmd.Command)).Logger()
	logger.Debug().Msg("Handling command")

	var subject string
	var resp *types.Response
	switch cmd.Command {
	case types.CommandCreate:
		subject, resp = r.handleCreate(ctx, cmd)
	case types.CommandDelete:
		subject, resp = r.handleDelete(ctx, cmd)
	case types.CommandStatus:
		subject, resp = r.handleStatus(cmd)
	case types.CommandSendMessage:
		subject, resp = r.handleSendMessage(ctx, cmd)
	case types.CommandSendFile:
		subject, resp = r.handleSendFile(ctx, cmd)
	default:
		subject = bus.SubjectControl
		resp = errorResponse(cmd, fmt.Errorf("unknown command: %q", cmd.Command))
	}

	outcome := "success"
	if !resp.Success {
		outcome = "error"
		logger.Warn().Str("error", resp.Error).Msg("Command failed")
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Command), outcome).Inc()
	timer.ObserveDurationVec(metrics.CommandDuration, string(cmd.Command))

	r.publish(subject, resp)
}

func (r *Router) handleCreate(ctx context.Context, cmd *types.Command) (string, *types.Response) {
	if cmd.Config == nil {
		return bus.SubjectControl, errorResponse(cmd, &types.ConfigurationError{Reason: "create requires a worker config"})
	}

	w, err := r.manager.Create(ctx, cmd.Config)
	if err != nil {
		// No worker exists to address, so the failure goes to control
		return bus.SubjectControl, errorResponse(cmd, err)
	}
	return bus.OutputSubject(cmd.Config.Name), &types.Response{
		RequestID: cmd.RequestID,
		Success:   true,
		WorkerID:  w.ID,
		State:     w.State,
	}
}

func (r *Router) handleDelete(ctx context.Context, cmd *types.Command) (string, *types.Response) {
	subject := r.subjectFor(cmd.WorkerID)
	if err := r.manager.Delete(ctx, cmd.WorkerID); err != nil {
		return subject, errorResponse(cmd, err)
	}
	return subject, &types.Response{
		RequestID: cmd.RequestID,
		Success:   true,
		WorkerID:  cmd.WorkerID,
		State:     types.WorkerStateStopped,
	}
}

func (r *Router) handleStatus(cmd *types.Command) (string, *types.Response) {
	w, err := r.manager.Status(cmd.WorkerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return bus.SubjectControl, errorResponse(cmd, fmt.Errorf("unknown worker: %s", cmd.WorkerID))
		}
		return bus.SubjectControl, errorResponse(cmd, err)
	}

	meta := map[string]any{
		"name":       w.Config.Name,
		"role":       string(w.Config.Role),
		"agent":      string(w.Config.Agent),
		"created_at": w.CreatedAt,
	}
	if w.ContainerID != "" {
		meta["container_id"] = w.ContainerID
	}
	if w.Error != "" {
		meta["error"] = w.Error
	}
	return bus.OutputSubject(w.Config.Name), &types.Response{
		RequestID: cmd.RequestID,
		Success:   true,
		WorkerID:  w.ID,
		State:     w.State,
		Metadata:  meta,
	}
}

func (r *Router) handleSendMessage(ctx context.Context, cmd *types.Command) (string, *types.Response) {
	subject := r.subjectFor(cmd.WorkerID)
	if cmd.Message == "" {
		return subject, errorResponse(cmd, &types.ConfigurationError{Reason: "send_message requires a message"})
	}

	timeout := time.Duration(cmd.Timeout) * time.Second
	res, err := r.manager.SendMessage(ctx, cmd.WorkerID, cmd.RequestID, cmd.TaskID, cmd.Message, timeout)
	if err != nil {
		return subject, errorResponse(cmd, err)
	}

	resp := &types.Response{
		RequestID: cmd.RequestID,
		Success:   true,
		WorkerID:  cmd.WorkerID,
		Response:  res.Response,
	}
	if res.Verdict != nil {
		resp.Metadata = map[string]any{"verdict": res.Verdict}
	}
	return subject, resp
}

func (r *Router) handleSendFile(ctx context.Context, cmd *types.Command) (string, *types.Response) {
	subject := r.subjectFor(cmd.WorkerID)
	if err := r.manager.SendFile(ctx, cmd.WorkerID, cmd.Path, cmd.Content); err != nil {
		return subject, errorResponse(cmd, err)
	}
	return subject, &types.Response{
		RequestID: cmd.RequestID,
		Success:   true,
		WorkerID:  cmd.WorkerID,
	}
}

// subjectFor resolves the output subject for a worker id, falling back to
// control when the worker is unknown
func (r *Router) subjectFor(workerID string) string {
	w, err := r.store.GetWorker(workerID)
	if err != nil {
		return bus.SubjectControl
	}
	return bus.OutputSubject(w.Config.Name)
}

func (r *Router) publish(subject string, resp *types.Response) {
	if err := r.publisher.PublishJSON(subject, resp); err != nil {
		r.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish response")
	}
}

// errorResponse translates an error into the response envelope. This is
// the single point where the internal error taxonomy becomes caller-facing
// metadata.
func errorResponse(cmd *types.Command, err error) *types.Response {
	resp := &types.Response{
		RequestID: cmd.RequestID,
		Success:   false,
		WorkerID:  cmd.WorkerID,
		Error:     err.Error(),
	}

	var (
		configErr   *types.ConfigurationError
		buildErr    *types.ImageBuildError
		engineErr   *types.EngineCommunicationError
		execErr     *types.AgentExecutionError
		timeoutErr  *types.AgentTimeoutError
		protoErr    *types.AgentProtocolError
		capacityErr *types.ResourceExhaustedError
	)
	switch {
	case errors.As(err, &timeoutErr):
		resp.Metadata = map[string]any{
			"status":          "timeout",
			"timeout_seconds": int(timeoutErr.Timeout.Seconds()),
		}
	case errors.As(err, &configErr):
		resp.Metadata = map[string]any{"status": "invalid_config"}
	case errors.As(err, &buildErr):
		resp.Metadata = map[string]any{
			"status":       "build_failed",
			"build_output": buildErr.Output,
		}
	case errors.As(err, &capacityErr):
		resp.Metadata = map[string]any{
			"status": "capacity_exhausted",
			"limit":  capacityErr.Limit,
		}
	case errors.As(err, &execErr):
		resp.Metadata = map[string]any{
			"status":    "agent_failed",
			"exit_code": execErr.ExitCode,
		}
	case errors.As(err, &protoErr):
		resp.Metadata = map[string]any{"status": "protocol_error"}
	case errors.As(err, &engineErr):
		resp.Metadata = map[string]any{"status": "engine_unavailable"}
	}
	return resp
}
