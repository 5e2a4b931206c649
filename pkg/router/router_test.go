package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/bus"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/worker"
)

type fakeManager struct {
	mu        sync.Mutex
	createErr error
	sendErr   error
	sendDelay time.Duration
	calls     []string
	store     storage.Store
}

func (f *fakeManager) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeManager) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeManager) Create(ctx context.Context, cfg *types.WorkerConfig) (*types.WorkerInstance, error) {
	f.record("create:" + cfg.Name)
	if f.createErr != nil {
		return nil, f.createErr
	}
	w := &types.WorkerInstance{ID: "id-" + cfg.Name, Config: cfg, State: types.WorkerStateRunning}
	if err := f.store.SaveWorker(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (f *fakeManager) Delete(ctx context.Context, workerID string) error {
	f.record("delete:" + workerID)
	return nil
}

func (f *fakeManager) Status(workerID string) (*types.WorkerInstance, error) {
	return f.store.GetWorker(workerID)
}

func (f *fakeManager) SendMessage(ctx context.Context, workerID, requestID, taskID, message string, timeout time.Duration) (*worker.ExchangeResult, error) {
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}
	f.record("send:" + message)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &worker.ExchangeResult{Response: "echo: " + message}, nil
}

func (f *fakeManager) SendFile(ctx context.Context, workerID, destPath string, content []byte) error {
	f.record("file:" + destPath)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   []*types.Response
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var resp types.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, &resp)
	return nil
}

func (p *recordingPublisher) wait(t *testing.T, n int) ([]string, []*types.Response) {
	t.Helper()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.bodies) >= n
	}, 2*time.Second, 10*time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...), append([]*types.Response(nil), p.bodies...)
}

type routerFixture struct {
	router    *Router
	manager   *fakeManager
	publisher *recordingPublisher
	store     storage.Store
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager := &fakeManager{store: store}
	publisher := &recordingPublisher{}
	r := New(manager, store, publisher, 4)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)

	return &routerFixture{router: r, manager: manager, publisher: publisher, store: store}
}

func send(t *testing.T, r *Router, cmd types.Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	r.Handle(data)
}

func validConfig(name string) *types.WorkerConfig {
	return &types.WorkerConfig{
		Name:     name,
		Role:     types.WorkerRoleProductOwner,
		Agent:    types.AgentClaude,
		AuthMode: types.AuthModeAPIKey,
		APIKey:   "sk-test",
	}
}

func TestCreateSuccessAddressedToWorkerSubject(t *testing.T) {
	f := newRouterFixture(t)

	send(t, f.router, types.Command{Command: types.CommandCreate, RequestID: "req-1", Config: validConfig("po-main")})

	subjects, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, bus.OutputSubject("po-main"), subjects[0])
	assert.Equal(t, "req-1", bodies[0].RequestID)
	assert.True(t, bodies[0].Success)
	assert.Equal(t, "id-po-main", bodies[0].WorkerID)
}

func TestCreateFailureGoesToControl(t *testing.T) {
	f := newRouterFixture(t)
	f.manager.createErr = &types.ResourceExhaustedError{Running: 5, Limit: 5}

	send(t, f.router, types.Command{Command: types.CommandCreate, RequestID: "req-1", Config: validConfig("po-main")})

	subjects, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, bus.SubjectControl, subjects[0])
	assert.Equal(t, "req-1", bodies[0].RequestID)
	assert.False(t, bodies[0].Success)
	assert.Equal(t, "capacity_exhausted", bodies[0].Metadata["status"])
}

func TestSendMessageTimeoutMetadata(t *testing.T) {
	f := newRouterFixture(t)
	f.manager.sendErr = &types.AgentTimeoutError{Agent: types.AgentClaude, Timeout: 30 * time.Second}

	require.NoError(t, f.store.SaveWorker(&types.WorkerInstance{
		ID: "w1", Config: validConfig("po-main"), State: types.WorkerStateRunning,
	}))

	send(t, f.router, types.Command{Command: types.CommandSendMessage, RequestID: "req-1", WorkerID: "w1", Message: "hi"})

	subjects, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, bus.OutputSubject("po-main"), subjects[0])
	assert.False(t, bodies[0].Success)
	assert.Equal(t, "timeout", bodies[0].Metadata["status"])
	assert.Equal(t, float64(30), bodies[0].Metadata["timeout_seconds"])
}

func TestSendMessageSuccessEchoesRequestID(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.store.SaveWorker(&types.WorkerInstance{
		ID: "w1", Config: validConfig("po-main"), State: types.WorkerStateRunning,
	}))

	send(t, f.router, types.Command{Command: types.CommandSendMessage, RequestID: "req-7", WorkerID: "w1", Message: "hello"})

	_, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, "req-7", bodies[0].RequestID)
	assert.Equal(t, "echo: hello", bodies[0].Response)
}

func TestSameWorkerCommandsStayOrdered(t *testing.T) {
	f := newRouterFixture(t)
	f.manager.sendDelay = 50 * time.Millisecond

	require.NoError(t, f.store.SaveWorker(&types.WorkerInstance{
		ID: "w1", Config: validConfig("po-main"), State: types.WorkerStateRunning,
	}))

	for _, msg := range []string{"first", "second", "third"} {
		send(t, f.router, types.Command{Command: types.CommandSendMessage, RequestID: msg, WorkerID: "w1", Message: msg})
	}

	f.publisher.wait(t, 3)
	assert.Equal(t, []string{"send:first", "send:second", "send:third"}, f.manager.recorded())
}

func TestStatusMetadata(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.store.SaveWorker(&types.WorkerInstance{
		ID: "w1", Config: validConfig("po-main"), State: types.WorkerStateFailed,
		ContainerID: "ctr-1", Error: "container exited unexpectedly with code 1",
	}))

	send(t, f.router, types.Command{Command: types.CommandStatus, RequestID: "req-1", WorkerID: "w1"})

	_, bodies := f.publisher.wait(t, 1)
	require.True(t, bodies[0].Success)
	assert.Equal(t, types.WorkerStateFailed, bodies[0].State)
	assert.Equal(t, "po-main", bodies[0].Metadata["name"])
	assert.Equal(t, "ctr-1", bodies[0].Metadata["container_id"])
	assert.Contains(t, bodies[0].Metadata["error"], "exited unexpectedly")
}

func TestStatusUnknownWorker(t *testing.T) {
	f := newRouterFixture(t)

	send(t, f.router, types.Command{Command: types.CommandStatus, RequestID: "req-1", WorkerID: "ghost"})

	subjects, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, bus.SubjectControl, subjects[0])
	assert.False(t, bodies[0].Success)
	assert.Contains(t, bodies[0].Error, "unknown worker")
}

func TestUnknownCommand(t *testing.T) {
	f := newRouterFixture(t)

	send(t, f.router, types.Command{Command: types.CommandName("restart"), RequestID: "req-1"})

	subjects, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, bus.SubjectControl, subjects[0])
	assert.False(t, bodies[0].Success)
	assert.Equal(t, "req-1", bodies[0].RequestID)
}

func TestUnparseablePayload(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Handle([]byte("not json"))

	subjects, bodies := f.publisher.wait(t, 1)
	assert.Equal(t, bus.SubjectControl, subjects[0])
	assert.False(t, bodies[0].Success)
}

func TestErrorResponseTranslation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{"configuration", &types.ConfigurationError{Reason: "bad"}, "invalid_config"},
		{"build", &types.ImageBuildError{Hash: "abc", Output: "step 3 failed", Err: errors.New("boom")}, "build_failed"},
		{"engine", &types.EngineCommunicationError{Op: "create", Attempts: 3, Err: errors.New("refused")}, "engine_unavailable"},
		{"execution", &types.AgentExecutionError{Agent: types.AgentClaude, ExitCode: 2}, "agent_failed"},
		{"protocol", &types.AgentProtocolError{Reason: "garbage"}, "protocol_error"},
		{"wrapped timeout", &types.AgentTimeoutError{Agent: types.AgentCodex, Timeout: time.Minute}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := errorResponse(&types.Command{RequestID: "req-1"}, tt.err)
			assert.False(t, resp.Success)
			assert.Equal(t, "req-1", resp.RequestID)
			assert.Equal(t, tt.wantStatus, resp.Metadata["status"])
		})
	}

	// Untyped errors carry no status metadata
	resp := errorResponse(&types.Command{RequestID: "req-1"}, errors.New("plain"))
	assert.Nil(t, resp.Metadata)
}
