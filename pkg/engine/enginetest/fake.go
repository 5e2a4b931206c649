// Package enginetest provides a scriptable in-memory Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
)

// Container is one fake container's state
type Container struct {
	ID      string
	Spec    *engine.ContainerSpec
	Running bool
	Paused  bool
}

// CopyCall records one CopyToContainer invocation
type CopyCall struct {
	ContainerID string
	DestDir     string
	Files       []engine.FileEntry
}

// Fake is an in-memory Engine. Zero value is not usable; construct with New.
// Error fields, when set, are returned by the corresponding operation. ExecFn,
// when set, scripts Exec results.
type Fake struct {
	mu sync.Mutex

	Containers map[string]*Container
	Images     map[string]bool

	BuildCount    int
	BuiltRefs     []string
	RemovedImages []string
	Deleted       []string
	Paused        []string
	Resumed       []string
	ExecCalls     [][]string
	CopyCalls     []CopyCall

	CreateErr error
	StartErr  error
	BuildErr  error
	DeleteErr error
	ExecFn    func(containerID string, cmd []string, timeout time.Duration) (*engine.ExecResult, error)

	eventCh chan engine.ContainerEvent
	errCh   chan error

	nextID int
}

// New creates an empty fake engine
func New() *Fake {
	return &Fake{
		Containers: make(map[string]*Container),
		Images:     make(map[string]bool),
		eventCh:    make(chan engine.ContainerEvent, 16),
		errCh:      make(chan error, 1),
	}
}

func (f *Fake) CreateContainer(ctx context.Context, spec *engine.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.Containers[id] = &Container{ID: id, Spec: spec}
	return id, nil
}

func (f *Fake) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.Containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	c.Running = true
	return nil
}

func (f *Fake) ContainerRunning(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[id]
	return ok && c.Running && !c.Paused, nil
}

func (f *Fake) Exec(ctx context.Context, id string, cmd []string, user string, env []string, timeout time.Duration) (*engine.ExecResult, error) {
	f.mu.Lock()
	f.ExecCalls = append(f.ExecCalls, cmd)
	fn := f.ExecFn
	f.mu.Unlock()
	if fn != nil {
		return fn(id, cmd, timeout)
	}
	return &engine.ExecResult{ExitCode: 0}, nil
}

func (f *Fake) PauseContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Paused = append(f.Paused, id)
	if c, ok := f.Containers[id]; ok {
		c.Paused = true
	}
	return nil
}

func (f *Fake) ResumeContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumed = append(f.Resumed, id)
	if c, ok := f.Containers[id]; ok {
		c.Paused = false
	}
	return nil
}

func (f *Fake) DeleteContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, id)
	delete(f.Containers, id)
	return nil
}

func (f *Fake) CopyToContainer(ctx context.Context, id, destDir string, files []engine.FileEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CopyCalls = append(f.CopyCalls, CopyCall{ContainerID: id, DestDir: destDir, Files: files})
	return nil
}

func (f *Fake) BuildImage(ctx context.Context, ref string, dockerfile []byte, labels map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BuildCount++
	if f.BuildErr != nil {
		return "step 1/4 failed", f.BuildErr
	}
	f.BuiltRefs = append(f.BuiltRefs, ref)
	f.Images[ref] = true
	return "build ok", nil
}

func (f *Fake) ImageExists(ctx context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Images[ref], nil
}

func (f *Fake) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedImages = append(f.RemovedImages, ref)
	delete(f.Images, ref)
	return nil
}

func (f *Fake) Events(ctx context.Context) (<-chan engine.ContainerEvent, <-chan error) {
	return f.eventCh, f.errCh
}

// Emit delivers a lifecycle event to the Events subscriber
func (f *Fake) Emit(ev engine.ContainerEvent) {
	f.eventCh <- ev
}

// CloseEvents closes the event stream, simulating a dropped connection
func (f *Fake) CloseEvents() {
	close(f.eventCh)
	close(f.errCh)
}

func (f *Fake) Close() error { return nil }

// Container returns the fake container with the given id, or nil
func (f *Fake) Container(id string) *Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Containers[id]
}

var _ engine.Engine = (*Fake)(nil)
