package engine

import (
	"context"
	"time"
)

const (
	// Container labels marking subsystem-owned containers. The event
	// listener only reacts to containers carrying LabelWorker.
	LabelWorker = "agentd.worker"
	LabelRole   = "agentd.role"
	LabelAgent  = "agentd.agent"
)

// ContainerSpec describes a container to create
type ContainerSpec struct {
	Name        string
	Image       string
	Env         []string
	Binds       []string
	Labels      map[string]string
	Cmd         []string
	WorkingDir  string
	NanoCPUs    int64
	MemoryBytes int64
}

// ExecResult is the outcome of a command executed inside a container.
// TimedOut and a non-zero exit code are distinct, explicitly modeled
// outcomes, never conflated.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// FileEntry is one file to copy into a container
type FileEntry struct {
	Path    string
	Mode    int64
	Content []byte
}

// ContainerEvent is a container lifecycle event from the engine stream
type ContainerEvent struct {
	ContainerID string
	Action      string // "start", "die", "oom", "kill"
	ExitCode    int
	Labels      map[string]string
	Time        time.Time
}

// Engine abstracts the container engine: lifecycle primitives, in-container
// command execution, image build/remove, and the lifecycle event stream.
//
// Delete is idempotent. Exec enforces the caller's timeout and guarantees the
// underlying process is terminated on expiry. Read-only and idempotent
// operations are retried a bounded number of times on transient engine
// communication failures before an EngineCommunicationError surfaces.
type Engine interface {
	CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	ContainerRunning(ctx context.Context, id string) (bool, error)
	Exec(ctx context.Context, id string, cmd []string, user string, env []string, timeout time.Duration) (*ExecResult, error)
	PauseContainer(ctx context.Context, id string) error
	ResumeContainer(ctx context.Context, id string) error
	DeleteContainer(ctx context.Context, id string) error
	CopyToContainer(ctx context.Context, id, destDir string, files []FileEntry) error

	BuildImage(ctx context.Context, ref string, dockerfile []byte, labels map[string]string) (string, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	RemoveImage(ctx context.Context, ref string) error

	Events(ctx context.Context) (<-chan ContainerEvent, <-chan error)
	Close() error
}
