package engine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
)

// execTimeoutExit is the exit code coreutils timeout reports when it had to
// terminate the command
const execTimeoutExit = 124

// execGrace is how long past the caller's timeout we wait for the exec
// stream to drain before declaring the invocation timed out ourselves
const execGrace = 5 * time.Second

// DockerEngine implements Engine against the Docker Engine API
type DockerEngine struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewDockerEngine creates an engine client and verifies the daemon is
// reachable
func NewDockerEngine(ctx context.Context, host string) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = []client.Opt{client.WithHost(host), client.WithAPIVersionNegotiation()}
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to reach container engine: %w", err)
	}

	return &DockerEngine{
		cli:    cli,
		logger: log.WithComponent("engine"),
	}, nil
}

// Close closes the engine client connection
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

// CreateContainer creates a container described by spec and returns its id
func (e *DockerEngine) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Env:        spec.Env,
		Labels:     spec.Labels,
		Cmd:        spec.Cmd,
		WorkingDir: spec.WorkingDir,
	}

	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
		Resources: container.Resources{
			NanoCPUs: spec.NanoCPUs,
			Memory:   spec.MemoryBytes,
		},
	}

	var id string
	err := withRetry(ctx, "container create", func() error {
		resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
		if err != nil {
			return err
		}
		id = resp.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	e.logger.Debug().Str("container_id", id).Str("image", spec.Image).Msg("container created")
	return id, nil
}

// StartContainer starts a created container. It returns once the engine has
// accepted the start; readiness is observed via events or a subsequent exec.
func (e *DockerEngine) StartContainer(ctx context.Context, id string) error {
	return withRetry(ctx, "container start", func() error {
		return e.cli.ContainerStart(ctx, id, container.StartOptions{})
	})
}

// ContainerRunning reports whether the container currently has a running
// process
func (e *DockerEngine) ContainerRunning(ctx context.Context, id string) (bool, error) {
	var running bool
	err := withRetry(ctx, "container inspect", func() error {
		insp, err := e.cli.ContainerInspect(ctx, id)
		if err != nil {
			if errdefs.IsNotFound(err) {
				running = false
				return nil
			}
			return err
		}
		running = insp.State != nil && insp.State.Running
		return nil
	})
	return running, err
}

// Exec runs a command inside a running container and captures its output.
// The command is wrapped with coreutils timeout so the process is killed
// inside the container on expiry; the attach stream additionally carries a
// deadline so this call never hangs past timeout plus a small grace period.
func (e *DockerEngine) Exec(ctx context.Context, id string, cmd []string, user string, env []string, timeout time.Duration) (*ExecResult, error) {
	fullCmd := cmd
	if timeout > 0 {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		fullCmd = append([]string{"timeout", "-k", "5", strconv.Itoa(secs)}, cmd...)
	}

	var execResp types.IDResponse
	err := withRetry(ctx, "exec create", func() error {
		resp, createErr := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
			User:         user,
			Env:          env,
			Cmd:          fullCmd,
			AttachStdout: true,
			AttachStderr: true,
		})
		if createErr != nil {
			return createErr
		}
		execResp = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	attachCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attachCtx, cancel = context.WithTimeout(ctx, timeout+execGrace)
		defer cancel()
	}
	started := time.Now()

	hijack, err := e.cli.ContainerExecAttach(attachCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer hijack.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, hijack.Reader)
		done <- copyErr
	}()

	select {
	case <-attachCtx.Done():
		// The in-container timeout wrapper should have fired already;
		// report the timeout with whatever output was captured.
		return &ExecResult{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
		}, nil
	case copyErr := <-done:
		if copyErr != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to read exec output: %w", copyErr)
		}
	}

	insp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: insp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: execTimedOut(insp.ExitCode, timeout, time.Since(started)),
	}, nil
}

// execTimedOut decides whether an exit means the timeout wrapper fired. The
// wrapper exits 124, but a command may exit 124 on its own, so the elapsed
// time has to back the exit code up. The wrapper only kills at the deadline;
// a 124 well before it is the command's own.
func execTimedOut(exitCode int, timeout, elapsed time.Duration) bool {
	if timeout <= 0 || exitCode != execTimeoutExit {
		return false
	}
	return elapsed >= timeout-time.Second
}

// PauseContainer suspends all processes in the container
func (e *DockerEngine) PauseContainer(ctx context.Context, id string) error {
	return withRetry(ctx, "container pause", func() error {
		return e.cli.ContainerPause(ctx, id)
	})
}

// ResumeContainer resumes a paused container
func (e *DockerEngine) ResumeContainer(ctx context.Context, id string) error {
	return withRetry(ctx, "container unpause", func() error {
		return e.cli.ContainerUnpause(ctx, id)
	})
}

// DeleteContainer force-removes a container. Deleting an already-absent
// container is not an error.
func (e *DockerEngine) DeleteContainer(ctx context.Context, id string) error {
	return withRetry(ctx, "container remove", func() error {
		err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		if err != nil && errdefs.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// CopyToContainer writes files into a running container under destDir
func (e *DockerEngine) CopyToContainer(ctx context.Context, id, destDir string, files []FileEntry) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		hdr := &tar.Header{
			Name:    f.Path,
			Mode:    f.Mode,
			Size:    int64(len(f.Content)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return fmt.Errorf("failed to write tar content: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}

	return withRetry(ctx, "copy to container", func() error {
		return e.cli.CopyToContainer(ctx, id, destDir, bytes.NewReader(buf.Bytes()), container.CopyToContainerOptions{})
	})
}

// buildMessage is one line of the engine's build output stream
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// BuildImage builds an image from an in-memory Dockerfile and tags it with
// ref. Returns the accumulated build output; on failure the output is still
// returned alongside the error as diagnostic context.
func (e *DockerEngine) BuildImage(ctx context.Context, ref string, dockerfile []byte, labels map[string]string) (string, error) {
	var buildCtx bytes.Buffer
	tw := tar.NewWriter(&buildCtx)
	hdr := &tar.Header{
		Name:    "Dockerfile",
		Mode:    0644,
		Size:    int64(len(dockerfile)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return "", fmt.Errorf("failed to write build context: %w", err)
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return "", fmt.Errorf("failed to write build context: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize build context: %w", err)
	}

	resp, err := e.cli.ImageBuild(ctx, &buildCtx, types.ImageBuildOptions{
		Tags:        []string{ref},
		Labels:      labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start image build: %w", err)
	}
	defer resp.Body.Close()

	var output strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg buildMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Stream != "" {
			output.WriteString(msg.Stream)
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return output.String(), fmt.Errorf("build failed: %s", detail)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return output.String(), fmt.Errorf("failed to read build output: %w", err)
	}

	e.logger.Debug().Str("image", ref).Msg("image built")
	return output.String(), nil
}

// ImageExists reports whether an image with the given reference is present
// in the engine
func (e *DockerEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := withRetry(ctx, "image inspect", func() error {
		_, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
		if err != nil {
			if errdefs.IsNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// RemoveImage removes an image by reference. Removing an absent image is not
// an error.
func (e *DockerEngine) RemoveImage(ctx context.Context, ref string) error {
	return withRetry(ctx, "image remove", func() error {
		_, err := e.cli.ImageRemove(ctx, ref, image.RemoveOptions{PruneChildren: true})
		if err != nil && errdefs.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// Events subscribes to the engine's lifecycle event stream, filtered to
// subsystem-owned containers. The channels close when ctx is cancelled or
// the engine connection drops; callers are expected to resubscribe.
func (e *DockerEngine) Events(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	args := filters.NewArgs(
		filters.Arg("type", "container"),
		filters.Arg("label", LabelWorker),
	)

	msgCh, errCh := e.cli.Events(ctx, events.ListOptions{Filters: args})

	out := make(chan ContainerEvent, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if !ok {
					return
				}
				if err != nil {
					errs <- err
				}
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				ev := ContainerEvent{
					ContainerID: msg.Actor.ID,
					Action:      string(msg.Action),
					Labels:      msg.Actor.Attributes,
					Time:        time.Unix(msg.Time, 0),
				}
				if code, err := strconv.Atoi(msg.Actor.Attributes["exitCode"]); err == nil {
					ev.ExitCode = code
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}
