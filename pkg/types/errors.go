package types

import (
	"fmt"
	"time"
)

// ConfigurationError reports an invalid WorkerConfig. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid worker configuration: %s", e.Reason)
}

// ImageBuildError reports a failed container image build. Carries the
// engine's diagnostic output.
type ImageBuildError struct {
	Hash   string
	Output string
	Err    error
}

func (e *ImageBuildError) Error() string {
	return fmt.Sprintf("image build failed for %s: %v", e.Hash, e.Err)
}

func (e *ImageBuildError) Unwrap() error { return e.Err }

// EngineCommunicationError reports a container engine API failure that
// persisted through the bounded retry policy.
type EngineCommunicationError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *EngineCommunicationError) Error() string {
	return fmt.Sprintf("engine %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *EngineCommunicationError) Unwrap() error { return e.Err }

// AgentExecutionError reports a CLI agent process that exited non-zero.
type AgentExecutionError struct {
	Agent    AgentType
	ExitCode int
	Stderr   string
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %s exited with code %d: %s", e.Agent, e.ExitCode, e.Stderr)
}

// AgentTimeoutError reports an agent invocation that exceeded the caller's
// timeout. Distinct from AgentExecutionError: callers usually resubmit with a
// longer timeout rather than treat it as a crash.
type AgentTimeoutError struct {
	Agent   AgentType
	Timeout time.Duration
	Partial string
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("agent %s timed out after %s", e.Agent, e.Timeout)
}

// AgentProtocolError reports agent output that could not be parsed into the
// expected envelope, or a malformed result block. Never silently treated as
// "no result".
type AgentProtocolError struct {
	Reason string
	Err    error
}

func (e *AgentProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("agent protocol error: %s", e.Reason)
}

func (e *AgentProtocolError) Unwrap() error { return e.Err }

// ResourceExhaustedError reports that the running-worker ceiling was reached.
type ResourceExhaustedError struct {
	Running int
	Limit   int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("worker capacity exhausted: %d of %d running", e.Running, e.Limit)
}
