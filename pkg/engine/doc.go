/*
Package engine wraps the Docker Engine API behind the container lifecycle
primitives this subsystem needs.

The Engine interface covers:

	Lifecycle    create, start, pause, resume, delete (idempotent)
	Exec         run a command inside a running container with a hard
	             timeout and captured stdout/stderr/exit code
	Images       build from an in-memory Dockerfile, existence check,
	             remove
	Events       the engine's container lifecycle event stream, filtered
	             to containers carrying the subsystem's worker label

# Exec timeout enforcement

Exec enforces timeouts twice. The command is wrapped with coreutils
timeout inside the container, which kills the agent process there (exit code
124), so no orphan survives; the attach stream additionally carries a context
deadline with a small grace period, so the calling goroutine is always
released even if the in-container wrapper is unavailable. A timed-out exec is
reported as ExecResult.TimedOut, a distinct outcome from a non-zero exit.

# Retry policy

Idempotent operations (inspect, pause, resume, delete, copy, exec create)
retry transient transport failures up to three times with exponential
backoff; after exhaustion an EngineCommunicationError surfaces to the caller.
API-level rejections are never retried.

# Event stream

Events returns channels that close when the connection drops or the context
is cancelled; the crash listener owns resubscription.
*/
package engine
