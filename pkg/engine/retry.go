package engine

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/docker/docker/client"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

const (
	// maxAttempts bounds retries for transient engine communication
	// failures
	maxAttempts = 3

	// baseBackoff is the first retry delay; doubled per attempt
	baseBackoff = 250 * time.Millisecond
)

// isTransient reports whether an engine API error is worth retrying:
// connection failures and network-level errors only. API-level rejections
// (not found, conflict, invalid parameter) are never transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if client.IsErrConnectionFailed(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// withRetry runs fn up to maxAttempts times, backing off between attempts,
// retrying only transient failures. After exhaustion the last error is
// wrapped as an EngineCommunicationError.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	backoff := baseBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return &types.EngineCommunicationError{Op: op, Attempts: maxAttempts, Err: lastErr}
}
