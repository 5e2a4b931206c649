package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// timeoutErr satisfies net.Error and stands in for a network blip
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWithRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test op", func() error {
		calls++
		if calls < 2 {
			return timeoutErr{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryExhaustion(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test op", func() error {
		calls++
		return timeoutErr{}
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)

	var commErr *types.EngineCommunicationError
	require.True(t, errors.As(err, &commErr))
	assert.Equal(t, "test op", commErr.Op)
	assert.Equal(t, maxAttempts, commErr.Attempts)
}

func TestWithRetryNonTransientFailsFast(t *testing.T) {
	calls := 0
	fatal := fmt.Errorf("no such container")
	err := withRetry(context.Background(), "test op", func() error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)

	var commErr *types.EngineCommunicationError
	assert.False(t, errors.As(err, &commErr))
}

func TestIsTransient(t *testing.T) {
	var netErr net.Error = timeoutErr{}
	assert.True(t, isTransient(netErr))
	assert.False(t, isTransient(errors.New("conflict")))
	assert.False(t, isTransient(nil))
}
