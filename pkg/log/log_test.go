package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("router")
	logger = WithRequestID(logger, "req-1")
	logger = WithWorkerID(logger, "w-1")
	logger.Info().Msg("handling")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "router", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "w-1", entry["worker_id"])
	assert.Equal(t, "handling", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("dropped")
	assert.Empty(t, buf.Bytes())

	Logger.Warn().Msg("kept")
	assert.NotEmpty(t, buf.Bytes())
}
