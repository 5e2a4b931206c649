package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

const (
	resultOpen  = "<result>"
	resultClose = "</result>"
)

// ExtractVerdict scans the agent's output segments for a structured result
// block and decodes it. Segments are concatenated in order before scanning,
// so a block split across streamed segments still parses. The first complete
// block wins; later blocks are ignored.
//
// A missing block returns (nil, nil). An unterminated block, invalid JSON
// payload, or unknown status is an AgentProtocolError, never silently
// treated as absent.
func ExtractVerdict(segments []string) (*types.AgentVerdict, error) {
	text := strings.Join(segments, "\n")

	start := strings.Index(text, resultOpen)
	if start < 0 {
		return nil, nil
	}
	rest := text[start+len(resultOpen):]
	end := strings.Index(rest, resultClose)
	if end < 0 {
		return nil, &types.AgentProtocolError{Reason: "unterminated result block"}
	}

	payload := strings.TrimSpace(rest[:end])
	var v types.AgentVerdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, &types.AgentProtocolError{Reason: "result block is not valid JSON", Err: err}
	}
	if !v.Status.Valid() {
		return nil, &types.AgentProtocolError{Reason: fmt.Sprintf("unknown verdict status: %q", v.Status)}
	}
	return &v, nil
}
