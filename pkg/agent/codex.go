package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// CodexAdapter invokes the codex CLI in exec mode and parses its JSONL
// event stream.
type CodexAdapter struct{}

// codexEvent is one line of the codex --json event stream. Only the event
// shapes the adapter consumes are modeled; unknown types are skipped.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Item     *struct {
		Type string `json:"item_type"`
		Text string `json:"text"`
	} `json:"item,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *CodexAdapter) Type() types.AgentType { return types.AgentCodex }

func (a *CodexAdapter) Invoke(ctx context.Context, execer Execer, containerID string, inv *Invocation) (*Result, error) {
	cmd := []string{"codex", "exec", "--json"}
	if inv.SessionHandle != "" {
		cmd = append(cmd, "resume", inv.SessionHandle)
	}
	cmd = append(cmd, inv.Prompt)

	res, err := execer.Exec(ctx, containerID, cmd, execUser, nil, inv.Timeout)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, &types.AgentTimeoutError{
			Agent:   types.AgentCodex,
			Timeout: inv.Timeout,
			Partial: res.Stdout,
		}
	}
	if res.ExitCode != 0 {
		return nil, &types.AgentExecutionError{
			Agent:    types.AgentCodex,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	result := &Result{Raw: res.Stdout}
	parsed := 0

	// The stream interleaves plain progress lines with JSON events; only
	// lines that decode as events count toward the envelope.
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		parsed++
		switch ev.Type {
		case "thread.started":
			result.SessionHandle = ev.ThreadID
		case "item.completed":
			if ev.Item != nil && ev.Item.Type == "agent_message" {
				result.Segments = append(result.Segments, ev.Item.Text)
			}
		case "turn.failed":
			msg := "turn failed"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return nil, &types.AgentExecutionError{
				Agent:  types.AgentCodex,
				Stderr: msg,
			}
		}
	}
	if parsed == 0 {
		return nil, &types.AgentProtocolError{Reason: "codex output contained no parseable events"}
	}

	return result, nil
}
