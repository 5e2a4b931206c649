package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// ClaudeAdapter invokes the claude CLI in non-interactive mode and parses
// its single-object JSON result envelope.
type ClaudeAdapter struct{}

// claudeEnvelope is the JSON object claude prints with --output-format json
type claudeEnvelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

func (a *ClaudeAdapter) Type() types.AgentType { return types.AgentClaude }

func (a *ClaudeAdapter) Invoke(ctx context.Context, execer Execer, containerID string, inv *Invocation) (*Result, error) {
	cmd := []string{"claude", "-p", inv.Prompt, "--output-format", "json", "--dangerously-skip-permissions"}
	if inv.SessionHandle != "" {
		cmd = append(cmd, "--resume", inv.SessionHandle)
	}

	res, err := execer.Exec(ctx, containerID, cmd, execUser, nil, inv.Timeout)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, &types.AgentTimeoutError{
			Agent:   types.AgentClaude,
			Timeout: inv.Timeout,
			Partial: res.Stdout,
		}
	}
	if res.ExitCode != 0 {
		return nil, &types.AgentExecutionError{
			Agent:    types.AgentClaude,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	var env claudeEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &env); err != nil {
		return nil, &types.AgentProtocolError{Reason: "claude output is not the expected JSON envelope", Err: err}
	}
	if env.IsError {
		// The CLI reports some failures inside the envelope with exit code 0
		return nil, &types.AgentExecutionError{
			Agent:  types.AgentClaude,
			Stderr: env.Result,
		}
	}

	return &Result{
		Segments:      []string{env.Result},
		SessionHandle: env.SessionID,
		Raw:           res.Stdout,
	}, nil
}
