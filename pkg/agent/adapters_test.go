package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// scriptedExecer returns a canned ExecResult and records the command it saw
type scriptedExecer struct {
	result  *engine.ExecResult
	err     error
	lastCmd []string
}

func (s *scriptedExecer) Exec(ctx context.Context, id string, cmd []string, user string, env []string, timeout time.Duration) (*engine.ExecResult, error) {
	s.lastCmd = cmd
	return s.result, s.err
}

func TestClaudeInvokeParsesEnvelope(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		ExitCode: 0,
		Stdout:   `{"type":"result","subtype":"success","is_error":false,"result":"done, see diff","session_id":"sess-42"}`,
	}}

	a := &ClaudeAdapter{}
	res, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "fix the bug", Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []string{"done, see diff"}, res.Segments)
	assert.Equal(t, "sess-42", res.SessionHandle)

	assert.Equal(t, []string{"claude", "-p", "fix the bug", "--output-format", "json", "--dangerously-skip-permissions"}, execer.lastCmd)
}

func TestClaudeInvokeResumeFlag(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		Stdout: `{"type":"result","result":"ok","session_id":"sess-42"}`,
	}}

	a := &ClaudeAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "continue", SessionHandle: "sess-42", Timeout: time.Minute})
	require.NoError(t, err)
	assert.Contains(t, execer.lastCmd, "--resume")
	assert.Contains(t, execer.lastCmd, "sess-42")
}

func TestClaudeInvokeTimeout(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		TimedOut: true,
		Stdout:   "partial output before the clock ran out",
	}}

	a := &ClaudeAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "slow task", Timeout: 2 * time.Second})
	var terr *types.AgentTimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, types.AgentClaude, terr.Agent)
	assert.Equal(t, 2*time.Second, terr.Timeout)
	assert.Equal(t, "partial output before the clock ran out", terr.Partial)
}

func TestClaudeInvokeNonZeroExit(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		ExitCode: 1,
		Stderr:   "invalid API key",
	}}

	a := &ClaudeAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "x", Timeout: time.Minute})
	var eerr *types.AgentExecutionError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, 1, eerr.ExitCode)
	assert.Equal(t, "invalid API key", eerr.Stderr)
}

func TestClaudeInvokeEnvelopeError(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		Stdout: `{"type":"result","is_error":true,"result":"credit balance too low"}`,
	}}

	a := &ClaudeAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "x", Timeout: time.Minute})
	var eerr *types.AgentExecutionError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "credit balance too low", eerr.Stderr)
}

func TestClaudeInvokeMalformedOutput(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{Stdout: "not json at all"}}

	a := &ClaudeAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "x", Timeout: time.Minute})
	var perr *types.AgentProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestCodexInvokeParsesEventStream(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		Stdout: `reading prompt from argv
{"type":"thread.started","thread_id":"thread-7"}
{"type":"item.completed","item":{"item_type":"reasoning","text":"thinking"}}
{"type":"item.completed","item":{"item_type":"agent_message","text":"first part"}}
{"type":"item.completed","item":{"item_type":"agent_message","text":"second part"}}
{"type":"turn.completed"}
`,
	}}

	a := &CodexAdapter{}
	res, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "write tests", Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "thread-7", res.SessionHandle)
	assert.Equal(t, []string{"first part", "second part"}, res.Segments)

	assert.Equal(t, []string{"codex", "exec", "--json", "write tests"}, execer.lastCmd)
}

func TestCodexInvokeResumeSubcommand(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		Stdout: `{"type":"thread.started","thread_id":"thread-7"}
{"type":"item.completed","item":{"item_type":"agent_message","text":"resumed"}}
`,
	}}

	a := &CodexAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "continue", SessionHandle: "thread-7", Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []string{"codex", "exec", "--json", "resume", "thread-7", "continue"}, execer.lastCmd)
}

func TestCodexInvokeTurnFailed(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{
		Stdout: `{"type":"thread.started","thread_id":"thread-7"}
{"type":"turn.failed","error":{"message":"model overloaded"}}
`,
	}}

	a := &CodexAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "x", Timeout: time.Minute})
	var eerr *types.AgentExecutionError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "model overloaded", eerr.Stderr)
}

func TestCodexInvokeNoEvents(t *testing.T) {
	execer := &scriptedExecer{result: &engine.ExecResult{Stdout: "no json here\njust noise\n"}}

	a := &CodexAdapter{}
	_, err := a.Invoke(context.Background(), execer, "ctr-1", &Invocation{Prompt: "x", Timeout: time.Minute})
	var perr *types.AgentProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestRegistryCoversSupportedAgents(t *testing.T) {
	r := NewRegistry()
	for _, at := range types.SupportedAgents {
		a, err := r.Get(at)
		require.NoError(t, err)
		assert.Equal(t, at, a.Type())
	}
	_, err := r.Get(types.AgentType("gemini"))
	assert.Error(t, err)
}
