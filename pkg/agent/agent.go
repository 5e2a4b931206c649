package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// execUser is the unprivileged account agent processes run under inside
// worker containers
const execUser = "agent"

// Execer is the subset of the container engine adapters need
type Execer interface {
	Exec(ctx context.Context, id string, cmd []string, user string, env []string, timeout time.Duration) (*engine.ExecResult, error)
}

// Invocation is one prompt exchange with an agent. SessionHandle, when
// non-empty, resumes a prior conversation.
type Invocation struct {
	Prompt        string
	SessionHandle string
	Timeout       time.Duration
}

// Result is the parsed outcome of one agent invocation. Segments holds the
// agent's free-form output in order; SessionHandle is the continuity token
// the agent returned, empty if the agent reported none.
type Result struct {
	Segments      []string
	SessionHandle string
	Raw           string
}

// Adapter knows how to invoke one CLI agent inside a container and parse
// its output format back into a Result
type Adapter interface {
	Type() types.AgentType
	Invoke(ctx context.Context, execer Execer, containerID string, inv *Invocation) (*Result, error)
}

// Registry holds the adapter for every supported agent type
type Registry struct {
	adapters map[types.AgentType]Adapter
}

// NewRegistry creates a registry with all built-in adapters registered
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[types.AgentType]Adapter)}
	r.register(&ClaudeAdapter{})
	r.register(&CodexAdapter{})
	return r
}

func (r *Registry) register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Get returns the adapter for the given agent type
func (r *Registry) Get(t types.AgentType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for agent type %q", t)
	}
	return a, nil
}

// InstructionPath is the in-container path where the agent reads its
// standing instructions
func InstructionPath(t types.AgentType) string {
	switch t {
	case types.AgentClaude:
		return "/workspace/CLAUDE.md"
	case types.AgentCodex:
		return "/workspace/AGENTS.md"
	}
	return ""
}

// CredentialPath is the in-container directory where the agent expects its
// credentials in mounted-session auth mode
func CredentialPath(t types.AgentType) string {
	switch t {
	case types.AgentClaude:
		return "/home/agent/.claude"
	case types.AgentCodex:
		return "/home/agent/.codex"
	}
	return ""
}

// APIKeyEnv is the environment variable the agent reads its API key from
// in api-key auth mode
func APIKeyEnv(t types.AgentType) string {
	switch t {
	case types.AgentClaude:
		return "ANTHROPIC_API_KEY"
	case types.AgentCodex:
		return "OPENAI_API_KEY"
	}
	return ""
}
