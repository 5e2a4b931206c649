package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

func baseConfig() *types.WorkerConfig {
	return &types.WorkerConfig{
		Name:            "po-main",
		Role:            types.WorkerRoleProductOwner,
		Agent:           types.AgentClaude,
		AllowedCommands: []string{"git", "npm"},
		Capabilities:    []types.Capability{types.CapabilityGit},
		Env:             map[string]string{"REPO_URL": "https://example.com/repo.git"},
		AuthMode:        types.AuthModeMountedSession,
		CredentialsDir:  "/srv/creds/po-main",
	}
}

func specEnv() SpecEnv {
	return SpecEnv{NATSUrl: "nats://127.0.0.1:4222", APIUrl: "http://127.0.0.1:8080"}
}

func TestToRuntimeSpecDeterministic(t *testing.T) {
	cfg := baseConfig()
	limits := Limits{NanoCPUs: 2e9, MemoryBytes: 1 << 30}

	a := ToRuntimeSpec(cfg, "w1", "agentd/worker:abc", specEnv(), limits)
	b := ToRuntimeSpec(cfg, "w1", "agentd/worker:abc", specEnv(), limits)
	assert.Equal(t, a, b)
}

func TestToRuntimeSpecMountedSession(t *testing.T) {
	spec := ToRuntimeSpec(baseConfig(), "w1", "agentd/worker:abc", specEnv(), Limits{})

	assert.Contains(t, spec.Binds, "/srv/creds/po-main:/home/agent/.claude:rw")
	for _, v := range spec.Env {
		assert.False(t, strings.HasPrefix(v, "ANTHROPIC_API_KEY="), "mounted-session must not inject an API key, got %s", v)
	}
}

func TestToRuntimeSpecAPIKey(t *testing.T) {
	cfg := baseConfig()
	cfg.AuthMode = types.AuthModeAPIKey
	cfg.CredentialsDir = ""
	cfg.APIKey = "sk-test"

	spec := ToRuntimeSpec(cfg, "w1", "agentd/worker:abc", specEnv(), Limits{})

	assert.Contains(t, spec.Env, "ANTHROPIC_API_KEY=sk-test")
	for _, b := range spec.Binds {
		assert.NotContains(t, b, "creds", "api-key mode must not mount credentials, got %s", b)
	}
}

func TestToRuntimeSpecCodexAPIKeyEnv(t *testing.T) {
	cfg := baseConfig()
	cfg.Agent = types.AgentCodex
	cfg.AuthMode = types.AuthModeAPIKey
	cfg.CredentialsDir = ""
	cfg.APIKey = "sk-test"

	spec := ToRuntimeSpec(cfg, "w1", "agentd/worker:abc", specEnv(), Limits{})
	assert.Contains(t, spec.Env, "OPENAI_API_KEY=sk-test")
}

func TestToRuntimeSpecDockerCapability(t *testing.T) {
	cfg := baseConfig()
	cfg.Capabilities = []types.Capability{types.CapabilityGit, types.CapabilityDocker}

	spec := ToRuntimeSpec(cfg, "w1", "agentd/worker:abc", specEnv(), Limits{})
	assert.Contains(t, spec.Binds, "/var/run/docker.sock:/var/run/docker.sock")

	// Without the capability the socket stays on the host
	plain := ToRuntimeSpec(baseConfig(), "w1", "agentd/worker:abc", specEnv(), Limits{})
	assert.NotContains(t, plain.Binds, "/var/run/docker.sock:/var/run/docker.sock")
}

func TestToRuntimeSpecIdentity(t *testing.T) {
	spec := ToRuntimeSpec(baseConfig(), "w1", "agentd/worker:abc", specEnv(), Limits{NanoCPUs: 1e9, MemoryBytes: 512 << 20})

	require.Equal(t, "agentd-po-main", spec.Name)
	assert.Equal(t, "agentd/worker:abc", spec.Image)
	assert.Contains(t, spec.Env, "WORKER_ID=w1")
	assert.Contains(t, spec.Env, "WORKER_ROLE=product-owner")
	assert.Contains(t, spec.Env, "ALLOWED_COMMANDS=git,npm")
	assert.Contains(t, spec.Env, "REPO_URL=https://example.com/repo.git")
	assert.Equal(t, "w1", spec.Labels[engine.LabelWorker])
	assert.Equal(t, "claude", spec.Labels[engine.LabelAgent])
	assert.Equal(t, int64(1e9), spec.NanoCPUs)
	assert.Equal(t, int64(512<<20), spec.MemoryBytes)
}
