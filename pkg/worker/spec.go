package worker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/agent"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/engine"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// dockerSocket is the host engine socket mounted into workers with the
// docker capability
const dockerSocket = "/var/run/docker.sock"

// workspaceDir is the working directory inside every worker container
const workspaceDir = "/workspace"

// Limits are the per-container resource ceilings applied to every worker
type Limits struct {
	NanoCPUs    int64
	MemoryBytes int64
}

// SpecEnv is the daemon-side context injected into every worker container
type SpecEnv struct {
	NATSUrl string
	APIUrl  string
}

// ToRuntimeSpec translates a validated WorkerConfig into a container spec.
// The translation is pure and deterministic: identical inputs always yield
// a byte-identical spec. Environment and binds are sorted to that end.
//
// Auth modes are mutually exclusive by construction. mounted-session mounts
// the credential directory and injects no key material into the
// environment; api-key does the reverse.
func ToRuntimeSpec(cfg *types.WorkerConfig, workerID, imageRef string, env SpecEnv, limits Limits) *engine.ContainerSpec {
	vars := []string{
		"WORKER_ID=" + workerID,
		"WORKER_NAME=" + cfg.Name,
		"WORKER_ROLE=" + string(cfg.Role),
		"WORKER_AGENT=" + string(cfg.Agent),
		"NATS_URL=" + env.NATSUrl,
		"API_URL=" + env.APIUrl,
	}
	if len(cfg.AllowedCommands) > 0 {
		vars = append(vars, "ALLOWED_COMMANDS="+strings.Join(cfg.AllowedCommands, ","))
	}
	for k, v := range cfg.Env {
		vars = append(vars, fmt.Sprintf("%s=%s", k, v))
	}

	var binds []string
	switch cfg.AuthMode {
	case types.AuthModeMountedSession:
		binds = append(binds, fmt.Sprintf("%s:%s:rw", cfg.CredentialsDir, agent.CredentialPath(cfg.Agent)))
	case types.AuthModeAPIKey:
		vars = append(vars, agent.APIKeyEnv(cfg.Agent)+"="+cfg.APIKey)
	}

	for _, c := range cfg.Capabilities {
		if c == types.CapabilityDocker {
			binds = append(binds, fmt.Sprintf("%s:%s", dockerSocket, dockerSocket))
			break
		}
	}

	sort.Strings(vars)
	sort.Strings(binds)

	return &engine.ContainerSpec{
		Name:  "agentd-" + cfg.Name,
		Image: imageRef,
		Env:   vars,
		Binds: binds,
		Labels: map[string]string{
			engine.LabelWorker: workerID,
			engine.LabelRole:   string(cfg.Role),
			engine.LabelAgent:  string(cfg.Agent),
		},
		WorkingDir:  workspaceDir,
		NanoCPUs:    limits.NanoCPUs,
		MemoryBytes: limits.MemoryBytes,
	}
}
