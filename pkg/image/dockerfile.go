package image

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/agent"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// baseImage is the common base for all worker images. coreutils supplies
// the timeout wrapper the exec path depends on.
const baseImage = "debian:bookworm-slim"

// basePackages are installed into every worker image regardless of
// capabilities
var basePackages = []string{"ca-certificates", "coreutils", "curl", "jq"}

// installSet is the fixed installation recipe for one capability or agent
type installSet struct {
	aptPackages []string
	commands    []string
}

// capabilityInstalls maps each capability to its installation recipe. The
// docker capability installs the CLI only; the daemon is reached through
// the host socket mount.
var capabilityInstalls = map[types.Capability]installSet{
	types.CapabilityGit: {
		aptPackages: []string{"git", "openssh-client"},
	},
	types.CapabilityDocker: {
		aptPackages: []string{"docker.io"},
	},
	types.CapabilityNode: {
		aptPackages: []string{"nodejs", "npm"},
	},
	types.CapabilityPython: {
		aptPackages: []string{"python3", "python3-pip", "python3-venv"},
	},
	types.CapabilityGo: {
		aptPackages: []string{"golang-go"},
	},
}

// agentInstalls maps each agent type to the recipe that installs its CLI.
// Both CLIs ship via npm, so node is always present in the image.
var agentInstalls = map[types.AgentType]installSet{
	types.AgentClaude: {
		aptPackages: []string{"nodejs", "npm"},
		commands:    []string{"npm install -g @anthropic-ai/claude-code"},
	},
	types.AgentCodex: {
		aptPackages: []string{"nodejs", "npm"},
		commands:    []string{"npm install -g @openai/codex"},
	},
}

// Dockerfile synthesizes the build recipe for an agent type and capability
// set. Output is byte-deterministic for a given canonical configuration:
// packages are sorted and deduplicated, commands run in a fixed order.
//
// The agent's instruction file is created empty here; actual instruction
// content is injected after container start, so it never influences the
// image hash.
func Dockerfile(agentType types.AgentType, caps []types.Capability) []byte {
	pkgs := append([]string{}, basePackages...)
	pkgs = append(pkgs, agentInstalls[agentType].aptPackages...)

	var commands []string
	commands = append(commands, agentInstalls[agentType].commands...)
	for _, c := range canonicalCapabilities(caps) {
		set := capabilityInstalls[c]
		pkgs = append(pkgs, set.aptPackages...)
		commands = append(commands, set.commands...)
	}

	sort.Strings(pkgs)
	pkgs = dedupe(pkgs)

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n\n", baseImage)
	fmt.Fprintf(&b, "RUN apt-get update \\\n && apt-get install -y --no-install-recommends %s \\\n && rm -rf /var/lib/apt/lists/*\n\n", strings.Join(pkgs, " "))
	for _, cmd := range commands {
		fmt.Fprintf(&b, "RUN %s\n", cmd)
	}
	b.WriteString("\n")
	b.WriteString("RUN useradd --create-home --shell /bin/bash agent \\\n && mkdir -p /workspace \\\n && chown agent:agent /workspace\n")
	if p := agent.InstructionPath(agentType); p != "" {
		fmt.Fprintf(&b, "RUN touch %s && chown agent:agent %s\n", p, p)
	}
	b.WriteString("\nWORKDIR /workspace\nUSER agent\nCMD [\"sleep\", \"infinity\"]\n")
	return []byte(b.String())
}

func dedupe(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}
