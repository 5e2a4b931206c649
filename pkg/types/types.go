package types

import (
	"fmt"
	"path"
	"time"
)

// WorkerRole defines the lifecycle profile of a worker
type WorkerRole string

const (
	// WorkerRoleProductOwner is a long-lived conversational worker that keeps
	// session continuity across exchanges
	WorkerRoleProductOwner WorkerRole = "product-owner"

	// WorkerRoleDeveloper is an ephemeral task worker; no session survives
	// task completion
	WorkerRoleDeveloper WorkerRole = "developer"
)

// AgentType identifies the CLI agent a worker runs
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
)

// SupportedAgents lists all agent types the subsystem can run
var SupportedAgents = []AgentType{AgentClaude, AgentCodex}

// Valid reports whether the agent type is one of the supported enumerated agents
func (a AgentType) Valid() bool {
	for _, s := range SupportedAgents {
		if a == s {
			return true
		}
	}
	return false
}

// Capability is a worker capability flag; each maps to a fixed set of
// installed tools and runtime privileges
type Capability string

const (
	CapabilityGit    Capability = "git"
	CapabilityDocker Capability = "docker"
	CapabilityNode   Capability = "node"
	CapabilityPython Capability = "python"
	CapabilityGo     Capability = "go"
)

// SupportedCapabilities lists the closed capability set
var SupportedCapabilities = []Capability{
	CapabilityGit,
	CapabilityDocker,
	CapabilityNode,
	CapabilityPython,
	CapabilityGo,
}

// Valid reports whether the capability is part of the closed set
func (c Capability) Valid() bool {
	for _, s := range SupportedCapabilities {
		if c == s {
			return true
		}
	}
	return false
}

// AuthMode selects how agent credentials reach the container
type AuthMode string

const (
	// AuthModeMountedSession mounts a host credential directory into the
	// container; no API key is injected
	AuthModeMountedSession AuthMode = "mounted-session"

	// AuthModeAPIKey injects the key as an environment variable; nothing is
	// mounted
	AuthModeAPIKey AuthMode = "api-key"
)

// WorkerConfig is the declarative description of a worker to be created
type WorkerConfig struct {
	Name            string            `json:"name"`
	Role            WorkerRole        `json:"role"`
	Agent           AgentType         `json:"agent"`
	Instructions    string            `json:"instructions,omitempty"`
	AllowedCommands []string          `json:"allowed_commands,omitempty"`
	Capabilities    []Capability      `json:"capabilities,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	AuthMode        AuthMode          `json:"auth_mode"`
	CredentialsDir  string            `json:"credentials_dir,omitempty"`
	APIKey          string            `json:"api_key,omitempty"`
}

// Validate checks the config against the supported enumerations. All
// violations surface as a ConfigurationError.
func (c *WorkerConfig) Validate() error {
	if c.Name == "" {
		return &ConfigurationError{Reason: "worker name is required"}
	}
	if c.Role != WorkerRoleProductOwner && c.Role != WorkerRoleDeveloper {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown worker role: %q", c.Role)}
	}
	if !c.Agent.Valid() {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown agent type: %q", c.Agent)}
	}
	for _, cap := range c.Capabilities {
		if !cap.Valid() {
			return &ConfigurationError{Reason: fmt.Sprintf("unknown capability: %q", cap)}
		}
	}
	switch c.AuthMode {
	case AuthModeMountedSession:
		if c.CredentialsDir == "" {
			return &ConfigurationError{Reason: "mounted-session auth mode requires credentials_dir"}
		}
		if !path.IsAbs(c.CredentialsDir) {
			return &ConfigurationError{Reason: "credentials_dir must be an absolute path"}
		}
	case AuthModeAPIKey:
		if c.APIKey == "" {
			return &ConfigurationError{Reason: "api-key auth mode requires api_key"}
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown auth mode: %q", c.AuthMode)}
	}
	return nil
}

// WorkerState represents the lifecycle state of a worker instance
type WorkerState string

const (
	WorkerStateStarting WorkerState = "starting"
	WorkerStateRunning  WorkerState = "running"
	WorkerStatePaused   WorkerState = "paused"
	WorkerStateStopped  WorkerState = "stopped"
	WorkerStateFailed   WorkerState = "failed"
)

// Terminal reports whether the state ends the worker's lifecycle. Terminal
// records stay in the status store for post-mortem queries.
func (s WorkerState) Terminal() bool {
	return s == WorkerStateStopped || s == WorkerStateFailed
}

// WorkerInstance is a running or terminated worker container
type WorkerInstance struct {
	ID           string        `json:"id"`
	Config       *WorkerConfig `json:"config"`
	State        WorkerState   `json:"state"`
	ContainerID  string        `json:"container_id,omitempty"`
	ImageRef     string        `json:"image_ref,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`

	// Last known task context, consulted by the crash listener to
	// notify a caller whose exchange died mid-flight
	TaskID    string `json:"task_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ImageCacheEntry records one cached worker image, keyed by the canonical
// configuration hash
type ImageCacheEntry struct {
	Hash         string       `json:"hash"`
	ImageRef     string       `json:"image_ref"`
	Agent        AgentType    `json:"agent"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUsedAt   time.Time    `json:"last_used_at"`
}

// SessionContext is the opaque continuity handle for one worker's
// conversation, stored with a sliding TTL
type SessionContext struct {
	WorkerID  string    `json:"worker_id"`
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has outlived its TTL
func (s *SessionContext) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// VerdictStatus is the outcome an agent reports in its structured payload
type VerdictStatus string

const (
	VerdictSuccess    VerdictStatus = "success"
	VerdictFailure    VerdictStatus = "failure"
	VerdictInProgress VerdictStatus = "in_progress"
)

// Valid reports whether the status is one of the defined verdict outcomes
func (v VerdictStatus) Valid() bool {
	return v == VerdictSuccess || v == VerdictFailure || v == VerdictInProgress
}

// AgentVerdict is the structured payload an agent embeds in its free-form
// output between result delimiters
type AgentVerdict struct {
	Status  VerdictStatus  `json:"status"`
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
}

// CommandName enumerates the inbound command vocabulary
type CommandName string

const (
	CommandCreate      CommandName = "create"
	CommandDelete      CommandName = "delete"
	CommandStatus      CommandName = "status"
	CommandSendMessage CommandName = "send_message"
	CommandSendFile    CommandName = "send_file"
)

// Command is the inbound command envelope. RequestID is caller-supplied and
// echoed verbatim on the response.
type Command struct {
	Command   CommandName   `json:"command"`
	RequestID string        `json:"request_id"`
	Config    *WorkerConfig `json:"config,omitempty"`
	WorkerID  string        `json:"worker_id,omitempty"`
	Message   string        `json:"message,omitempty"`
	TaskID    string        `json:"task_id,omitempty"`
	Timeout   int           `json:"timeout,omitempty"` // seconds
	Path      string        `json:"path,omitempty"`
	Content   []byte        `json:"content,omitempty"`
}

// Response is the outbound response envelope. Exactly one is published per
// handled command.
type Response struct {
	RequestID string         `json:"request_id"`
	Success   bool           `json:"success"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Response  string         `json:"response,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	State     WorkerState    `json:"state,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// LifecycleEvent enumerates worker state transition events
type LifecycleEvent string

const (
	EventStarted   LifecycleEvent = "started"
	EventReady     LifecycleEvent = "ready"
	EventBusy      LifecycleEvent = "busy"
	EventCompleted LifecycleEvent = "completed"
	EventFailed    LifecycleEvent = "failed"
	EventStopped   LifecycleEvent = "stopped"
)

// WorkerEvent is one entry on the lifecycle event channel
type WorkerEvent struct {
	WorkerID  string            `json:"worker_id"`
	Event     LifecycleEvent    `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}
