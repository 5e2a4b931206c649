/*
Package types defines the shared data model and error taxonomy for the worker
lifecycle subsystem.

The core entities:

	WorkerConfig      declarative description of a worker (role, agent,
	                  capabilities, auth mode, env)
	WorkerInstance    a running or terminated worker container with its
	                  lifecycle state and last known task context
	ImageCacheEntry   one cached worker image, keyed by the canonical
	                  configuration hash
	SessionContext    a TTL'd conversation continuity handle
	AgentVerdict      the structured payload an agent embeds in its output
	Command/Response  the queue envelopes; request_id is always echoed

Worker lifecycle:

	STARTING ──► RUNNING ──► PAUSED
	                │  ▲        │
	                │  └────────┘ (wake on message)
	                ├──► STOPPED  (explicit delete, terminal)
	                └──► FAILED   (crash or protocol error, terminal)

Terminal states are retained in the status store so callers can still query
final state after deletion.

The error types here form the complete failure taxonomy; components wrap or
return them and the command router is the single point that translates them
into response envelopes. All are matchable with errors.As.
*/
package types
