/*
Package worker manages the lifecycle of agent worker containers.

The Manager owns every transition of a worker record:

	create ──► STARTING ──► RUNNING ◄──────► PAUSED
	                │          │
	                ▼          ▼
	             FAILED     STOPPED

Create validates the config, reserves a slot with the resource governor,
resolves the image through the builder, translates the config into a
container spec, and starts the container. Any failure after the record is
persisted marks it FAILED with the cause; a partially started container is
rolled back. Terminal records stay queryable forever.

SendMessage is the exchange path: it records the task context (so the
crash monitor can address a synthesized failure if the container dies
mid-exchange), resolves session continuity for long-lived workers, invokes
the protocol adapter, and extracts the structured verdict.

ToRuntimeSpec is the pure translation from a declarative WorkerConfig to a
container spec; identical configs produce byte-identical specs.
*/
package worker
