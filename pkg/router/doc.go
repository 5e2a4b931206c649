/*
Package router turns inbound command envelopes into worker manager calls
and guarantees exactly one response per command.

	agentd.commands ──► Handle ──► shard queues ──► dispatch ──► agentd.out.*

Commands are hashed by worker key onto a fixed set of serial shard queues:
two commands for the same worker never race, while different workers are
handled concurrently. Responses are addressed to the owning worker's
output subject; failures with no worker to name (create errors, unknown
ids, unparseable payloads) go to the control subject.

errorResponse is the single translation point from the internal error
taxonomy to caller-facing status metadata.
*/
package router
