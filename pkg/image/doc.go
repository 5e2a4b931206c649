// Package image derives worker container images from declarative
// configurations and caches them by content hash.
//
//	(agent type, capabilities) ──► canonical JSON ──► sha256 ──► agentd/worker:<hash>
//
// The hash covers only the agent type and the canonicalized capability set,
// so two configurations that differ in ordering, duplicates, or anything
// else (name, instructions, credentials) share one image. Dockerfiles are
// synthesized from static install tables and are byte-deterministic.
//
// Cache metadata lives in the status store; the images themselves live in
// the engine's tag namespace. A hit refreshes the entry's last-used
// timestamp, which the resource governor consults for LRU eviction.
package image
