/*
Package storage provides persistent state storage for the subsystem using
embedded BoltDB.

Three buckets hold all state:

	worker_status    WorkerInstance records, key "worker:status:{id}".
	                 Terminal records are retained, never deleted, so status
	                 queries keep working after a worker is gone.
	sessions         SessionContext records keyed by worker id, with a
	                 sliding expiry timestamp.
	image_cache      ImageCacheEntry records keyed by the canonical
	                 configuration hash.

All records are stored as JSON. Every operation runs in its own BoltDB
transaction; per-key atomicity is all the concurrency control this subsystem
needs (see the manager and governor for the one cross-record race, which is
handled above the store).

ErrNotFound distinguishes absence from failure; callers test it with
errors.Is. Absence of a session means "treat the next message as a fresh
conversation".
*/
package storage
