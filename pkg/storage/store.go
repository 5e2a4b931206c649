package storage

import (
	"errors"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// ErrNotFound is returned when a record does not exist. Callers distinguish
// "absent" from real failures with errors.Is.
var ErrNotFound = errors.New("not found")

// Store persists worker statuses, session contexts, and image cache metadata.
//
// The worker status records are the authoritative source the crash listener
// consults to reconstruct task context, and the only channel through which
// external callers can poll final state after a worker is deleted. They are
// never physically removed, only marked terminal.
type Store interface {
	// Worker status operations
	SaveWorker(w *types.WorkerInstance) error
	GetWorker(id string) (*types.WorkerInstance, error)
	GetWorkerByName(name string) (*types.WorkerInstance, error)
	GetWorkerByContainer(containerID string) (*types.WorkerInstance, error)
	ListWorkers() ([]*types.WorkerInstance, error)

	// Session operations
	SaveSession(s *types.SessionContext) error
	GetSession(workerID string) (*types.SessionContext, error)
	DeleteSession(workerID string) error

	// Image cache operations
	SaveImage(e *types.ImageCacheEntry) error
	GetImage(hash string) (*types.ImageCacheEntry, error)
	ListImages() ([]*types.ImageCacheEntry, error)
	DeleteImage(hash string) error

	Close() error
}
