package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// DefaultTTL is the session lifetime when the daemon config does not set
// one. It must exceed the longest allowed exchange timeout so a session
// cannot expire mid-exchange.
const DefaultTTL = 24 * time.Hour

// Manager stores per-worker conversation handles with a sliding TTL
type Manager struct {
	store  storage.Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a session manager. A non-positive ttl falls back to
// DefaultTTL.
func NewManager(store storage.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: log.WithComponent("session"),
		now:    time.Now,
	}
}

// Get returns the worker's stored session handle. An expired session is
// deleted and reported as absent.
func (m *Manager) Get(workerID string) (string, bool, error) {
	sc, err := m.store.GetSession(workerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}
	if sc.Expired(m.now()) {
		m.logger.Debug().Str("worker_id", workerID).Msg("Session expired, discarding")
		if err := m.store.DeleteSession(workerID); err != nil {
			return "", false, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return "", false, nil
	}
	return sc.Handle, true, nil
}

// GetOrCreate returns the stored handle when one exists, or mints a fresh
// one otherwise. A minted handle is NOT persisted; it only becomes durable
// once the exchange succeeds and the caller passes the agent-confirmed
// handle to Save. found tells the caller whether the handle resumes an
// established conversation.
func (m *Manager) GetOrCreate(workerID string) (string, bool, error) {
	handle, found, err := m.Get(workerID)
	if err != nil {
		return "", false, err
	}
	if found {
		return handle, true, nil
	}
	return uuid.NewString(), false, nil
}

// Save persists the handle for the worker and resets the TTL window. Every
// successful exchange calls this, so an active conversation never expires.
func (m *Manager) Save(workerID, handle string) error {
	if handle == "" {
		return fmt.Errorf("refusing to save empty session handle for worker %s", workerID)
	}
	return m.store.SaveSession(&types.SessionContext{
		WorkerID:  workerID,
		Handle:    handle,
		ExpiresAt: m.now().Add(m.ttl),
	})
}

// Delete removes the worker's session. Deleting an absent session is not
// an error.
func (m *Manager) Delete(workerID string) error {
	return m.store.DeleteSession(workerID)
}
