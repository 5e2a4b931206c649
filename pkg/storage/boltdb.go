package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

var (
	// Bucket names
	bucketWorkerStatus = []byte("worker_status")
	bucketSessions     = []byte("sessions")
	bucketImageCache   = []byte("image_cache")
)

// workerStatusKey builds the key-value key for a worker status record
func workerStatusKey(id string) []byte {
	return []byte("worker:status:" + id)
}

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "agentd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkerStatus,
			bucketSessions,
			bucketImageCache,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Worker status operations

func (s *BoltStore) SaveWorker(w *types.WorkerInstance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkerStatus)
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(workerStatusKey(w.ID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.WorkerInstance, error) {
	var w types.WorkerInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkerStatus)
		data := b.Get(workerStatusKey(id))
		if data == nil {
			return fmt.Errorf("worker %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorkerByName resolves a worker name to its record. A name can map to
// several records once workers get deleted and recreated; the live record
// always wins, and among terminal ones the most recently created is returned.
func (s *BoltStore) GetWorkerByName(name string) (*types.WorkerInstance, error) {
	var live, terminal *types.WorkerInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkerStatus)
		return b.ForEach(func(k, v []byte) error {
			var w types.WorkerInstance
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Config == nil || w.Config.Name != name {
				return nil
			}
			if !w.State.Terminal() {
				live = &w
			} else if terminal == nil || w.CreatedAt.After(terminal.CreatedAt) {
				terminal = &w
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if live != nil {
		return live, nil
	}
	if terminal != nil {
		return terminal, nil
	}
	return nil, fmt.Errorf("worker named %s: %w", name, ErrNotFound)
}

func (s *BoltStore) GetWorkerByContainer(containerID string) (*types.WorkerInstance, error) {
	var found *types.WorkerInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkerStatus)
		return b.ForEach(func(k, v []byte) error {
			var w types.WorkerInstance
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.ContainerID == containerID {
				found = &w
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("worker for container %s: %w", containerID, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListWorkers() ([]*types.WorkerInstance, error) {
	var workers []*types.WorkerInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkerStatus)
		return b.ForEach(func(k, v []byte) error {
			var w types.WorkerInstance
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	return workers, err
}

// Session operations

func (s *BoltStore) SaveSession(sc *types.SessionContext) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data, err := json.Marshal(sc)
		if err != nil {
			return err
		}
		return b.Put([]byte(sc.WorkerID), data)
	})
}

func (s *BoltStore) GetSession(workerID string) (*types.SessionContext, error) {
	var sc types.SessionContext
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data := b.Get([]byte(workerID))
		if data == nil {
			return fmt.Errorf("session for worker %s: %w", workerID, ErrNotFound)
		}
		return json.Unmarshal(data, &sc)
	})
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *BoltStore) DeleteSession(workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.Delete([]byte(workerID))
	})
}

// Image cache operations

func (s *BoltStore) SaveImage(e *types.ImageCacheEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImageCache)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(e.Hash), data)
	})
}

func (s *BoltStore) GetImage(hash string) (*types.ImageCacheEntry, error) {
	var e types.ImageCacheEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImageCache)
		data := b.Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("image %s: %w", hash, ErrNotFound)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListImages() ([]*types.ImageCacheEntry, error) {
	var entries []*types.ImageCacheEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImageCache)
		return b.ForEach(func(k, v []byte) error {
			var e types.ImageCacheEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) DeleteImage(hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImageCache)
		return b.Delete([]byte(hash))
	})
}
