package governor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/image"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/metrics"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// queuePollInterval is how often a queued Acquire rechecks capacity
const queuePollInterval = 500 * time.Millisecond

// imageRemover is the slice of the container engine the collector needs
type imageRemover interface {
	RemoveImage(ctx context.Context, ref string) error
}

// Config tunes the governor
type Config struct {
	// MaxWorkers caps concurrently live workers. Zero or negative means
	// unlimited.
	MaxWorkers int

	// QueueOnCapacity makes Acquire wait for a free slot instead of
	// rejecting when the ceiling is hit
	QueueOnCapacity bool

	// ImageRetention is how long an unused cached image survives
	ImageRetention time.Duration

	// MaxImages caps the cache size; beyond it the least recently used
	// unused images are evicted regardless of age. Zero means no cap.
	MaxImages int

	// GCInterval is the collection period
	GCInterval time.Duration
}

// Governor enforces the concurrent-worker ceiling and garbage-collects the
// image cache.
//
// The ceiling counts non-terminal workers in the status store plus creates
// that are in flight (acquired but not yet persisted), closing the window
// where two concurrent creates could both pass a store-only check.
type Governor struct {
	store  storage.Store
	engine imageRemover
	config Config
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight int
}

// New creates a governor
func New(store storage.Store, engine imageRemover, config Config) *Governor {
	if config.ImageRetention <= 0 {
		config.ImageRetention = 24 * time.Hour
	}
	if config.GCInterval <= 0 {
		config.GCInterval = 10 * time.Minute
	}
	return &Governor{
		store:  store,
		engine: engine,
		config: config,
		logger: log.WithComponent("governor"),
		now:    time.Now,
	}
}

// Acquire reserves a create slot. With QueueOnCapacity it blocks until a
// slot frees or the context ends; otherwise a full ceiling is a
// ResourceExhaustedError.
func (g *Governor) Acquire(ctx context.Context) error {
	for {
		ok, count, err := g.tryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !g.config.QueueOnCapacity {
			return &types.ResourceExhaustedError{Running: count, Limit: g.config.MaxWorkers}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(queuePollInterval):
		}
	}
}

func (g *Governor) tryAcquire() (bool, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.config.MaxWorkers <= 0 {
		g.inflight++
		return true, 0, nil
	}

	live, err := g.liveWorkers()
	if err != nil {
		return false, 0, err
	}
	count := live + g.inflight
	if count >= g.config.MaxWorkers {
		return false, count, nil
	}
	g.inflight++
	return true, count, nil
}

// Release drops an in-flight reservation. Called once the worker is
// visible in the status store, or when the create failed before that.
func (g *Governor) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight > 0 {
		g.inflight--
	}
}

// liveWorkers counts non-terminal workers in the store. Caller holds the
// lock.
func (g *Governor) liveWorkers() (int, error) {
	workers, err := g.store.ListWorkers()
	if err != nil {
		return 0, fmt.Errorf("failed to count live workers: %w", err)
	}
	n := 0
	for _, w := range workers {
		if !w.State.Terminal() {
			n++
		}
	}
	return n, nil
}

// RunGC runs the image collection loop until the context ends
func (g *Governor) RunGC(ctx context.Context) {
	ticker := time.NewTicker(g.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.CollectImages(ctx); err != nil {
				g.logger.Error().Err(err).Msg("Image collection failed")
			}
		}
	}
}

// CollectImages evicts cached images in least-recently-used order: first
// everything unused past the retention window, then, if a cache size cap
// is set, the oldest unused entries above it. Images backing a live worker
// and references outside the worker image namespace are never touched.
func (g *Governor) CollectImages(ctx context.Context) error {
	entries, err := g.store.ListImages()
	if err != nil {
		return fmt.Errorf("failed to list cached images: %w", err)
	}
	workers, err := g.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	inUse := make(map[string]bool)
	for _, w := range workers {
		if !w.State.Terminal() && w.ImageRef != "" {
			inUse[w.ImageRef] = true
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastUsedAt.Before(entries[j].LastUsedAt)
	})

	cutoff := g.now().Add(-g.config.ImageRetention)
	var survivors []*types.ImageCacheEntry
	for _, e := range entries {
		if !strings.HasPrefix(e.ImageRef, image.Namespace+":") {
			continue
		}
		if inUse[e.ImageRef] || e.LastUsedAt.After(cutoff) {
			survivors = append(survivors, e)
			continue
		}
		if err := g.evict(ctx, e); err != nil {
			g.logger.Warn().Err(err).Str("image", e.ImageRef).Msg("Image eviction failed")
			survivors = append(survivors, e)
		}
	}

	// Size cap: shed the least recently used unused survivors
	if g.config.MaxImages > 0 {
		excess := len(survivors) - g.config.MaxImages
		for _, e := range survivors {
			if excess <= 0 {
				break
			}
			if inUse[e.ImageRef] {
				continue
			}
			if err := g.evict(ctx, e); err != nil {
				g.logger.Warn().Err(err).Str("image", e.ImageRef).Msg("Image eviction failed")
				continue
			}
			excess--
		}
	}
	return nil
}

func (g *Governor) evict(ctx context.Context, e *types.ImageCacheEntry) error {
	if err := g.engine.RemoveImage(ctx, e.ImageRef); err != nil {
		return err
	}
	if err := g.store.DeleteImage(e.Hash); err != nil {
		return err
	}
	metrics.ImagesEvicted.Inc()
	g.logger.Info().Str("image", e.ImageRef).Time("last_used", e.LastUsedAt).Msg("Evicted cached image")
	return nil
}
