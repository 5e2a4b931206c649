package metrics

import (
	"time"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// Collector periodically refreshes the state gauges from the status store
type Collector struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling the store every interval
func NewCollector(store storage.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting in a background goroutine
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes the worker-state and image-cache gauges once
func (c *Collector) Collect() {
	workers, err := c.store.ListWorkers()
	if err == nil {
		counts := make(map[types.WorkerState]int)
		for _, w := range workers {
			counts[w.State]++
		}
		for _, state := range []types.WorkerState{
			types.WorkerStateStarting,
			types.WorkerStateRunning,
			types.WorkerStatePaused,
			types.WorkerStateStopped,
			types.WorkerStateFailed,
		} {
			WorkersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
		}
	}

	images, err := c.store.ListImages()
	if err == nil {
		ImageCacheEntries.Set(float64(len(images)))
	}
}
