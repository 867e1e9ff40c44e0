// Package cache implements the Result Cache (C2): an in-memory, bounded
// mapping of CacheKey to SimulationResult, single-writer/multi-reader
// (spec.md §4.5).
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opendt-project/opendt/internal/model"
	"github.com/opendt-project/opendt/internal/telemetry"
)

// DefaultMaxEntries is the §6.5 cache.maxEntries default.
const DefaultMaxEntries = 1024

// Cache is safe for concurrent reads; Put/Clear are expected to be called
// only from the Window Engine's single loop (spec.md §3 ownership).
type Cache struct {
	mu         sync.RWMutex
	entries    *lru.Cache[model.CacheKey, model.SimulationResult]
	generation uint64
}

// New constructs a Cache bounded to maxEntries (0 uses DefaultMaxEntries).
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l, _ := lru.New[model.CacheKey, model.SimulationResult](maxEntries)
	return &Cache{entries: l}
}

// Lookup returns the cached result for key, if any.
func (c *Cache) Lookup(key model.CacheKey) (model.SimulationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries.Get(key)
	if ok {
		telemetry.CacheHitsTotal.Inc()
	} else {
		telemetry.CacheMissesTotal.Inc()
	}
	return v, ok
}

// Put stores result under key, tagged with the topology generation it was
// computed under. It is a no-op if generation is stale relative to the most
// recent Clear (spec.md §4.3: "MUST NOT be written into the Cache once the
// topology generation has advanced past the one they were launched under").
func (c *Cache) Put(key model.CacheKey, result model.SimulationResult, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation < c.generation {
		return
	}
	c.entries.Add(key, result)
}

// Clear discards all entries and bumps the cache's generation, rejecting
// any Put tagged with a generation older than the new one. Called on the
// Window Engine's loop when Topology.calibrated changes (spec.md §4.3).
func (c *Cache) Clear(newGeneration uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	if newGeneration > c.generation {
		c.generation = newGeneration
	}
}

// Generation returns the cache's current generation fence.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}
