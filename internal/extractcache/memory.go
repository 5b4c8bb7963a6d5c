package extractcache

import (
	"context"
	"sync"

	"ragcore/internal/kg"
)

type key struct {
	projectID   string
	cacheType   kg.CacheType
	contentHash string
}

// InMemory is a process-local Cache backed by a map, guarded by a mutex.
// Used in tests and as the default adapter when no durable backend is
// configured.
type InMemory struct {
	mu      sync.RWMutex
	entries map[key]kg.ExtractionCacheEntry
}

// NewInMemory returns an empty in-memory cache.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[key]kg.ExtractionCacheEntry)}
}

func (c *InMemory) Get(_ context.Context, projectID string, cacheType kg.CacheType, contentHash string) (kg.ExtractionCacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{projectID, cacheType, contentHash}]
	return e, ok, nil
}

func (c *InMemory) Put(_ context.Context, entry kg.ExtractionCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{entry.ProjectID, entry.CacheType, entry.ContentHash}] = entry
	return nil
}

func (c *InMemory) ListByChunk(_ context.Context, projectID, chunkID string) ([]kg.ExtractionCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []kg.ExtractionCacheEntry
	for _, e := range c.entries {
		if e.ProjectID == projectID && e.ChunkID == chunkID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *InMemory) DeleteByChunk(_ context.Context, projectID, chunkID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.ProjectID == projectID && e.ChunkID == chunkID {
			delete(c.entries, k)
		}
	}
	return nil
}

var _ Cache = (*InMemory)(nil)
