// Package extractcache implements the content-addressed extraction
// cache: a durable record of every LLM call made during ingestion,
// keyed by (project, cache type, content hash), so that a document can
// later be rebuilt without re-invoking the LLM.
package extractcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"ragcore/internal/kg"
)

// Cache is the port the rest of the engine depends on. Concrete
// adapters (Postgres, Redis, in-memory) live in this package's
// sibling files.
type Cache interface {
	// Get returns the cached entry for the given key, or ok=false if no
	// entry exists.
	Get(ctx context.Context, projectID string, cacheType kg.CacheType, contentHash string) (kg.ExtractionCacheEntry, bool, error)

	// Put durably stores entry, keyed by its ProjectID/CacheType/ContentHash.
	// A second Put with the same key overwrites the prior entry.
	Put(ctx context.Context, entry kg.ExtractionCacheEntry) error

	// ListByChunk returns every cache entry recorded for a given chunk,
	// across all cache types, used to rebuild a document's graph
	// contribution without calling the LLM again.
	ListByChunk(ctx context.Context, projectID, chunkID string) ([]kg.ExtractionCacheEntry, error)

	// DeleteByChunk removes every cache entry for a chunk. Used when a
	// document is permanently deleted.
	DeleteByChunk(ctx context.Context, projectID, chunkID string) error
}

// HashContent returns the hex-encoded SHA-256 digest of content, the
// content hash half of a cache key.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
