// Package vectorstore defines the VectorStore port and its adapters:
// the dual index over chunk content and entity descriptions (and
// optionally relation descriptions) that the query engine's vector
// candidate stage searches.
package vectorstore

import "context"

// Kind distinguishes what a stored vector represents, so a similarity
// search can be scoped to just chunks, just entities, or just relations
// within a project.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindEntity   Kind = "entity"
	KindRelation Kind = "relation"
)

// Record is a single vector plus the metadata needed to resolve a hit
// back to a domain object and to scope/filter searches.
type Record struct {
	ID        string
	ProjectID string
	Kind      Kind
	// RefID is the id this vector represents: a chunk id, or an entity
	// name, or "src\x00tgt" for a relation.
	RefID      string
	Vector     []float32
	Metadata   map[string]string
	DocumentID string
}

// Result is a single similarity search hit.
type Result struct {
	ID       string
	RefID    string
	Kind     Kind
	Score    float64 // higher is closer
	Metadata map[string]string
}

// VectorStore is the port the rest of the engine depends on.
type VectorStore interface {
	Upsert(ctx context.Context, r Record) error
	UpsertBatch(ctx context.Context, rs []Record) error
	Delete(ctx context.Context, projectID, id string) error
	DeleteBatch(ctx context.Context, projectID string, ids []string) error

	// Search returns the k closest vectors to query, scoped to
	// projectID and kind.
	Search(ctx context.Context, projectID string, kind Kind, query []float32, k int) ([]Result, error)

	// ChunkIDsByDocument returns the RefID (chunk id) of every chunk
	// vector belonging to documentID, the reverse index document
	// deletion uses to enumerate what to remove.
	ChunkIDsByDocument(ctx context.Context, projectID, documentID string) ([]string, error)
}
