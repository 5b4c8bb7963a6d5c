// Package deletion implements the document deletion and knowledge
// graph repair service: classifying every entity and relation a
// document contributed into full deletes, cache-driven rebuilds, and
// no-changes, then executing the repair without issuing any new
// extraction LLM calls.
package deletion

import (
	"context"
	"fmt"

	"ragcore/internal/extract"
	"ragcore/internal/extractcache"
	"ragcore/internal/graphstore"
	"ragcore/internal/kg"
	"ragcore/internal/similarity"
	"ragcore/internal/vectorstore"
)

// Classification is the outcome of comparing an entity or relation's
// SourceChunkIDs against the set of chunks being deleted.
type Classification string

const (
	// FullDelete means every source chunk belonged to the document
	// being deleted: the entity/relation has no remaining provenance.
	FullDelete Classification = "FULL_DELETE"
	// Rebuild means some source chunks remain after this document's
	// chunks are removed: the description must be recomputed from the
	// surviving chunks' cached extractions.
	Rebuild Classification = "REBUILD"
	// NoChange means the entity/relation is untouched: either it has
	// no tracked SourceChunkIDs at all (legacy data, ingested before
	// provenance tracking existed) or none of its sources overlap the
	// document's chunks.
	NoChange Classification = "NO_CHANGE"
)

// Summarizer is the narrow port deletion needs from C5: recomputing a
// merged description for an entity from its surviving descriptions.
type Summarizer interface {
	Merge(ctx context.Context, projectID, entityName string, descriptions []string) (string, error)
}

// Report is the structured, best-effort result of a DeleteDocument
// call. Errors on individual items are recorded here rather than
// aborting the pass.
type Report struct {
	EntitiesDeleted  []string
	EntitiesRebuilt  []string
	RelationsDeleted int
	RelationsRebuilt int
	Errors           []string
}

// Service orchestrates document deletion across the graph store,
// vector store, and extraction cache.
type Service struct {
	graph      graphstore.GraphStore
	vectors    vectorstore.VectorStore
	cache      extractcache.Cache
	summarizer Summarizer
}

// New builds a deletion Service.
func New(graph graphstore.GraphStore, vectors vectorstore.VectorStore, cache extractcache.Cache, summarizer Summarizer) *Service {
	return &Service{graph: graph, vectors: vectors, cache: cache, summarizer: summarizer}
}

// DeleteDocument removes everything documentID exclusively contributed
// to the graph, rebuilds the description of any entity that survives
// with reduced provenance, and deletes the document's chunks and their
// embeddings. If skipRebuild is true, REBUILD entities are left with
// their stale description instead of being recomputed (their
// SourceChunkIDs are still pruned).
func (s *Service) DeleteDocument(ctx context.Context, projectID, documentID string, skipRebuild bool) (Report, error) {
	var report Report

	chunkIDs, err := s.vectors.ChunkIDsByDocument(ctx, projectID, documentID)
	if err != nil {
		return report, fmt.Errorf("deletion: enumerate chunks of document %q: %w", documentID, err)
	}
	deletedChunks := toSet(chunkIDs)

	entities, relations, err := s.collectTouched(ctx, projectID, chunkIDs)
	if err != nil {
		return report, fmt.Errorf("deletion: collect entities/relations touching document %q: %w", documentID, err)
	}

	for _, e := range entities {
		class, remaining := classify(e.SourceChunkIDs, deletedChunks)
		switch class {
		case FullDelete:
			if err := s.graph.DeleteEntity(ctx, projectID, e.Name); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("delete entity %q: %v", e.Name, err))
				continue
			}
			if err := s.vectors.Delete(ctx, projectID, entityVectorID(e.Name)); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("delete entity embedding %q: %v", e.Name, err))
			}
			report.EntitiesDeleted = append(report.EntitiesDeleted, e.Name)
		case Rebuild:
			e.SourceChunkIDs = remaining
			if skipRebuild {
				if err := s.graph.UpsertEntity(ctx, e); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("prune entity %q: %v", e.Name, err))
				}
				continue
			}
			if err := s.rebuildEntity(ctx, projectID, e); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("rebuild entity %q: %v", e.Name, err))
				continue
			}
			report.EntitiesRebuilt = append(report.EntitiesRebuilt, e.Name)
		case NoChange:
			// Legacy entity with no tracked provenance, or no overlap
			// with this document's chunks. Left untouched.
		}
	}

	for _, r := range relations {
		class, remaining := classify(r.SourceChunkIDs, deletedChunks)
		switch class {
		case FullDelete:
			if err := s.graph.DeleteRelation(ctx, projectID, r.SrcName, r.TgtName); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("delete relation %q->%q: %v", r.SrcName, r.TgtName, err))
				continue
			}
			if err := s.vectors.Delete(ctx, projectID, relationVectorID(r.SrcName, r.TgtName)); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("delete relation embedding %q->%q: %v", r.SrcName, r.TgtName, err))
			}
			report.RelationsDeleted++
		case Rebuild:
			r.SourceChunkIDs = remaining
			if err := s.graph.UpsertRelation(ctx, r); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("prune relation %q->%q: %v", r.SrcName, r.TgtName, err))
				continue
			}
			report.RelationsRebuilt++
		case NoChange:
		}
	}

	for _, chunkID := range chunkIDs {
		if err := s.vectors.Delete(ctx, projectID, chunkID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("delete chunk embedding %q: %v", chunkID, err))
		}
		if err := s.cache.DeleteByChunk(ctx, projectID, chunkID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("delete cache entries for chunk %q: %v", chunkID, err))
		}
	}

	return report, nil
}

// collectTouched gathers the union of entities and relations whose
// SourceChunkIDs intersect chunkIDs, deduplicated by name/endpoint pair.
func (s *Service) collectTouched(ctx context.Context, projectID string, chunkIDs []string) ([]kg.Entity, []kg.Relation, error) {
	seenEntities := make(map[string]struct{})
	seenRelations := make(map[string]struct{})
	var entities []kg.Entity
	var relations []kg.Relation

	for _, chunkID := range chunkIDs {
		es, err := s.graph.EntitiesBySourceChunk(ctx, projectID, chunkID)
		if err != nil {
			return nil, nil, fmt.Errorf("entities by chunk %q: %w", chunkID, err)
		}
		for _, e := range es {
			if _, ok := seenEntities[e.Name]; ok {
				continue
			}
			seenEntities[e.Name] = struct{}{}
			entities = append(entities, e)
		}

		rs, err := s.graph.RelationsBySourceChunk(ctx, projectID, chunkID)
		if err != nil {
			return nil, nil, fmt.Errorf("relations by chunk %q: %w", chunkID, err)
		}
		for _, r := range rs {
			key := r.SrcName + "\x00" + r.TgtName
			if _, ok := seenRelations[key]; ok {
				continue
			}
			seenRelations[key] = struct{}{}
			relations = append(relations, r)
		}
	}

	return entities, relations, nil
}

// rebuildEntity recomputes e's description from the cached extractions
// of its surviving source chunks, issuing zero LLM extraction calls.
func (s *Service) rebuildEntity(ctx context.Context, projectID string, e kg.Entity) error {
	var descriptions []string
	for _, chunkID := range e.SourceChunkIDs {
		entries, err := s.cache.ListByChunk(ctx, projectID, chunkID)
		if err != nil {
			return fmt.Errorf("list cache entries for chunk %q: %w", chunkID, err)
		}
		for _, entry := range entries {
			if entry.CacheType != kg.CacheEntityExtraction {
				continue
			}
			entities, _, _ := extract.ParseRecords(entry.Result)
			for _, parsed := range entities {
				if similarity.Normalize(parsed.Name, 0) == similarity.Normalize(e.Name, 0) {
					descriptions = append(descriptions, parsed.Description)
				}
			}
		}
	}

	if len(descriptions) == 0 {
		return s.graph.UpsertEntity(ctx, e)
	}

	merged, err := s.summarizer.Merge(ctx, projectID, e.Name, descriptions)
	if err != nil {
		return fmt.Errorf("merge descriptions: %w", err)
	}
	e.Description = merged
	return s.graph.UpsertEntity(ctx, e)
}

// classify compares sourceChunkIDs against deletedChunks and returns
// the classification plus the surviving chunk ids (nil for FullDelete
// and NoChange-by-overlap).
func classify(sourceChunkIDs []string, deletedChunks map[string]struct{}) (Classification, []string) {
	if len(sourceChunkIDs) == 0 {
		return NoChange, nil
	}

	var remaining []string
	anyDeleted := false
	for _, id := range sourceChunkIDs {
		if _, deleted := deletedChunks[id]; deleted {
			anyDeleted = true
			continue
		}
		remaining = append(remaining, id)
	}

	if !anyDeleted {
		return NoChange, nil
	}
	if len(remaining) == 0 {
		return FullDelete, nil
	}
	return Rebuild, remaining
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func entityVectorID(name string) string {
	return name
}

func relationVectorID(src, tgt string) string {
	return src + "\x00" + tgt
}
