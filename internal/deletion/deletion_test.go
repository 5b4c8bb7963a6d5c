package deletion

import (
	"context"
	"sort"
	"testing"

	"ragcore/internal/extractcache"
	"ragcore/internal/graphstore"
	"ragcore/internal/kg"
	"ragcore/internal/vectorstore"
)

type joinSummarizer struct{ calls int }

func (j *joinSummarizer) Merge(_ context.Context, _, _ string, descriptions []string) (string, error) {
	j.calls++
	out := ""
	for i, d := range descriptions {
		if i > 0 {
			out += " | "
		}
		out += d
	}
	return out, nil
}

func setup(t *testing.T) (*graphstore.InMemory, *vectorstore.InMemory, *extractcache.InMemory) {
	t.Helper()
	return graphstore.NewInMemory(), vectorstore.NewInMemory(), extractcache.NewInMemory()
}

func upsertChunkVector(t *testing.T, vectors *vectorstore.InMemory, projectID, chunkID, documentID string) {
	t.Helper()
	if err := vectors.Upsert(context.Background(), vectorstore.Record{
		ID: chunkID, ProjectID: projectID, Kind: vectorstore.KindChunk,
		RefID: chunkID, Vector: []float32{1, 0}, DocumentID: documentID,
	}); err != nil {
		t.Fatalf("upsert chunk vector: %v", err)
	}
}

func TestDeleteDocumentFullDeletesEntityWithNoRemainingSources(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertEntity(ctx, kg.Entity{ProjectID: projectID, Name: "Alice", SourceChunkIDs: []string{"c1"}, DocumentID: "doc1"}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	report, err := svc.DeleteDocument(ctx, projectID, "doc1", false)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(report.EntitiesDeleted) != 1 || report.EntitiesDeleted[0] != "Alice" {
		t.Fatalf("expected Alice deleted, got %+v", report)
	}
	if _, ok, _ := graph.GetEntity(ctx, projectID, "Alice"); ok {
		t.Fatalf("entity should be gone from graph")
	}
}

func TestDeleteDocumentRebuildsEntityWithRemainingSources(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertEntity(ctx, kg.Entity{
		ProjectID: projectID, Name: "Alice", Description: "stale",
		SourceChunkIDs: []string{"c1", "c2"}, DocumentID: "doc1",
	}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	if err := cache.Put(ctx, kg.ExtractionCacheEntry{
		ProjectID: projectID, CacheType: kg.CacheEntityExtraction, ChunkID: "c2",
		ContentHash: "h2", Result: "entity<|>Alice<|>person<|>from c2",
	}); err != nil {
		t.Fatalf("put cache: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	report, err := svc.DeleteDocument(ctx, projectID, "doc1", false)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(report.EntitiesRebuilt) != 1 || report.EntitiesRebuilt[0] != "Alice" {
		t.Fatalf("expected Alice rebuilt, got %+v", report)
	}
	got, ok, _ := graph.GetEntity(ctx, projectID, "Alice")
	if !ok {
		t.Fatalf("entity should still exist")
	}
	if got.Description != "from c2" {
		t.Fatalf("expected rebuilt description 'from c2', got %q", got.Description)
	}
	if len(got.SourceChunkIDs) != 1 || got.SourceChunkIDs[0] != "c2" {
		t.Fatalf("expected SourceChunkIDs pruned to [c2], got %v", got.SourceChunkIDs)
	}
}

func TestDeleteDocumentSkipRebuildPrunesSourcesWithoutRecomputing(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertEntity(ctx, kg.Entity{
		ProjectID: projectID, Name: "Alice", Description: "stale",
		SourceChunkIDs: []string{"c1", "c2"}, DocumentID: "doc1",
	}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}

	summarizer := &joinSummarizer{}
	svc := New(graph, vectors, cache, summarizer)
	report, err := svc.DeleteDocument(ctx, projectID, "doc1", true)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(report.EntitiesRebuilt) != 0 {
		t.Fatalf("skipRebuild should not report rebuilds, got %+v", report)
	}
	if summarizer.calls != 0 {
		t.Fatalf("skipRebuild should never call the summarizer")
	}
	got, ok, _ := graph.GetEntity(ctx, projectID, "Alice")
	if !ok {
		t.Fatalf("entity should still exist")
	}
	if got.Description != "stale" {
		t.Fatalf("expected description left stale, got %q", got.Description)
	}
	if len(got.SourceChunkIDs) != 1 || got.SourceChunkIDs[0] != "c2" {
		t.Fatalf("expected SourceChunkIDs pruned to [c2], got %v", got.SourceChunkIDs)
	}
}

func TestDeleteDocumentLeavesLegacyEntityWithNoTrackedSourcesUnchanged(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertEntity(ctx, kg.Entity{ProjectID: projectID, Name: "Legacy", Description: "untracked"}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	report, err := svc.DeleteDocument(ctx, projectID, "doc1", false)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(report.EntitiesDeleted) != 0 || len(report.EntitiesRebuilt) != 0 {
		t.Fatalf("legacy entity with no tracked sources should never appear in the report, got %+v", report)
	}
	got, ok, _ := graph.GetEntity(ctx, projectID, "Legacy")
	if !ok || got.Description != "untracked" {
		t.Fatalf("legacy entity should be left untouched, got %+v ok=%v", got, ok)
	}
}

func TestDeleteDocumentFullDeletesRelationAndPrunesRemaining(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertRelation(ctx, kg.Relation{
		ProjectID: projectID, SrcName: "Alice", TgtName: "Bob", Weight: 1,
		SourceChunkIDs: []string{"c1"}, DocumentID: "doc1",
	}); err != nil {
		t.Fatalf("upsert relation: %v", err)
	}
	if err := graph.UpsertRelation(ctx, kg.Relation{
		ProjectID: projectID, SrcName: "Carol", TgtName: "Dave", Weight: 1,
		SourceChunkIDs: []string{"c1", "c2"}, DocumentID: "doc1",
	}); err != nil {
		t.Fatalf("upsert relation: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	report, err := svc.DeleteDocument(ctx, projectID, "doc1", false)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if report.RelationsDeleted != 1 {
		t.Fatalf("expected 1 relation deleted, got %d", report.RelationsDeleted)
	}
	if report.RelationsRebuilt != 1 {
		t.Fatalf("expected 1 relation rebuilt (pruned), got %d", report.RelationsRebuilt)
	}
	if _, ok, _ := graph.GetRelation(ctx, projectID, "Alice", "Bob"); ok {
		t.Fatalf("Alice->Bob should be deleted")
	}
	got, ok, _ := graph.GetRelation(ctx, projectID, "Carol", "Dave")
	if !ok {
		t.Fatalf("Carol->Dave should survive")
	}
	if len(got.SourceChunkIDs) != 1 || got.SourceChunkIDs[0] != "c2" {
		t.Fatalf("expected pruned SourceChunkIDs [c2], got %v", got.SourceChunkIDs)
	}
}

func TestDeleteDocumentRemovesChunkVectorsAndCacheEntries(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := cache.Put(ctx, kg.ExtractionCacheEntry{
		ProjectID: projectID, CacheType: kg.CacheEntityExtraction, ChunkID: "c1",
		ContentHash: "h1", Result: "entity<|>Alice<|>person<|>d",
	}); err != nil {
		t.Fatalf("put cache: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	if _, err := svc.DeleteDocument(ctx, projectID, "doc1", false); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	ids, err := vectors.ChunkIDsByDocument(ctx, projectID, "doc1")
	if err != nil {
		t.Fatalf("ChunkIDsByDocument: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected chunk vector deleted, got %v", ids)
	}
	entries, err := cache.ListByChunk(ctx, projectID, "c1")
	if err != nil {
		t.Fatalf("ListByChunk: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected cache entries deleted, got %v", entries)
	}
}

func TestDeleteDocumentDeletesEntityEmbedding(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertEntity(ctx, kg.Entity{ProjectID: projectID, Name: "Alice", SourceChunkIDs: []string{"c1"}, DocumentID: "doc1"}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	if err := vectors.Upsert(ctx, vectorstore.Record{
		ID: "Alice", ProjectID: projectID, Kind: vectorstore.KindEntity, RefID: "Alice", Vector: []float32{1, 0},
	}); err != nil {
		t.Fatalf("upsert entity vector: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	if _, err := svc.DeleteDocument(ctx, projectID, "doc1", false); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	hits, err := vectors.Search(ctx, projectID, vectorstore.KindEntity, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected entity embedding deleted, got %v", hits)
	}
}

func TestDeleteDocumentAccumulatesErrorsWithoutAborting(t *testing.T) {
	ctx := context.Background()
	graph, vectors, cache := setup(t)
	projectID := "p1"

	upsertChunkVector(t, vectors, projectID, "c1", "doc1")
	if err := graph.UpsertEntity(ctx, kg.Entity{ProjectID: projectID, Name: "Alice", SourceChunkIDs: []string{"c1"}, DocumentID: "doc1"}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	if err := graph.UpsertEntity(ctx, kg.Entity{ProjectID: projectID, Name: "Bob", SourceChunkIDs: []string{"c1"}, DocumentID: "doc1"}); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}

	svc := New(graph, vectors, cache, &joinSummarizer{})
	report, err := svc.DeleteDocument(ctx, projectID, "doc1", false)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	sort.Strings(report.EntitiesDeleted)
	if len(report.EntitiesDeleted) != 2 {
		t.Fatalf("expected both entities fully deleted, got %+v", report)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("expected no errors in the happy path, got %v", report.Errors)
	}
}

func TestClassifyNoChangeForEmptySourceChunkIDs(t *testing.T) {
	class, remaining := classify(nil, toSet([]string{"c1"}))
	if class != NoChange || remaining != nil {
		t.Fatalf("expected NoChange/nil, got %v %v", class, remaining)
	}
}

func TestClassifyNoChangeWhenNoOverlap(t *testing.T) {
	class, remaining := classify([]string{"c9"}, toSet([]string{"c1"}))
	if class != NoChange || remaining != nil {
		t.Fatalf("expected NoChange/nil, got %v %v", class, remaining)
	}
}

func TestClassifyFullDeleteWhenAllSourcesDeleted(t *testing.T) {
	class, remaining := classify([]string{"c1", "c2"}, toSet([]string{"c1", "c2"}))
	if class != FullDelete || remaining != nil {
		t.Fatalf("expected FullDelete/nil, got %v %v", class, remaining)
	}
}

func TestClassifyRebuildWhenSomeSourcesSurvive(t *testing.T) {
	class, remaining := classify([]string{"c1", "c2", "c3"}, toSet([]string{"c1"}))
	if class != Rebuild {
		t.Fatalf("expected Rebuild, got %v", class)
	}
	sort.Strings(remaining)
	if len(remaining) != 2 || remaining[0] != "c2" || remaining[1] != "c3" {
		t.Fatalf("expected remaining [c2 c3], got %v", remaining)
	}
}
