package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/graphstore"
	"ragcore/internal/kg"
	"ragcore/internal/llmport"
	"ragcore/internal/vectorstore"
)

func newExecutor(t *testing.T, cfg Config) (*Executor, graphstore.GraphStore, vectorstore.VectorStore, *llmport.Fake) {
	t.Helper()
	graph := graphstore.NewInMemory()
	vectors := vectorstore.NewInMemory()
	fake := llmport.NewFake(nil)
	return New(graph, vectors, fake, nil, nil, cfg), graph, vectors, fake
}

func TestQueryBypassReturnsEmptyContext(t *testing.T) {
	x, _, _, fake := newExecutor(t, Config{})
	res, err := x.Query(context.Background(), "p1", "anything", kg.ModeBypass)
	require.NoError(t, err)
	assert.Empty(t, res.Context)
	assert.Empty(t, fake.Calls)
}

func TestQueryNaiveReturnsTopChunk(t *testing.T) {
	x, _, vectors, _ := newExecutor(t, Config{ContextMaxTokens: 4000, TopK: 5})
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "c1", ProjectID: "p1", Kind: vectorstore.KindChunk, RefID: "c1",
		Vector:   []float32{1, 0, 0, 0, 0, 0, 0, 0},
		Metadata: map[string]string{"content": "paris is the capital of france"},
	}))
	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "c2", ProjectID: "p1", Kind: vectorstore.KindChunk, RefID: "c2",
		Vector:   []float32{0, 1, 0, 0, 0, 0, 0, 0},
		Metadata: map[string]string{"content": "berlin is the capital of germany"},
	}))

	res, err := x.Query(ctx, "p1", "ignored by fake embedder vector shape", kg.ModeNaive)
	require.NoError(t, err)
	assert.Contains(t, res.Context, "capital")
	assert.Equal(t, 2, res.ItemsUsed)
}

func TestQueryLocalHydratesEntityFromGraph(t *testing.T) {
	x, graph, vectors, _ := newExecutor(t, Config{ContextMaxTokens: 4000, TopK: 5})
	ctx := context.Background()

	require.NoError(t, graph.UpsertEntity(ctx, kg.Entity{Name: "Marie Curie", Type: "PERSON", Description: "physicist", ProjectID: "p1"}))
	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "e1", ProjectID: "p1", Kind: vectorstore.KindEntity, RefID: "Marie Curie",
		Vector: []float32{1, 1, 1, 1, 1, 1, 1, 1},
	}))

	res, err := x.Query(ctx, "p1", "who discovered radium", kg.ModeLocal)
	require.NoError(t, err)
	assert.Contains(t, res.Context, "Marie Curie")
	assert.Contains(t, res.Context, "physicist")
}

func TestQueryGlobalFallsBackToEntitiesWithoutRelationVectors(t *testing.T) {
	x, graph, vectors, _ := newExecutor(t, Config{ContextMaxTokens: 4000, TopK: 5})
	ctx := context.Background()

	require.NoError(t, graph.UpsertEntity(ctx, kg.Entity{Name: "Climate Policy", Type: "CONCEPT", Description: "global warming mitigation", ProjectID: "p1"}))
	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "e1", ProjectID: "p1", Kind: vectorstore.KindEntity, RefID: "Climate Policy",
		Vector: []float32{1, 1, 1, 1, 1, 1, 1, 1},
	}))

	res, err := x.Query(ctx, "p1", "what is being done about emissions", kg.ModeGlobal)
	require.NoError(t, err)
	assert.Contains(t, res.Context, "Climate Policy")
}

func TestQueryGlobalPrefersRelationVectorsWhenPresent(t *testing.T) {
	x, _, vectors, _ := newExecutor(t, Config{ContextMaxTokens: 4000, TopK: 5})
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "r1", ProjectID: "p1", Kind: vectorstore.KindRelation, RefID: "a\x00b",
		Vector:   []float32{1, 1, 1, 1, 1, 1, 1, 1},
		Metadata: map[string]string{"content": "a collaborates with b"},
	}))

	res, err := x.Query(ctx, "p1", "who collaborates with whom", kg.ModeGlobal)
	require.NoError(t, err)
	assert.Contains(t, res.Context, "collaborates")
}

func TestQueryHybridMergesLocalAndGlobal(t *testing.T) {
	x, graph, vectors, _ := newExecutor(t, Config{ContextMaxTokens: 4000, TopK: 5, Budget: Budget{Entity: 0.4, Relation: 0.4, Chunk: 0.2}})
	ctx := context.Background()

	require.NoError(t, graph.UpsertEntity(ctx, kg.Entity{Name: "A", Type: "X", Description: "d1", ProjectID: "p1"}))
	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "e1", ProjectID: "p1", Kind: vectorstore.KindEntity, RefID: "A",
		Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0},
	}))

	res, err := x.Query(ctx, "p1", "query text", kg.ModeHybrid)
	require.NoError(t, err)
	assert.Contains(t, res.Context, "A")
}

func TestQueryMixIncludesChunks(t *testing.T) {
	x, graph, vectors, _ := newExecutor(t, Config{ContextMaxTokens: 4000, TopK: 5, Budget: Budget{Entity: 0.4, Relation: 0.4, Chunk: 0.2}})
	ctx := context.Background()

	require.NoError(t, graph.UpsertEntity(ctx, kg.Entity{Name: "A", Type: "X", Description: "d1", ProjectID: "p1"}))
	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "e1", ProjectID: "p1", Kind: vectorstore.KindEntity, RefID: "A",
		Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0},
	}))
	require.NoError(t, vectors.Upsert(ctx, vectorstore.Record{
		ID: "c1", ProjectID: "p1", Kind: vectorstore.KindChunk, RefID: "c1",
		Vector:   []float32{0, 1, 0, 0, 0, 0, 0, 0},
		Metadata: map[string]string{"content": "chunk body text"},
	}))

	res, err := x.Query(ctx, "p1", "query", kg.ModeMix)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Context)
}

func TestBoundTokensStopsAtBudget(t *testing.T) {
	items := []kg.Item{{Content: "a", Tokens: 5}, {Content: "b", Tokens: 5}, {Content: "c", Tokens: 5}}
	out := boundTokens(items, 10)
	assert.Len(t, out, 2)
}

func TestBoundTokensZeroBudgetReturnsNil(t *testing.T) {
	items := []kg.Item{{Content: "a", Tokens: 5}}
	assert.Nil(t, boundTokens(items, 0))
}

func TestEntityItemsFormatsEntityAndRelationRows(t *testing.T) {
	x, _, _, _ := newExecutor(t, Config{})
	items := x.entityItems(
		[]kg.Entity{{Name: "A", Type: "X", Description: "d"}},
		[]kg.Relation{{SrcName: "A", TgtName: "B", Keywords: "knows", Description: "rel desc"}},
	)
	require.Len(t, items, 2)
	assert.Equal(t, "entity", items[0].Type)
	assert.Equal(t, "relation", items[1].Type)
	assert.Contains(t, items[1].Content, "knows")
}

func TestUnknownModeReturnsError(t *testing.T) {
	x, _, _, _ := newExecutor(t, Config{})
	_, err := x.Query(context.Background(), "p1", "q", kg.QueryMode("NOPE"))
	assert.Error(t, err)
}
