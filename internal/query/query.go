// Package query implements the six query executors: the mode-specific
// strategies that turn a natural-language query into formatted context
// ready for downstream LLM synthesis.
package query

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"ragcore/internal/graphstore"
	"ragcore/internal/keywords"
	"ragcore/internal/kg"
	"ragcore/internal/llmport"
	"ragcore/internal/merge"
	"ragcore/internal/rerank"
	"ragcore/internal/tokens"
	"ragcore/internal/vectorstore"
)

// NeighborExpansion configures the optional N-hop graph expansion LOCAL
// and GLOBAL apply to their vector-search seeds.
type NeighborExpansion struct {
	Enabled          bool
	MaxDepth         int
	MaxNodes         int
	IncludeRelations bool
}

// Budget splits the context token budget across item kinds for HYBRID
// and MIX.
type Budget struct {
	Entity   float64
	Relation float64
	Chunk    float64
}

// Config bundles the executor's tunables, mirroring the engine's query
// configuration section.
type Config struct {
	ContextMaxTokens int
	TopK             int
	Budget           Budget
	Neighbors        NeighborExpansion
	RerankEnabled    bool
}

// Executor answers queries against the knowledge graph and vector
// store, dispatching on kg.QueryMode.
type Executor struct {
	graph    graphstore.GraphStore
	vectors  vectorstore.VectorStore
	embedder llmport.Embedder
	keywords *keywords.Extractor
	reranker *rerank.Reranker
	cfg      Config
	counter  *tokens.CountCache
}

// New builds an Executor. reranker may be nil to disable MIX reranking
// regardless of cfg.RerankEnabled. Entity and relation descriptions
// recur across many queries against the same graph, so their token
// counts are memoized in a CountCache rather than re-measured on every
// hit.
func New(graph graphstore.GraphStore, vectors vectorstore.VectorStore, embedder llmport.Embedder, kw *keywords.Extractor, rr *rerank.Reranker, cfg Config) *Executor {
	return &Executor{
		graph:    graph,
		vectors:  vectors,
		embedder: embedder,
		keywords: kw,
		reranker: rr,
		cfg:      cfg,
		counter:  tokens.NewCountCache(tokens.CountCacheConfig{}),
	}
}

// Result is the assembled context plus what it cost.
type Result struct {
	Context    string
	ItemsUsed  int
	TokensUsed int
	Truncated  int
}

// Query dispatches on mode and returns the formatted context.
func (x *Executor) Query(ctx context.Context, projectID, text string, mode kg.QueryMode) (Result, error) {
	switch mode {
	case kg.ModeBypass:
		return Result{}, nil
	case kg.ModeNaive:
		items, err := x.naive(ctx, projectID, text)
		if err != nil {
			return Result{}, err
		}
		return x.finalize(items), nil
	case kg.ModeLocal:
		items, err := x.local(ctx, projectID, text)
		if err != nil {
			return Result{}, err
		}
		return x.finalize(items), nil
	case kg.ModeGlobal:
		items, err := x.global(ctx, projectID, text)
		if err != nil {
			return Result{}, err
		}
		return x.finalize(items), nil
	case kg.ModeHybrid:
		return x.hybrid(ctx, projectID, text, false)
	case kg.ModeMix:
		return x.hybrid(ctx, projectID, text, true)
	default:
		return Result{}, fmt.Errorf("query: unknown mode %q", mode)
	}
}

func (x *Executor) naive(ctx context.Context, projectID, text string) ([]kg.Item, error) {
	vec, err := x.embedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := x.vectors.Search(ctx, projectID, vectorstore.KindChunk, vec, x.topK())
	if err != nil {
		return nil, fmt.Errorf("query: naive chunk search: %w", err)
	}
	items := make([]kg.Item, 0, len(hits))
	for _, h := range hits {
		content := h.Metadata["content"]
		items = append(items, kg.Item{Content: content, Type: "chunk", Tokens: x.counter.Count(content), Score: h.Score, RefID: h.RefID})
	}
	return items, nil
}

// local implements LOCAL: low-level keywords against entity vectors,
// hydrated from the graph, optionally neighbor-expanded.
func (x *Executor) local(ctx context.Context, projectID, text string) ([]kg.Item, error) {
	seedText := text
	if x.keywords != nil {
		kw, err := x.keywords.Extract(ctx, projectID, text)
		if err == nil && len(kw.LowLevel) > 0 {
			seedText = strings.Join(kw.LowLevel, ", ")
		}
	}
	vec, err := x.embedOne(ctx, seedText)
	if err != nil {
		return nil, err
	}
	hits, err := x.vectors.Search(ctx, projectID, vectorstore.KindEntity, vec, x.topK())
	if err != nil {
		return nil, fmt.Errorf("query: local entity search: %w", err)
	}
	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.RefID)
	}
	entities, relations, err := x.hydrateWithExpansion(ctx, projectID, names)
	if err != nil {
		return nil, err
	}
	return x.entityItems(entities, relations), nil
}

// global implements GLOBAL: high-level keywords against relation
// vectors when maintained, falling back to entity vectors followed by
// relation expansion.
func (x *Executor) global(ctx context.Context, projectID, text string) ([]kg.Item, error) {
	seedText := text
	if x.keywords != nil {
		kw, err := x.keywords.Extract(ctx, projectID, text)
		if err == nil && len(kw.HighLevel) > 0 {
			seedText = strings.Join(kw.HighLevel, ", ")
		}
	}
	vec, err := x.embedOne(ctx, seedText)
	if err != nil {
		return nil, err
	}
	relHits, err := x.vectors.Search(ctx, projectID, vectorstore.KindRelation, vec, x.topK())
	if err == nil && len(relHits) > 0 {
		items := make([]kg.Item, 0, len(relHits))
		for _, h := range relHits {
			content := h.Metadata["content"]
			items = append(items, kg.Item{Content: content, Type: "relation", Tokens: x.counter.Count(content), Score: h.Score, RefID: h.RefID})
		}
		return items, nil
	}

	entHits, err := x.vectors.Search(ctx, projectID, vectorstore.KindEntity, vec, x.topK())
	if err != nil {
		return nil, fmt.Errorf("query: global entity fallback search: %w", err)
	}
	names := make([]string, 0, len(entHits))
	for _, h := range entHits {
		names = append(names, h.RefID)
	}
	entities, relations, err := x.hydrateWithExpansion(ctx, projectID, names)
	if err != nil {
		return nil, err
	}
	return x.entityItems(entities, relations), nil
}

func (x *Executor) hybrid(ctx context.Context, projectID, text string, withChunks bool) (Result, error) {
	var localItems, globalItems, chunkItems []kg.Item

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := x.local(gctx, projectID, text)
		if err != nil {
			return err
		}
		localItems = items
		return nil
	})
	g.Go(func() error {
		items, err := x.global(gctx, projectID, text)
		if err != nil {
			return err
		}
		globalItems = items
		return nil
	})
	if withChunks {
		g.Go(func() error {
			items, err := x.naive(gctx, projectID, text)
			if err != nil {
				return err
			}
			chunkItems = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if withChunks && x.reranker != nil {
		chunkItems = x.reranker.Rerank(ctx, text, chunkItems)
	}

	budget := x.cfg.ContextMaxTokens
	if budget <= 0 {
		budget = 4000
	}
	ratios := []float64{x.cfg.Budget.Entity, x.cfg.Budget.Relation, x.cfg.Budget.Chunk}
	if ratios[0] == 0 && ratios[1] == 0 && ratios[2] == 0 {
		ratios = []float64{0.4, 0.4, 0.2}
	}
	splits, err := tokens.SplitBudget(budget, ratios)
	if err != nil {
		return Result{}, err
	}

	entityBudget, relationBudget, chunkBudget := splits[0], splits[1]+splits[2], 0
	if withChunks {
		entityBudget, relationBudget, chunkBudget = splits[0], splits[1], splits[2]
	}

	sources := [][]kg.Item{
		boundTokens(localItems, entityBudget),
		boundTokens(globalItems, relationBudget),
	}
	total := entityBudget + relationBudget
	if withChunks {
		sources = append(sources, boundTokens(chunkItems, chunkBudget))
		total += chunkBudget
	}

	merged := merge.Merge(sources, total)
	return formatResult(merged), nil
}

func (x *Executor) finalize(items []kg.Item) Result {
	budget := x.cfg.ContextMaxTokens
	if budget <= 0 {
		budget = 4000
	}
	merged := merge.Merge([][]kg.Item{items}, budget)
	return formatResult(merged)
}

func (x *Executor) hydrateWithExpansion(ctx context.Context, projectID string, seedNames []string) ([]kg.Entity, []kg.Relation, error) {
	if !x.cfg.Neighbors.Enabled || len(seedNames) == 0 {
		entities := make([]kg.Entity, 0, len(seedNames))
		for _, n := range seedNames {
			e, ok, err := x.graph.GetEntity(ctx, projectID, n)
			if err != nil {
				return nil, nil, fmt.Errorf("query: hydrate entity %q: %w", n, err)
			}
			if ok {
				entities = append(entities, e)
			}
		}
		return entities, nil, nil
	}
	depth := x.cfg.Neighbors.MaxDepth
	if depth <= 0 {
		depth = 1
	}
	maxNodes := x.cfg.Neighbors.MaxNodes
	if maxNodes <= 0 {
		maxNodes = 20
	}
	entities, relations, err := graphstore.BFS(ctx, x.graph, projectID, seedNames, depth, maxNodes)
	if err != nil {
		return nil, nil, fmt.Errorf("query: neighbor expansion: %w", err)
	}
	if !x.cfg.Neighbors.IncludeRelations {
		relations = nil
	}
	return entities, relations, nil
}

func (x *Executor) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("query: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("query: embedder returned no vectors")
	}
	return vecs[0], nil
}

func (x *Executor) topK() int {
	if x.cfg.TopK > 0 {
		return x.cfg.TopK
	}
	return 20
}

func (x *Executor) entityItems(entities []kg.Entity, relations []kg.Relation) []kg.Item {
	items := make([]kg.Item, 0, len(entities)+len(relations))
	for _, e := range entities {
		content := fmt.Sprintf("(%s, %s, %s)", e.Name, e.Type, e.Description)
		items = append(items, kg.Item{Content: content, Type: "entity", Tokens: x.counter.Count(content), RefID: e.Name})
	}
	for _, r := range relations {
		content := fmt.Sprintf("(%s -[%s]-> %s: %s)", r.SrcName, r.Keywords, r.TgtName, r.Description)
		items = append(items, kg.Item{Content: content, Type: "relation", Tokens: x.counter.Count(content), RefID: r.SrcName + "\x00" + r.TgtName})
	}
	return items
}

func boundTokens(items []kg.Item, budget int) []kg.Item {
	if budget <= 0 {
		return nil
	}
	used := 0
	out := make([]kg.Item, 0, len(items))
	for _, it := range items {
		if used+it.Tokens > budget {
			break
		}
		out = append(out, it)
		used += it.Tokens
	}
	return out
}

func formatResult(m merge.Result) Result {
	parts := make([]string, 0, len(m.Items))
	for _, it := range m.Items {
		parts = append(parts, it.Content)
	}
	return Result{
		Context:    strings.Join(parts, "\n"),
		ItemsUsed:  m.ItemsIncluded,
		TokensUsed: m.TotalTokens,
		Truncated:  m.ItemsTruncated,
	}
}

