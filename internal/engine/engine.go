// Package engine is the orchestrator: the single facade that wires
// every other component into the ingestion and query pipelines, binds
// configuration, and hands back a TokenSummary per request.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ragcore/internal/config"
	"ragcore/internal/deletion"
	"ragcore/internal/entitymerge"
	"ragcore/internal/extract"
	"ragcore/internal/extractcache"
	"ragcore/internal/graphstore"
	"ragcore/internal/keywords"
	"ragcore/internal/kg"
	"ragcore/internal/llmport"
	"ragcore/internal/observability"
	"ragcore/internal/query"
	"ragcore/internal/rerank"
	"ragcore/internal/resolve"
	"ragcore/internal/similarity"
	"ragcore/internal/summarize"
	"ragcore/internal/tokens"
	"ragcore/internal/vectorstore"
)

// Service is the engine's upward surface: IngestDocument, DeleteDocument,
// Query, MergeEntities, ExportGraph.
type Service struct {
	cfg config.Config

	graph   graphstore.GraphStore
	vectors vectorstore.VectorStore
	cache   extractcache.Cache
	chunker ChunkSource

	completer      llmport.Completer
	embedder       llmport.Embedder
	rerankProvider rerank.Provider

	logger  observability.Logger
	metrics observability.Metrics
	clock   observability.Clock

	extractor  *extract.Extractor
	summarizer *summarize.Summarizer
	resolver   *resolve.Resolver
	keywordX   *keywords.Extractor
	reranker   *rerank.Reranker
	executor   *query.Executor
	merger     *entitymerge.Merger
	deleter    *deletion.Service
}

// Option configures a Service during construction.
type Option func(*Service)

func WithConfig(cfg config.Config) Option             { return func(s *Service) { s.cfg = cfg } }
func WithGraphStore(g graphstore.GraphStore) Option   { return func(s *Service) { s.graph = g } }
func WithVectorStore(v vectorstore.VectorStore) Option { return func(s *Service) { s.vectors = v } }
func WithCache(c extractcache.Cache) Option           { return func(s *Service) { s.cache = c } }
func WithChunker(c ChunkSource) Option                { return func(s *Service) { s.chunker = c } }
func WithCompleter(c llmport.Completer) Option        { return func(s *Service) { s.completer = c } }
func WithEmbedder(e llmport.Embedder) Option          { return func(s *Service) { s.embedder = e } }
func WithRerankProvider(p rerank.Provider) Option     { return func(s *Service) { s.rerankProvider = p } }
func WithLogger(l observability.Logger) Option        { return func(s *Service) { s.logger = l } }
func WithMetrics(m observability.Metrics) Option      { return func(s *Service) { s.metrics = m } }
func WithClock(c observability.Clock) Option          { return func(s *Service) { s.clock = c } }

// New builds a fully-wired Service. graph, vectors, completer and
// embedder are required collaborators; every other dependency has a
// usable default (in-memory extraction cache, fallback chunker, noop
// metrics, system clock, a logger that drops everything).
func New(opts ...Option) (*Service, error) {
	s := &Service{
		cfg:     config.Default(),
		chunker: DefaultChunker{},
		logger:  dropLogger{},
		metrics: observability.NoopMetrics{},
		clock:   observability.SystemClock{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.graph == nil {
		return nil, fmt.Errorf("engine: GraphStore is required")
	}
	if s.vectors == nil {
		return nil, fmt.Errorf("engine: VectorStore is required")
	}
	if s.completer == nil {
		return nil, fmt.Errorf("engine: Completer is required")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("engine: Embedder is required")
	}
	if s.cache == nil {
		s.cache = extractcache.NewInMemory()
	}

	trackedCompleter := &trackingCompleter{inner: s.completer, clock: s.clock, model: "completion", op: "llm_call"}
	trackedEmbedder := &trackingEmbedder{inner: s.embedder, clock: s.clock, model: "embedding"}

	s.summarizer = summarize.New(trackedCompleter, s.cache, s.cfg.Description)
	s.extractor = extract.New(trackedCompleter, s.cache, s.cfg.Gleaning, s.cfg.EntityNameMaxLength)
	if s.cfg.KeywordExtractionEnabled {
		s.keywordX = keywords.New(trackedCompleter, s.cache)
	}

	scorer := similarity.New(
		similarity.WithWeights(similarity.Weights(s.cfg.Similarity.Weights)),
		similarity.WithEarlyTerminationRatio(s.cfg.Similarity.EarlyTermRatio),
	)
	s.resolver = resolve.New(scorer, s.summarizer, s.logger, s.cfg.Similarity.Threshold, s.cfg.SourceChunkIDsMax)

	if s.cfg.Rerank.Enabled && s.rerankProvider != nil {
		s.reranker = rerank.New(s.rerankProvider, s.logger, s.clock,
			rerank.WithMinScore(s.cfg.Rerank.MinScore),
			rerank.WithBreakerFailThreshold(s.cfg.Rerank.BreakerFailN),
			rerank.WithTimeout(time.Duration(s.cfg.Rerank.TimeoutMs)*time.Millisecond),
			rerank.WithBreakerCooldown(time.Duration(s.cfg.Rerank.BreakerCooldownSec)*time.Second),
		)
	}

	s.executor = query.New(s.graph, s.vectors, trackedEmbedder, s.keywordX, s.reranker, query.Config{
		ContextMaxTokens: s.cfg.Query.ContextMaxTokens,
		TopK:             s.cfg.Query.TopK,
		Budget: query.Budget{
			Entity:   s.cfg.Query.Budget.Entity,
			Relation: s.cfg.Query.Budget.Relation,
			Chunk:    s.cfg.Query.Budget.Chunk,
		},
		Neighbors: query.NeighborExpansion{
			Enabled:          s.cfg.NeighborExpansion.Enabled,
			MaxDepth:         s.cfg.NeighborExpansion.MaxDepth,
			MaxNodes:         s.cfg.NeighborExpansion.MaxNodes,
			IncludeRelations: s.cfg.NeighborExpansion.IncludeRelations,
		},
		RerankEnabled: s.cfg.Rerank.Enabled,
	})

	s.merger = entitymerge.New(s.graph, s.vectors, s.summarizer, s.cfg.SourceChunkIDsMax)
	s.deleter = deletion.New(s.graph, s.vectors, s.cache, s.summarizer)

	return s, nil
}

// IngestResult is what IngestDocument reports back.
type IngestResult struct {
	ChunkIDs       []string
	EntitiesAdded  []string
	RelationsAdded int
	Tokens         kg.TokenSummary
}

// IngestDocument chunks text, embeds and indexes each chunk, extracts
// entities/relations per chunk (bounded concurrency), resolves the
// batch, and upserts the result into the graph and vector stores.
func (s *Service) IngestDocument(ctx context.Context, projectID, documentID, text string) (IngestResult, error) {
	tracker := tokens.NewTracker()
	ctx = tokens.WithTracker(ctx, tracker)
	ctx = observability.WithProject(ctx, projectID)

	texts, err := s.chunker.Chunk(ctx, text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return IngestResult{}, fmt.Errorf("engine: chunk document %q: %w", documentID, err)
	}

	chunks := make([]kg.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = kg.Chunk{
			ID:              uuid.NewString(),
			Content:         t,
			Tokens:          tokens.Count(t),
			DocumentID:      documentID,
			ProjectID:       projectID,
			ChunkOrderIndex: i,
		}
	}

	parallelism := int64(s.cfg.Parallelism)
	if parallelism < 1 {
		parallelism = 1
	}
	sem := semaphore.NewWeighted(parallelism)

	var mu sync.Mutex
	var allEntities []kg.Entity
	var allRelations []kg.Relation

	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			vec, err := s.embedder.Embed(gctx, []string{chunk.Content})
			if err != nil {
				return fmt.Errorf("embed chunk %q: %w", chunk.ID, err)
			}
			if len(vec) == 0 {
				return fmt.Errorf("embed chunk %q: no vector returned", chunk.ID)
			}
			if err := s.vectors.Upsert(gctx, vectorstore.Record{
				ID: chunk.ID, ProjectID: projectID, Kind: vectorstore.KindChunk,
				RefID: chunk.ID, Vector: vec[0], DocumentID: documentID,
				Metadata: map[string]string{"content": chunk.Content},
			}); err != nil {
				return fmt.Errorf("upsert chunk vector %q: %w", chunk.ID, err)
			}

			result, err := s.extractor.Extract(gctx, projectID, chunk)
			if err != nil {
				s.logger.Error("chunk extraction failed", map[string]any{"chunk_id": chunk.ID, "error": err.Error()})
				return fmt.Errorf("extract chunk %q: %w", chunk.ID, err)
			}

			mu.Lock()
			allEntities = append(allEntities, result.Entities...)
			allRelations = append(allRelations, result.Relations...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IngestResult{}, fmt.Errorf("engine: ingest document %q: %w", documentID, err)
	}

	resolved, err := s.resolver.Resolve(ctx, projectID, allEntities, allRelations)
	if err != nil {
		return IngestResult{}, fmt.Errorf("engine: resolve document %q: %w", documentID, err)
	}

	entityNames := make([]string, 0, len(resolved.Entities))
	for _, e := range resolved.Entities {
		if err := s.graph.UpsertEntity(ctx, e); err != nil {
			return IngestResult{}, fmt.Errorf("upsert entity %q: %w", e.Name, err)
		}
		vec, err := s.embedder.Embed(ctx, []string{e.Description})
		if err != nil {
			return IngestResult{}, fmt.Errorf("embed entity %q: %w", e.Name, err)
		}
		if len(vec) > 0 {
			if err := s.vectors.Upsert(ctx, vectorstore.Record{
				ID: e.Name, ProjectID: projectID, Kind: vectorstore.KindEntity,
				RefID: e.Name, Vector: vec[0], DocumentID: documentID,
				Metadata: map[string]string{"type": e.Type, "content": e.Description},
			}); err != nil {
				return IngestResult{}, fmt.Errorf("upsert entity vector %q: %w", e.Name, err)
			}
		}
		entityNames = append(entityNames, e.Name)
	}
	for _, r := range resolved.Relations {
		if err := s.graph.UpsertRelation(ctx, r); err != nil {
			return IngestResult{}, fmt.Errorf("upsert relation %q->%q: %w", r.SrcName, r.TgtName, err)
		}
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}
	return IngestResult{
		ChunkIDs:       chunkIDs,
		EntitiesAdded:  entityNames,
		RelationsAdded: len(resolved.Relations),
		Tokens:         tracker.Summary(),
	}, nil
}

// QueryResult pairs the assembled context with the request's token cost.
type QueryResult struct {
	Context    string
	ItemsUsed  int
	TokensUsed int
	Truncated  int
	Tokens     kg.TokenSummary
}

// Query answers text against the knowledge graph and vector store using
// the given mode.
func (s *Service) Query(ctx context.Context, projectID, text string, mode kg.QueryMode) (QueryResult, error) {
	tracker := tokens.NewTracker()
	ctx = tokens.WithTracker(ctx, tracker)
	ctx = observability.WithProject(ctx, projectID)

	res, err := s.executor.Query(ctx, projectID, text, mode)
	if err != nil {
		return QueryResult{}, fmt.Errorf("engine: query: %w", err)
	}
	return QueryResult{
		Context:    res.Context,
		ItemsUsed:  res.ItemsUsed,
		TokensUsed: res.TokensUsed,
		Truncated:  res.Truncated,
		Tokens:     tracker.Summary(),
	}, nil
}

// DeleteDocument removes documentID's exclusive contribution to the
// graph and rebuilds partially-sourced entities from cached extractions.
func (s *Service) DeleteDocument(ctx context.Context, projectID, documentID string, skipRebuild bool) (deletion.Report, error) {
	ctx = observability.WithProject(ctx, projectID)
	return s.deleter.DeleteDocument(ctx, projectID, documentID, skipRebuild)
}

// MergeEntities manually merges sourceNames into targetName.
func (s *Service) MergeEntities(ctx context.Context, projectID string, sourceNames []string, targetName string, strategy entitymerge.Strategy) (entitymerge.Result, error) {
	ctx = observability.WithProject(ctx, projectID)
	return s.merger.Merge(ctx, projectID, sourceNames, targetName, strategy)
}

// ExportGraph returns every entity and relation in a project.
func (s *Service) ExportGraph(ctx context.Context, projectID string) ([]kg.Entity, []kg.Relation, error) {
	entities, err := s.graph.AllEntities(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: export entities: %w", err)
	}
	relations, err := s.graph.AllRelations(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: export relations: %w", err)
	}
	return entities, relations, nil
}

// dropLogger is the default Logger when none is configured.
type dropLogger struct{}

func (dropLogger) Info(string, map[string]any)  {}
func (dropLogger) Warn(string, map[string]any)  {}
func (dropLogger) Error(string, map[string]any) {}
func (dropLogger) Debug(string, map[string]any) {}
