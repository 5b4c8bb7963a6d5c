// Package kg holds the data types shared across the ingestion and
// retrieval engine: entities, relations, chunks, and the transient
// structures produced while resolving and merging them.
package kg

import "time"

// Entity is a named node in the knowledge graph.
type Entity struct {
	Name           string
	Type           string
	Description    string
	SourceChunkIDs []string
	DocumentID     string
	FilePath       string
	GlobalKeys     []string
	ProjectID      string
}

// Relation is an edge between two entities.
type Relation struct {
	SrcName        string
	TgtName        string
	Description    string
	Keywords       string
	Weight         float64
	SourceChunkIDs []string
	DocumentID     string
	FilePath       string
	ProjectID      string
}

// Chunk is a tokenized slice of a source document.
type Chunk struct {
	ID              string
	Content         string
	Tokens          int
	DocumentID      string
	ProjectID       string
	ChunkOrderIndex int
}

// SimilarityScore is the transient result of comparing two entity names.
type SimilarityScore struct {
	Name1        string
	Name2        string
	Type1        string
	Type2        string
	Jaccard      float64
	Containment  float64
	Levenshtein  float64
	Abbreviation float64
	Final        float64
}

// Cluster is a set of entities judged to refer to the same real-world
// thing, with a chosen canonical representative.
type Cluster struct {
	Canonical      Entity
	Aliases        []string
	MemberIndexes  []int
	SourceChunkIDs []string
}

// CacheType enumerates the kinds of LLM interaction the extraction cache
// can hold results for.
type CacheType string

const (
	CacheEntityExtraction  CacheType = "ENTITY_EXTRACTION"
	CacheGleaning          CacheType = "GLEANING"
	CacheSummarization     CacheType = "SUMMARIZATION"
	CacheKeywordExtraction CacheType = "KEYWORD_EXTRACTION"
)

// ExtractionCacheEntry is a durable, content-addressed record of a single
// LLM call's raw output.
type ExtractionCacheEntry struct {
	ID          string
	ProjectID   string
	CacheType   CacheType
	ChunkID     string
	ContentHash string
	Result      string
	TokensUsed  int
	CreatedAt   time.Time
}

// TokenUsage is an immutable record of one LLM or embedding operation's
// token cost.
type TokenUsage struct {
	OperationType string
	ModelName     string
	InputTokens   int
	OutputTokens  int
	Timestamp     time.Time
}

// TokenSummary aggregates TokenUsage records for a single top-level
// request.
type TokenSummary struct {
	TotalInput  int
	TotalOutput int
	Breakdown   map[string]TokenUsage
}

// Item is a single piece of retrieved context: a formatted entity row,
// a relation row, or a raw chunk, carrying what the reranker and
// context merger need and nothing more.
type Item struct {
	Content string
	Type    string // "entity", "relation", or "chunk"
	Tokens  int
	Score   float64
	RefID   string
}

// QueryMode selects the retrieval strategy executed by the query
// executors (C13).
type QueryMode string

const (
	ModeLocal  QueryMode = "LOCAL"
	ModeGlobal QueryMode = "GLOBAL"
	ModeHybrid QueryMode = "HYBRID"
	ModeMix    QueryMode = "MIX"
	ModeNaive  QueryMode = "NAIVE"
	ModeBypass QueryMode = "BYPASS"
)
