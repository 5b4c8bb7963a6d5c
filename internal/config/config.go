// Package config binds the engine's YAML configuration into a single
// immutable structure, validated once at load time.
package config

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v2"
)

// CalibratedThreshold is the nominal similarity threshold described in the
// design prose; Threshold defaults to a lower, better-calibrated value
// (see Similarity.Threshold below).
const CalibratedThreshold = 0.75

// SimilarityWeights weights the six C2 metrics; must sum to 1.0 +/- 0.01.
type SimilarityWeights struct {
	Jaccard      float64 `yaml:"jaccard"`
	Containment  float64 `yaml:"containment"`
	Levenshtein  float64 `yaml:"levenshtein"`
	Abbreviation float64 `yaml:"abbreviation"`
	TokenOverlap float64 `yaml:"token_overlap"`
	LengthPenalty float64 `yaml:"length_penalty"`
}

// Sum returns the sum of all weights.
func (w SimilarityWeights) Sum() float64 {
	return w.Jaccard + w.Containment + w.Levenshtein + w.Abbreviation + w.TokenOverlap + w.LengthPenalty
}

type SimilarityConfig struct {
	Threshold       float64           `yaml:"threshold"`
	Weights         SimilarityWeights `yaml:"weights"`
	EarlyTermRatio  float64           `yaml:"early_termination_ratio"`
}

type GleaningConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxPasses int  `yaml:"max_passes"`
}

type DescriptionConfig struct {
	ForceSummaryCount  int `yaml:"force_summary_count"`
	SummaryContextSize int `yaml:"summary_context_size"`
	SummaryMaxTokens   int `yaml:"summary_max_tokens"`
	MaxMapIterations   int `yaml:"max_map_iterations"`
	MaxChars           int `yaml:"max_chars"`
}

type QueryBudget struct {
	Entity   float64 `yaml:"entity"`
	Relation float64 `yaml:"relation"`
	Chunk    float64 `yaml:"chunk"`
}

// Sum returns the sum of all budget ratios.
func (b QueryBudget) Sum() float64 { return b.Entity + b.Relation + b.Chunk }

type QueryConfig struct {
	ContextMaxTokens int         `yaml:"context_max_tokens"`
	Budget           QueryBudget `yaml:"budget"`
	TopK             int         `yaml:"top_k"`
}

type NeighborExpansionConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxDepth         int  `yaml:"max_depth"`
	MaxNodes         int  `yaml:"max_nodes"`
	IncludeRelations bool `yaml:"include_relations"`
}

type RerankConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Provider       string  `yaml:"provider"`
	MinScore       float64 `yaml:"min_score"`
	TimeoutMs      int     `yaml:"timeout_ms"`
	BreakerFailN   int     `yaml:"breaker_fail_n"`
	BreakerCooldownSec int `yaml:"breaker_cooldown_sec"`
}

// Config is the engine's full, validated configuration. Built once at
// startup via Load, then shared read-only across every component.
type Config struct {
	ChunkSize            int                     `yaml:"chunk_size"`
	ChunkOverlap         int                     `yaml:"chunk_overlap"`
	Gleaning             GleaningConfig          `yaml:"gleaning"`
	Similarity           SimilarityConfig        `yaml:"similarity"`
	EntityNameMaxLength  int                     `yaml:"entity_name_max_length"`
	Description          DescriptionConfig       `yaml:"description"`
	SourceChunkIDsMax    int                     `yaml:"source_chunk_ids_max"`
	Query                QueryConfig             `yaml:"query"`
	KeywordExtractionEnabled bool                `yaml:"keyword_extraction_enabled"`
	NeighborExpansion    NeighborExpansionConfig `yaml:"neighbor_expansion"`
	Rerank               RerankConfig            `yaml:"rerank"`
	CacheEnabled         bool                    `yaml:"cache_enabled"`
	Parallelism          int                     `yaml:"parallelism"`
}

// Default returns the configuration with every default from the
// specification's configuration table applied.
func Default() Config {
	return Config{
		ChunkSize:    2000,
		ChunkOverlap: 200,
		Gleaning:     GleaningConfig{Enabled: true, MaxPasses: 2},
		Similarity: SimilarityConfig{
			Threshold: 0.40,
			Weights: SimilarityWeights{
				Jaccard: 0.25, Containment: 0.20, Levenshtein: 0.25,
				Abbreviation: 0.15, TokenOverlap: 0.10, LengthPenalty: 0.05,
			},
			EarlyTermRatio: 0.75,
		},
		EntityNameMaxLength: 500,
		Description: DescriptionConfig{
			ForceSummaryCount:  6,
			SummaryContextSize: 10000,
			SummaryMaxTokens:   500,
			MaxMapIterations:   3,
			MaxChars:           4000,
		},
		SourceChunkIDsMax: 50,
		Query: QueryConfig{
			ContextMaxTokens: 4000,
			Budget:           QueryBudget{Entity: 0.40, Relation: 0.40, Chunk: 0.20},
			TopK:             20,
		},
		KeywordExtractionEnabled: true,
		NeighborExpansion: NeighborExpansionConfig{
			Enabled: true, MaxDepth: 1, MaxNodes: 20, IncludeRelations: true,
		},
		Rerank: RerankConfig{
			Enabled: false, Provider: "none", MinScore: 0.1, TimeoutMs: 2000,
			BreakerFailN: 5, BreakerCooldownSec: 60,
		},
		CacheEnabled: true,
		Parallelism:  4,
	}
}

// Load reads a YAML file, overlays it onto the defaults, validates the
// result and reports what it found via pterm, in the style of the
// reference implementation's LoadConfig.
func Load(filename string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("error reading config file: %v\n", err)
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("error unmarshaling config: %v\n", err)
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		pterm.Error.Printf("invalid config: %v\n", err)
		return Config{}, err
	}
	pterm.Success.Println("configuration loaded successfully")
	return cfg, nil
}

// Validate checks the invariants the specification places on
// configuration values: weights and budget ratios sum to 1 +/- 0.01,
// thresholds are in range. Fails loudly rather than silently clamping.
func (c Config) Validate() error {
	if s := c.Similarity.Weights.Sum(); s < 0.99 || s > 1.01 {
		return fmt.Errorf("similarity.weights must sum to 1.0 +/- 0.01, got %.4f", s)
	}
	if s := c.Query.Budget.Sum(); s < 0.99 || s > 1.01 {
		return fmt.Errorf("query.budget ratios must sum to 1.0 +/- 0.01, got %.4f", s)
	}
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity.threshold must be in [0,1], got %.4f", c.Similarity.Threshold)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism)
	}
	return nil
}
