package llmport

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const defaultEmbedConcurrency = 5

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// embeddings endpoint, fanning requests out with bounded concurrency.
type OpenAIEmbedder struct {
	client      openai.Client
	model       string
	dimensions  int
	concurrency int
}

// NewOpenAIEmbedder builds an Embedder. dimensions must match what the
// configured model actually produces; callers use it to size vector
// store collections up front.
func NewOpenAIEmbedder(endpoint, apiKey, model string, dimensions int) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return &OpenAIEmbedder{
		client:      openai.NewClient(opts...),
		model:       model,
		dimensions:  dimensions,
		concurrency: defaultEmbedConcurrency,
	}
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Embed embeds every text in input order. A failure on any single text
// aborts the whole batch and returns the error: the caller's ingestion
// stage is expected to retry rather than index a partially-embedded
// batch with silent zero vectors filled in for the failures.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
				Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
				Model: openai.EmbeddingModel(e.model),
			})
			if err != nil {
				return fmt.Errorf("llmport: embedding text %d: %w", i, err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("llmport: embedding text %d: empty response", i)
			}
			vec := make([]float32, len(resp.Data[0].Embedding))
			for j, v := range resp.Data[0].Embedding {
				vec[j] = float32(v)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
