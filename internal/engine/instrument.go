package engine

import (
	"context"

	"ragcore/internal/kg"
	"ragcore/internal/llmport"
	"ragcore/internal/observability"
	"ragcore/internal/tokens"
)

// trackingCompleter wraps a Completer so every call made through it,
// anywhere in the pipeline, is attributed to the tokens.Tracker stashed
// in the call's context by WithTracker. Components downstream (C5, C8,
// C10) hold this wrapper and never know they are being measured.
type trackingCompleter struct {
	inner llmport.Completer
	clock observability.Clock
	model string
	op    string
}

func (c *trackingCompleter) Complete(ctx context.Context, prompt, system string, kwargs map[string]any) (string, error) {
	resp, err := c.inner.Complete(ctx, prompt, system, kwargs)
	if err != nil {
		return resp, err
	}
	if t := tokens.TrackerFromContext(ctx); t != nil {
		t.Record(kg.TokenUsage{
			OperationType: c.op,
			ModelName:     c.model,
			InputTokens:   tokens.Count(prompt) + tokens.Count(system),
			OutputTokens:  tokens.Count(resp),
			Timestamp:     c.clock.Now(),
		})
	}
	return resp, nil
}

// trackingEmbedder is Embedder's counterpart: embedding calls have no
// output text, so only input tokens are recorded.
type trackingEmbedder struct {
	inner llmport.Embedder
	clock observability.Clock
	model string
}

func (e *trackingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.inner.Embed(ctx, texts)
	if err != nil {
		return vecs, err
	}
	if t := tokens.TrackerFromContext(ctx); t != nil {
		input := 0
		for _, text := range texts {
			input += tokens.Count(text)
		}
		t.Record(kg.TokenUsage{
			OperationType: "embedding",
			ModelName:     e.model,
			InputTokens:   input,
			Timestamp:     e.clock.Now(),
		})
	}
	return vecs, nil
}

func (e *trackingEmbedder) Dimensions() int { return e.inner.Dimensions() }

var (
	_ llmport.Completer = (*trackingCompleter)(nil)
	_ llmport.Embedder  = (*trackingEmbedder)(nil)
)
