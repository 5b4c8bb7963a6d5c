// Package llmport defines the narrow collaborator ports the engine
// needs from a language model provider: single-shot text completion and
// batch embedding. Concrete adapters live alongside this file.
package llmport

import "context"

// Completer answers a single prompt with a single text response. It is
// the engine's entire LLM surface: no tool calling, no streaming, no
// multi-turn state — extraction, gleaning, summarization and keyword
// extraction all reduce to "send this prompt, get this text back".
type Completer interface {
	// Complete sends prompt (and an optional system instruction) to the
	// model and returns its text response. kwargs carries
	// provider-agnostic knobs such as "temperature" and "max_tokens";
	// adapters ignore keys they don't understand.
	Complete(ctx context.Context, prompt string, system string, kwargs map[string]any) (string, error)
}

// Embedder turns a batch of texts into fixed-length vectors, one per
// input, in input order. Unlike the reference embedding client this
// package is grounded on, a partial failure is surfaced as an error
// rather than silently substituted with a zero vector — a bad embedding
// silently indexed is worse than a failed ingestion stage that can be
// retried.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the length of vectors this embedder produces.
	Dimensions() int
}
