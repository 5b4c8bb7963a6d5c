package engine

import (
	"context"
	"strings"
)

// ChunkSource splits a document's plain text into an ordered sequence
// of chunk texts. Parsing (PDF, HTML, markdown extraction) and the
// chunking strategy itself are external concerns the engine depends on
// through this narrow port; DefaultChunker below is the engine's own
// fallback when no richer chunker is configured.
type ChunkSource interface {
	Chunk(ctx context.Context, text string, sizeTokens, overlapTokens int) ([]string, error)
}

// DefaultChunker is a fixed-size, whitespace-respecting chunker: it
// targets sizeTokens per chunk (via the package's chars/4 estimate),
// preferring to cut on a space near the target boundary, and carries
// overlapTokens of trailing context into the next chunk.
type DefaultChunker struct{}

func (DefaultChunker) Chunk(_ context.Context, text string, sizeTokens, overlapTokens int) ([]string, error) {
	if sizeTokens <= 0 {
		sizeTokens = 500
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	targetChars := sizeTokens * 4
	if targetChars < 32 {
		targetChars = 32
	}
	overlapChars := overlapTokens * 4

	var out []string
	start := 0
	for start < len(text) {
		end := start + targetChars
		if end > len(text) {
			end = len(text)
		} else if i := strings.LastIndex(text[start:end], " "); i > targetChars/2 {
			end = start + i
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(text) {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out, nil
}

var _ ChunkSource = DefaultChunker{}
