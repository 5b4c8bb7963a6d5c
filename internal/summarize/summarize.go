// Package summarize implements the description summarizer: the
// decision of whether a growing list of entity/relation descriptions
// needs LLM summarization at all, and the map-reduce call pattern used
// when it does.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"ragcore/internal/config"
	"ragcore/internal/extractcache"
	"ragcore/internal/kg"
	"ragcore/internal/llmport"
	"ragcore/internal/tokens"
)

// descriptionSep joins distinct descriptions before a summarization
// call and before storing an unsummarized merged description.
const descriptionSep = "\n---\n"

const systemPrompt = "You write concise, factual summaries of entity descriptions extracted from a document corpus. Do not invent facts not present in the source descriptions."

// Summarizer decides whether a set of descriptions needs condensing and
// performs the map-reduce LLM calls to do it.
type Summarizer struct {
	completer llmport.Completer
	cache     extractcache.Cache
	cfg       config.DescriptionConfig
}

// New builds a Summarizer. cache may be nil, in which case results are
// never memoized.
func New(completer llmport.Completer, cache extractcache.Cache, cfg config.DescriptionConfig) *Summarizer {
	return &Summarizer{completer: completer, cache: cache, cfg: cfg}
}

// NeedsSummarization reports whether descriptions are long enough, by
// token count or by item count, to warrant summarization rather than a
// plain join.
func (s *Summarizer) NeedsSummarization(descriptions []string) bool {
	if len(descriptions) > s.cfg.ForceSummaryCount {
		return true
	}
	joined := strings.Join(descriptions, descriptionSep)
	return tokens.Count(joined) > s.cfg.SummaryContextSize
}

// Merge combines descriptions for entityName into a single description,
// summarizing via the LLM when NeedsSummarization says so, and joining
// plainly otherwise. Results of LLM calls are cached by content hash so
// repeat merges of the same description set never re-invoke the model.
func (s *Summarizer) Merge(ctx context.Context, projectID, entityName string, descriptions []string) (string, error) {
	unique := dedupe(descriptions)
	if len(unique) == 0 {
		return "", nil
	}
	if !s.NeedsSummarization(unique) {
		return strings.Join(unique, descriptionSep), nil
	}

	joined := strings.Join(unique, descriptionSep)
	if tokens.Count(joined) <= s.cfg.SummaryMaxTokens {
		return s.summarizeBatch(ctx, projectID, entityName, unique)
	}
	return s.mapReduce(ctx, projectID, entityName, unique, 0)
}

// mapReduce partitions descriptions into token-bounded batches,
// summarizes each, and recurses on the resulting summaries. It is
// bounded by MaxMapIterations: past that depth it hard-truncates via
// the token package instead of issuing another round of LLM calls.
func (s *Summarizer) mapReduce(ctx context.Context, projectID, entityName string, descriptions []string, depth int) (string, error) {
	if depth >= s.cfg.MaxMapIterations {
		joined := strings.Join(descriptions, descriptionSep)
		return tokens.TruncateToTokens(joined, s.cfg.SummaryMaxTokens), nil
	}

	batches := batchByTokens(descriptions, s.cfg.SummaryMaxTokens)
	summaries := make([]string, 0, len(batches))
	for _, batch := range batches {
		summary, err := s.summarizeBatch(ctx, projectID, entityName, batch)
		if err != nil {
			return "", err
		}
		summaries = append(summaries, summary)
	}

	joined := strings.Join(summaries, descriptionSep)
	if len(summaries) == 1 || tokens.Count(joined) <= s.cfg.SummaryMaxTokens {
		return joined, nil
	}
	return s.mapReduce(ctx, projectID, entityName, summaries, depth+1)
}

// summarizeBatch issues (or replays from cache) a single LLM
// summarization call over a token-bounded batch of descriptions.
func (s *Summarizer) summarizeBatch(ctx context.Context, projectID, entityName string, batch []string) (string, error) {
	joined := strings.Join(batch, descriptionSep)
	if len(batch) == 1 {
		return batch[0], nil
	}

	contentHash := extractcache.HashContent(entityName + "\x00" + joined)
	if s.cache != nil {
		if entry, ok, err := s.cache.Get(ctx, projectID, kg.CacheSummarization, contentHash); err == nil && ok {
			return entry.Result, nil
		}
	}

	prompt := fmt.Sprintf("Entity: %s\n\nDescriptions to merge:\n%s\n\nWrite a single merged description covering every distinct fact above, in 1-3 sentences.", entityName, joined)
	result, err := s.completer.Complete(ctx, prompt, systemPrompt, map[string]any{"max_tokens": s.cfg.SummaryMaxTokens})
	if err != nil {
		// An unrecoverable LLM failure degrades to plain truncated
		// concatenation rather than failing the caller's entire batch;
		// this fallback is not cached, so a transient outage doesn't
		// pin a bad summary in place once the LLM recovers.
		return truncateChars(joined, s.cfg.MaxChars), nil
	}
	result = strings.TrimSpace(result)

	if s.cache != nil {
		_ = s.cache.Put(ctx, kg.ExtractionCacheEntry{
			ProjectID:   projectID,
			CacheType:   kg.CacheSummarization,
			ContentHash: contentHash,
			Result:      result,
			TokensUsed:  tokens.Count(result),
		})
	}
	return result, nil
}

// batchByTokens greedily packs descriptions into groups whose joined
// token count stays at or below maxTokens. A single description longer
// than maxTokens gets its own oversized batch rather than being split
// mid-sentence.
func batchByTokens(descriptions []string, maxTokens int) [][]string {
	var batches [][]string
	var current []string
	currentTokens := 0
	for _, d := range descriptions {
		dt := tokens.Count(d)
		if len(current) > 0 && currentTokens+dt > maxTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, d)
		currentTokens += dt
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// truncateChars truncates s to at most max runes, 0 meaning unbounded.
func truncateChars(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func dedupe(descriptions []string) []string {
	seen := make(map[string]struct{}, len(descriptions))
	out := make([]string, 0, len(descriptions))
	for _, d := range descriptions {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
