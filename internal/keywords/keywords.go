// Package keywords implements the query-time keyword extractor: an LLM
// call that splits a natural-language query into HIGH_LEVEL thematic
// concepts (used for relation-centric retrieval) and LOW_LEVEL concrete
// nouns (used for entity-centric retrieval), with tolerant parsing and
// a query-hash cache.
package keywords

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"ragcore/internal/extractcache"
	"ragcore/internal/kg"
	"ragcore/internal/llmport"
)

const extractionSystemPrompt = "You extract search keywords from a user query. Output exactly two labeled lists and nothing else."

// Keywords is the result of extracting search terms from a query.
type Keywords struct {
	HighLevel []string
	LowLevel  []string
}

// Empty reports whether both keyword lists are empty, the signal the
// query executor uses to fall back to a raw query embedding.
func (k Keywords) Empty() bool {
	return len(k.HighLevel) == 0 && len(k.LowLevel) == 0
}

// Extractor pulls HIGH_LEVEL/LOW_LEVEL keywords out of a query string.
type Extractor struct {
	completer llmport.Completer
	cache     extractcache.Cache
}

// New builds an Extractor. cache may be nil to disable caching.
func New(completer llmport.Completer, cache extractcache.Cache) *Extractor {
	return &Extractor{completer: completer, cache: cache}
}

// Extract returns the query's high- and low-level keywords, replaying
// from cache when the exact query has been seen before in this project.
func (x *Extractor) Extract(ctx context.Context, projectID, query string) (Keywords, error) {
	contentHash := extractcache.HashContent(query)

	if x.cache != nil {
		if entry, ok, err := x.cache.Get(ctx, projectID, kg.CacheKeywordExtraction, contentHash); err == nil && ok {
			return parseKeywords(entry.Result), nil
		}
	}

	prompt := fmt.Sprintf(`Extract search keywords from this query.

Output exactly this format:
HIGH_LEVEL: comma, separated, themes
LOW_LEVEL: comma, separated, entities

Query: %s`, query)

	raw, err := x.completer.Complete(ctx, prompt, extractionSystemPrompt, nil)
	if err != nil {
		return Keywords{}, fmt.Errorf("keywords: llm call: %w", err)
	}

	if x.cache != nil {
		_ = x.cache.Put(ctx, kg.ExtractionCacheEntry{
			ProjectID:   projectID,
			CacheType:   kg.CacheKeywordExtraction,
			ContentHash: contentHash,
			Result:      raw,
		})
	}
	return parseKeywords(raw), nil
}

// parseKeywords is tolerant of both comma-separated and line-separated
// lists, and of either label casing or ordering.
func parseKeywords(raw string) Keywords {
	var out Keywords
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "HIGH_LEVEL"):
			out.HighLevel = append(out.HighLevel, splitItems(afterColon(line))...)
		case strings.HasPrefix(upper, "LOW_LEVEL"):
			out.LowLevel = append(out.LowLevel, splitItems(afterColon(line))...)
		}
	}
	out.HighLevel = dedupe(out.HighLevel)
	out.LowLevel = dedupe(out.LowLevel)
	return out
}

func afterColon(line string) string {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return line[i+1:]
	}
	return ""
}

func splitItems(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
