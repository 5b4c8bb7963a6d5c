// Package extract implements the per-chunk entity/relation extractor:
// a cached LLM call against the tuple-delimited extraction format, an
// optional gleaning loop to recover entities the first pass missed,
// and a tolerant parser that never lets one malformed record abort a
// chunk's extraction.
package extract

import (
	"context"
	"fmt"
	"strings"

	"ragcore/internal/config"
	"ragcore/internal/extractcache"
	"ragcore/internal/kg"
	"ragcore/internal/llmport"
	"ragcore/internal/similarity"
)

// Field and record separators for the tuple-delimited extraction
// format. Chosen to be vanishingly unlikely to occur in natural
// language text, per the format's own requirement.
const (
	fieldSep  = "<|>"
	recordSep = "##"
)

const extractionSystemPrompt = "You extract entities and relations from text into a strict tuple-delimited format. Output nothing but records in the specified format."

// Result is everything one chunk contributed to the graph.
type Result struct {
	Entities    []kg.Entity
	Relations   []kg.Relation
	Warnings    int
	GleanPasses int
}

// Extractor runs the extraction + gleaning pipeline for a single chunk.
type Extractor struct {
	completer llmport.Completer
	cache     extractcache.Cache
	gleaning  config.GleaningConfig
	nameMax   int
}

// New builds an Extractor. cache may be nil to disable caching.
func New(completer llmport.Completer, cache extractcache.Cache, gleaning config.GleaningConfig, entityNameMaxLength int) *Extractor {
	return &Extractor{completer: completer, cache: cache, gleaning: gleaning, nameMax: entityNameMaxLength}
}

// Extract runs the full extraction pipeline for chunk: cache lookup,
// initial LLM pass (or cache replay), gleaning passes, parsing,
// name normalization, and self-loop filtering.
func (x *Extractor) Extract(ctx context.Context, projectID string, chunk kg.Chunk) (Result, error) {
	contentHash := extractcache.HashContent(chunk.Content)

	raw, err := x.initialPass(ctx, projectID, contentHash, chunk)
	if err != nil {
		return Result{}, err
	}

	entities, relations, warnings := parseRecords(raw)
	seenEntities := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		seenEntities[strings.ToLower(e.Name)] = struct{}{}
	}
	seenRelations := make(map[string]struct{}, len(relations))
	for _, r := range relations {
		seenRelations[relationKey(r.SrcName, r.TgtName)] = struct{}{}
	}

	glean := 0
	if x.gleaning.Enabled {
		prevRaw := raw
		for pass := 1; pass <= x.gleaning.MaxPasses; pass++ {
			gleanRaw, err := x.gleanPass(ctx, projectID, contentHash, pass, chunk, prevRaw)
			if err != nil {
				return Result{}, err
			}
			newEntities, newRelations, w := parseRecords(gleanRaw)
			warnings += w

			novel := 0
			for _, e := range newEntities {
				key := strings.ToLower(e.Name)
				if _, dup := seenEntities[key]; dup {
					continue
				}
				seenEntities[key] = struct{}{}
				entities = append(entities, e)
				novel++
			}
			for _, r := range newRelations {
				key := relationKey(r.SrcName, r.TgtName)
				if _, dup := seenRelations[key]; dup {
					continue
				}
				seenRelations[key] = struct{}{}
				relations = append(relations, r)
				novel++
			}
			glean = pass
			if novel == 0 {
				break
			}
			prevRaw = gleanRaw
		}
	}

	for i := range entities {
		entities[i].Name = similarity.Normalize(entities[i].Name, x.nameMax)
		entities[i].ProjectID = projectID
		entities[i].SourceChunkIDs = []string{chunk.ID}
		entities[i].DocumentID = chunk.DocumentID
	}

	out := relations[:0]
	for _, r := range relations {
		r.SrcName = similarity.Normalize(r.SrcName, x.nameMax)
		r.TgtName = similarity.Normalize(r.TgtName, x.nameMax)
		if strings.EqualFold(r.SrcName, r.TgtName) {
			continue
		}
		r.ProjectID = projectID
		r.SourceChunkIDs = []string{chunk.ID}
		r.DocumentID = chunk.DocumentID
		if r.Weight == 0 {
			r.Weight = 1.0
		}
		out = append(out, r)
	}
	relations = out

	return Result{Entities: entities, Relations: relations, Warnings: warnings, GleanPasses: glean}, nil
}

func (x *Extractor) initialPass(ctx context.Context, projectID, contentHash string, chunk kg.Chunk) (string, error) {
	if x.cache != nil {
		if entry, ok, err := x.cache.Get(ctx, projectID, kg.CacheEntityExtraction, contentHash); err == nil && ok {
			return entry.Result, nil
		}
	}

	prompt := extractionPrompt(chunk.Content)
	raw, err := x.completer.Complete(ctx, prompt, extractionSystemPrompt, nil)
	if err != nil {
		return "", fmt.Errorf("extract: initial LLM pass: %w", err)
	}

	if x.cache != nil {
		_ = x.cache.Put(ctx, kg.ExtractionCacheEntry{
			ProjectID:   projectID,
			CacheType:   kg.CacheEntityExtraction,
			ChunkID:     chunk.ID,
			ContentHash: contentHash,
			Result:      raw,
		})
	}
	return raw, nil
}

func (x *Extractor) gleanPass(ctx context.Context, projectID, contentHash string, pass int, chunk kg.Chunk, prevRaw string) (string, error) {
	passHash := extractcache.HashContent(fmt.Sprintf("%s\x00glean\x00%d", contentHash, pass))
	if x.cache != nil {
		if entry, ok, err := x.cache.Get(ctx, projectID, kg.CacheGleaning, passHash); err == nil && ok {
			return entry.Result, nil
		}
	}

	prompt := gleaningPrompt(chunk.Content, prevRaw)
	raw, err := x.completer.Complete(ctx, prompt, extractionSystemPrompt, nil)
	if err != nil {
		return "", fmt.Errorf("extract: gleaning pass %d: %w", pass, err)
	}

	if x.cache != nil {
		_ = x.cache.Put(ctx, kg.ExtractionCacheEntry{
			ProjectID:   projectID,
			CacheType:   kg.CacheGleaning,
			ChunkID:     chunk.ID,
			ContentHash: passHash,
			Result:      raw,
		})
	}
	return raw, nil
}

func extractionPrompt(content string) string {
	return fmt.Sprintf(`Extract every entity and relation from the text below.

Output one record per line using exactly this format:
entity%sname%stype%sdescription
relation%ssrcName%stgtName%skeywords%sdescription

Separate records with a line containing only %s.

Text:
%s`, fieldSep, fieldSep, fieldSep, fieldSep, fieldSep, fieldSep, fieldSep, recordSep, content)
}

func gleaningPrompt(content, prevRaw string) string {
	return fmt.Sprintf(`Many entities and relations were missed. Add them below, using the same format as before. Do not repeat records already found.

Previously found:
%s

Text:
%s`, prevRaw, content)
}

// ParseRecords exposes parseRecords to callers outside the package,
// namely the deletion service's cache-rebuild path, which must parse
// the same tuple-delimited format back out of a stored cache entry
// without re-invoking the LLM.
func ParseRecords(raw string) ([]kg.Entity, []kg.Relation, int) {
	return parseRecords(raw)
}

// parseRecords tolerantly parses the tuple-delimited extraction format.
// A record with a wrong field count or unrecognized leading token is
// skipped and counted as a warning rather than aborting the whole chunk.
func parseRecords(raw string) ([]kg.Entity, []kg.Relation, int) {
	var entities []kg.Entity
	var relations []kg.Relation
	warnings := 0

	segments := strings.Split(raw, recordSep)
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		fields := splitFields(segment)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "entity":
			if len(fields) < 4 {
				warnings++
				continue
			}
			entities = append(entities, kg.Entity{
				Name:        fields[1],
				Type:        fields[2],
				Description: fields[3],
			})
		case "relation":
			if len(fields) < 5 {
				warnings++
				continue
			}
			relations = append(relations, kg.Relation{
				SrcName:     fields[1],
				TgtName:     fields[2],
				Keywords:    fields[3],
				Description: fields[4],
			})
		default:
			warnings++
		}
	}
	return entities, relations, warnings
}

func splitFields(segment string) []string {
	raw := strings.Split(segment, fieldSep)
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		f = strings.TrimSpace(f)
		if f == "" && len(out) == 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}

func relationKey(src, tgt string) string {
	a, b := strings.ToLower(src), strings.ToLower(tgt)
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}
