// Package resolve implements the batch entity resolver: type-bucketed
// clustering of a batch's extracted entities, canonical-entity
// construction, and rewiring of relations onto the chosen canonical
// names. It is deliberately defensive — any internal error falls back
// to returning the batch unchanged, because a broken resolution pass
// must never corrupt ingestion.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"ragcore/internal/cluster"
	"ragcore/internal/kg"
	"ragcore/internal/observability"
)

// relationWeightCap bounds the weight a deduplicated relation can
// accumulate from repeated sum-combination; chosen so a handful of
// corroborating mentions saturate well before the value becomes
// meaningless to downstream ranking.
const relationWeightCap = 10.0

// dedupWarnRate is the fraction of entities collapsed by clustering
// above which the resolver logs a WARN suggesting the threshold may be
// misconfigured, per the specification's calibration guidance.
const dedupWarnRate = 0.60

// Summarizer merges a set of descriptions for one entity name into its
// final description, possibly via an LLM summarization call.
type Summarizer interface {
	Merge(ctx context.Context, projectID, entityName string, descriptions []string) (string, error)
}

// Resolver deduplicates a batch of freshly extracted entities and
// rewires the batch's relations onto the chosen canonical names.
type Resolver struct {
	scorer     cluster.Scorer
	summarizer Summarizer
	logger     observability.Logger
	threshold  float64
	chunkIDMax int
}

// New builds a Resolver. logger may be observability.NoopLogger-shaped;
// callers almost always pass a real sink since resolver failures are
// reported at WARN rather than returned as errors.
func New(scorer cluster.Scorer, summarizer Summarizer, logger observability.Logger, threshold float64, chunkIDMax int) *Resolver {
	return &Resolver{scorer: scorer, summarizer: summarizer, logger: logger, threshold: threshold, chunkIDMax: chunkIDMax}
}

// Result is the resolved, deduplicated contribution of one batch.
type Result struct {
	Entities  []kg.Entity
	Relations []kg.Relation
}

// Resolve clusters entities, builds canonical entities, and rewires
// relations. On any internal error (including a recovered panic) it
// logs at WARN and returns the original entities and relations
// unchanged, per the resolver's never-corrupt-ingestion contract.
func (r *Resolver) Resolve(ctx context.Context, projectID string, entities []kg.Entity, relations []kg.Relation) (result Result, err error) {
	original := Result{Entities: entities, Relations: relations}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("resolver panicked, returning batch unchanged", map[string]any{
				"project_id": projectID,
				"panic":      fmt.Sprintf("%v", p),
			})
			result, err = original, nil
		}
	}()

	kept := make([]kg.Entity, 0, len(entities))
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return Result{Entities: nil, Relations: relations}, nil
	}

	clusters := cluster.Build(kept, r.scorer, r.threshold)

	canonicalByOriginal := make(map[string]string, len(kept))
	resolved := make([]kg.Entity, 0, len(clusters))
	for _, c := range clusters {
		canonical, err := r.buildCanonical(ctx, projectID, c, kept)
		if err != nil {
			r.logger.Warn("resolver failed building canonical entity, returning batch unchanged", map[string]any{
				"project_id": projectID,
				"error":      err.Error(),
			})
			return original, nil
		}
		resolved = append(resolved, canonical)

		canonicalByOriginal[strings.ToLower(c.Canonical.Name)] = canonical.Name
		for _, alias := range c.Aliases {
			canonicalByOriginal[strings.ToLower(alias)] = canonical.Name
		}
	}

	rewired := rewireRelations(relations, canonicalByOriginal)

	if len(kept) > 0 {
		dedupRate := 1 - float64(len(resolved))/float64(len(kept))
		if dedupRate > dedupWarnRate {
			r.logger.Warn("entity dedup rate exceeds calibration threshold, consider reviewing similarity threshold", map[string]any{
				"project_id": projectID,
				"dedup_rate": dedupRate,
			})
		}
	}

	return Result{Entities: resolved, Relations: rewired}, nil
}

func (r *Resolver) buildCanonical(ctx context.Context, projectID string, c kg.Cluster, members []kg.Entity) (kg.Entity, error) {
	descriptions := make([]string, 0, len(c.MemberIndexes))
	for _, idx := range c.MemberIndexes {
		if d := strings.TrimSpace(members[idx].Description); d != "" {
			descriptions = append(descriptions, d)
		}
	}

	description, err := r.summarizer.Merge(ctx, projectID, c.Canonical.Name, descriptions)
	if err != nil {
		return kg.Entity{}, fmt.Errorf("resolve: merge descriptions for %q: %w", c.Canonical.Name, err)
	}

	chunkIDs := boundFIFO(c.SourceChunkIDs, r.chunkIDMax)

	return kg.Entity{
		Name:           c.Canonical.Name,
		Type:           c.Canonical.Type,
		Description:    description,
		SourceChunkIDs: chunkIDs,
		DocumentID:     c.Canonical.DocumentID,
		FilePath:       c.Canonical.FilePath,
		ProjectID:      projectID,
	}, nil
}

// rewireRelations rewrites every relation endpoint that names a
// non-canonical cluster member onto its canonical name, drops any
// relation that becomes a self-loop as a result, then deduplicates the
// remaining relations by normalized unordered endpoint pair.
func rewireRelations(relations []kg.Relation, canonicalOf map[string]string) []kg.Relation {
	type agg struct {
		rel  kg.Relation
		seen map[string]struct{}
	}
	byKey := make(map[string]*agg)
	var order []string

	for _, rel := range relations {
		src := resolveName(rel.SrcName, canonicalOf)
		tgt := resolveName(rel.TgtName, canonicalOf)
		if strings.EqualFold(src, tgt) {
			continue
		}
		rel.SrcName, rel.TgtName = src, tgt

		key := pairKey(src, tgt)
		a, ok := byKey[key]
		if !ok {
			a = &agg{rel: rel, seen: map[string]struct{}{}}
			if rel.Description != "" {
				a.seen[rel.Description] = struct{}{}
			}
			byKey[key] = a
			order = append(order, key)
			continue
		}
		a.rel.Weight = capWeight(a.rel.Weight + rel.Weight)
		if rel.Description != "" {
			if _, dup := a.seen[rel.Description]; !dup {
				a.seen[rel.Description] = struct{}{}
				a.rel.Description = joinNonEmpty(a.rel.Description, rel.Description)
			}
		}
		a.rel.SourceChunkIDs = mergeUnique(a.rel.SourceChunkIDs, rel.SourceChunkIDs)
	}

	out := make([]kg.Relation, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key].rel)
	}
	return out
}

func resolveName(name string, canonicalOf map[string]string) string {
	if canonical, ok := canonicalOf[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

func pairKey(a, b string) string {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la > lb {
		la, lb = lb, la
	}
	return la + "\x00" + lb
}

func capWeight(w float64) float64 {
	if w > relationWeightCap {
		return relationWeightCap
	}
	return w
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n---\n" + b
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, x := range a {
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	for _, x := range b {
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	return out
}

// boundFIFO returns the last max entries of ids in order, the FIFO
// bound the specification places on sourceChunkIds.
func boundFIFO(ids []string, max int) []string {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	out := make([]string, max)
	copy(out, ids[len(ids)-max:])
	return out
}
