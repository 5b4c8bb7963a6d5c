// Package entitymerge implements the manual merge service: folding one
// or more source entities into a target entity, redirecting every
// incident relation, deduplicating the result, and combining
// descriptions under a caller-chosen strategy.
package entitymerge

import (
	"context"
	"fmt"
	"strings"

	"ragcore/internal/graphstore"
	"ragcore/internal/kg"
	"ragcore/internal/vectorstore"
)

// relationWeightCap mirrors the resolver's cap so a merge-induced
// dedup can't produce a weight the rest of the engine has never seen.
const relationWeightCap = 10.0

// Strategy selects how source and target descriptions are combined.
type Strategy string

const (
	Concatenate  Strategy = "CONCATENATE"
	KeepFirst    Strategy = "KEEP_FIRST"
	KeepLongest  Strategy = "KEEP_LONGEST"
	LLMSummarize Strategy = "LLM_SUMMARIZE"
)

// Summarizer merges a set of descriptions for one entity name, the
// same narrow port the resolver depends on.
type Summarizer interface {
	Merge(ctx context.Context, projectID, entityName string, descriptions []string) (string, error)
}

// Merger performs manual entity merges against a GraphStore and
// VectorStore.
type Merger struct {
	graph      graphstore.GraphStore
	vectors    vectorstore.VectorStore
	summarizer Summarizer
	chunkIDMax int
}

// New builds a Merger. summarizer may be nil if the caller never uses
// the LLMSummarize strategy.
func New(graph graphstore.GraphStore, vectors vectorstore.VectorStore, summarizer Summarizer, chunkIDMax int) *Merger {
	return &Merger{graph: graph, vectors: vectors, summarizer: summarizer, chunkIDMax: chunkIDMax}
}

// Result reports what a merge changed.
type Result struct {
	Target           kg.Entity
	RelationsWritten int
	SourcesDeleted   []string
}

// Merge folds sourceNames into targetName. It validates every source
// exists, that no source names itself as the target, and that
// sourceNames is non-empty, before making any mutation — once mutation
// begins every step is expected to succeed against a healthy store, so
// a failure partway through is surfaced rather than rolled back.
func (m *Merger) Merge(ctx context.Context, projectID string, sourceNames []string, targetName string, strategy Strategy) (Result, error) {
	if len(sourceNames) == 0 {
		return Result{}, fmt.Errorf("entitymerge: sourceNames must be non-empty")
	}
	targetName = strings.TrimSpace(targetName)
	if targetName == "" {
		return Result{}, fmt.Errorf("entitymerge: targetName must be non-empty")
	}

	sources := make([]kg.Entity, 0, len(sourceNames))
	for _, name := range sourceNames {
		if strings.EqualFold(name, targetName) {
			return Result{}, fmt.Errorf("entitymerge: cannot merge %q into itself", name)
		}
		e, ok, err := m.graph.GetEntity(ctx, projectID, name)
		if err != nil {
			return Result{}, fmt.Errorf("entitymerge: load source %q: %w", name, err)
		}
		if !ok {
			return Result{}, fmt.Errorf("entitymerge: source entity %q does not exist in project %q", name, projectID)
		}
		sources = append(sources, e)
	}

	existingTarget, targetExists, err := m.graph.GetEntity(ctx, projectID, targetName)
	if err != nil {
		return Result{}, fmt.Errorf("entitymerge: load target %q: %w", targetName, err)
	}

	canonicalOf := make(map[string]string, len(sources))
	for _, s := range sources {
		canonicalOf[strings.ToLower(s.Name)] = targetName
	}

	var incident []kg.Relation
	for _, s := range sources {
		rs, err := m.graph.RelationsOf(ctx, projectID, s.Name)
		if err != nil {
			return Result{}, fmt.Errorf("entitymerge: relations of %q: %w", s.Name, err)
		}
		incident = append(incident, rs...)
	}

	rewritten := rewireRelations(incident, canonicalOf)

	description, err := m.combineDescriptions(ctx, projectID, targetName, existingTarget, targetExists, sources, strategy)
	if err != nil {
		return Result{}, fmt.Errorf("entitymerge: combine descriptions: %w", err)
	}

	target := buildTargetEntity(projectID, targetName, existingTarget, targetExists, sources, description, m.chunkIDMax)

	if err := m.graph.UpsertEntity(ctx, target); err != nil {
		return Result{}, fmt.Errorf("entitymerge: upsert target: %w", err)
	}

	for _, rel := range incident {
		if err := m.graph.DeleteRelation(ctx, projectID, rel.SrcName, rel.TgtName); err != nil {
			return Result{}, fmt.Errorf("entitymerge: delete stale relation %q->%q: %w", rel.SrcName, rel.TgtName, err)
		}
	}
	if len(rewritten) > 0 {
		if err := m.graph.UpsertRelations(ctx, rewritten); err != nil {
			return Result{}, fmt.Errorf("entitymerge: upsert rewritten relations: %w", err)
		}
	}

	for _, s := range sources {
		if err := m.graph.DeleteEntity(ctx, projectID, s.Name); err != nil {
			return Result{}, fmt.Errorf("entitymerge: delete source %q: %w", s.Name, err)
		}
		if m.vectors != nil {
			if err := m.vectors.Delete(ctx, projectID, s.Name); err != nil {
				return Result{}, fmt.Errorf("entitymerge: delete source embedding %q: %w", s.Name, err)
			}
		}
	}

	return Result{Target: target, RelationsWritten: len(rewritten), SourcesDeleted: sourceNames}, nil
}

func (m *Merger) combineDescriptions(ctx context.Context, projectID, targetName string, existingTarget kg.Entity, targetExists bool, sources []kg.Entity, strategy Strategy) (string, error) {
	descriptions := make([]string, 0, len(sources)+1)
	if targetExists && strings.TrimSpace(existingTarget.Description) != "" {
		descriptions = append(descriptions, existingTarget.Description)
	}
	for _, s := range sources {
		if d := strings.TrimSpace(s.Description); d != "" {
			descriptions = append(descriptions, d)
		}
	}
	if len(descriptions) == 0 {
		return "", nil
	}

	switch strategy {
	case KeepFirst:
		return descriptions[0], nil
	case KeepLongest:
		longest := descriptions[0]
		for _, d := range descriptions[1:] {
			if len(d) > len(longest) {
				longest = d
			}
		}
		return longest, nil
	case LLMSummarize:
		if m.summarizer == nil {
			return strings.Join(descriptions, "\n---\n"), nil
		}
		return m.summarizer.Merge(ctx, projectID, targetName, descriptions)
	case Concatenate, "":
		return strings.Join(descriptions, "\n---\n"), nil
	default:
		return "", fmt.Errorf("unknown description strategy %q", strategy)
	}
}

func buildTargetEntity(projectID, targetName string, existingTarget kg.Entity, targetExists bool, sources []kg.Entity, description string, chunkIDMax int) kg.Entity {
	entityType := existingTarget.Type
	documentID := existingTarget.DocumentID
	filePath := existingTarget.FilePath

	var chunkIDs []string
	if targetExists {
		chunkIDs = append(chunkIDs, existingTarget.SourceChunkIDs...)
	}
	for _, s := range sources {
		if entityType == "" {
			entityType = s.Type
		}
		if documentID == "" {
			documentID = s.DocumentID
		}
		if filePath == "" {
			filePath = s.FilePath
		}
		chunkIDs = mergeUnique(chunkIDs, s.SourceChunkIDs)
	}
	chunkIDs = boundFIFO(chunkIDs, chunkIDMax)

	return kg.Entity{
		Name:           targetName,
		Type:           entityType,
		Description:    description,
		SourceChunkIDs: chunkIDs,
		DocumentID:     documentID,
		FilePath:       filePath,
		ProjectID:      projectID,
	}
}

// rewireRelations rewrites endpoints naming a merged source onto the
// target, drops self-loops the rewrite produces, and deduplicates the
// remainder by normalized unordered pair.
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

func boundFIFO(ids []string, max int) []string {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	out := make([]string, max)
	copy(out, ids[len(ids)-max:])
	return out
}
