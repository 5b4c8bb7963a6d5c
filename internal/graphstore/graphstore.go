// Package graphstore defines the GraphStore port and its adapters: the
// durable home for entities and relations, generalized from a plain
// node/edge graph into one that understands entity types, descriptions,
// project scoping, and bounded-depth neighbor traversal.
package graphstore

import (
	"context"
	"fmt"
	"strings"

	"ragcore/internal/kg"
)

// GraphStore is the port the rest of the engine depends on. Entities
// are addressed by (ProjectID, Name); relations by (ProjectID, SrcName,
// TgtName). A self-loop (case-insensitively equal source and target) is
// rejected by every adapter — entities never point at themselves.
type GraphStore interface {
	UpsertEntity(ctx context.Context, e kg.Entity) error
	UpsertEntities(ctx context.Context, es []kg.Entity) error
	GetEntity(ctx context.Context, projectID, name string) (kg.Entity, bool, error)
	DeleteEntity(ctx context.Context, projectID, name string) error

	UpsertRelation(ctx context.Context, r kg.Relation) error
	UpsertRelations(ctx context.Context, rs []kg.Relation) error
	GetRelation(ctx context.Context, projectID, src, tgt string) (kg.Relation, bool, error)
	DeleteRelation(ctx context.Context, projectID, src, tgt string) error

	// Neighbors returns the names of entities directly connected to name
	// in either direction.
	Neighbors(ctx context.Context, projectID, name string) ([]string, error)

	// RelationsOf returns every relation touching name, as source or target.
	RelationsOf(ctx context.Context, projectID, name string) ([]kg.Relation, error)

	// EntitiesBySourceChunk returns every entity whose SourceChunkIDs
	// includes chunkID, the reverse index used by document deletion to
	// find what a document contributed to the graph.
	EntitiesBySourceChunk(ctx context.Context, projectID, chunkID string) ([]kg.Entity, error)

	// RelationsBySourceChunk is EntitiesBySourceChunk's sibling for relations.
	RelationsBySourceChunk(ctx context.Context, projectID, chunkID string) ([]kg.Relation, error)

	// AllEntities returns every entity in a project, used by ExportGraph.
	AllEntities(ctx context.Context, projectID string) ([]kg.Entity, error)

	// AllRelations returns every relation in a project, used by ExportGraph.
	AllRelations(ctx context.Context, projectID string) ([]kg.Relation, error)
}

// ErrSelfLoop is returned when a relation's source and target name are
// the same entity. Self-loops are never valid in this graph: an entity
// cannot relate to itself.
var ErrSelfLoop = fmt.Errorf("graphstore: relation source and target must differ")

// ValidateRelation enforces the self-loop invariant shared by every
// adapter's UpsertRelation.
func ValidateRelation(r kg.Relation) error {
	if strings.EqualFold(strings.TrimSpace(r.SrcName), strings.TrimSpace(r.TgtName)) {
		return ErrSelfLoop
	}
	return nil
}

// BFS performs a breadth-first traversal of the graph starting at
// rootNames, visiting at most maxNodes entities and expanding at most
// maxDepth hops outward. It returns the visited entities (including the
// roots) and every relation whose endpoints are both visited.
func BFS(ctx context.Context, store GraphStore, projectID string, rootNames []string, maxDepth, maxNodes int) ([]kg.Entity, []kg.Relation, error) {
	if maxDepth < 0 {
		maxDepth = 0
	}
	if maxNodes <= 0 {
		maxNodes = len(rootNames)
	}

	visited := make(map[string]struct{})
	var order []string
	queue := make([]struct {
		name  string
		depth int
	}, 0, len(rootNames))

	for _, r := range rootNames {
		if _, ok := visited[r]; ok {
			continue
		}
		visited[r] = struct{}{}
		order = append(order, r)
		queue = append(queue, struct {
			name  string
			depth int
		}{r, 0})
	}

	for len(queue) > 0 && len(order) < maxNodes {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		neighbors, err := store.Neighbors(ctx, projectID, cur.name)
		if err != nil {
			return nil, nil, fmt.Errorf("graphstore: BFS neighbors of %q: %w", cur.name, err)
		}
		for _, n := range neighbors {
			if len(order) >= maxNodes {
				break
			}
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			order = append(order, n)
			queue = append(queue, struct {
				name  string
				depth int
			}{n, cur.depth + 1})
		}
	}

	entities := make([]kg.Entity, 0, len(order))
	for _, name := range order {
		e, ok, err := store.GetEntity(ctx, projectID, name)
		if err != nil {
			return nil, nil, fmt.Errorf("graphstore: BFS get entity %q: %w", name, err)
		}
		if ok {
			entities = append(entities, e)
		}
	}

	relSeen := make(map[string]struct{})
	var relations []kg.Relation
	for _, name := range order {
		rs, err := store.RelationsOf(ctx, projectID, name)
		if err != nil {
			return nil, nil, fmt.Errorf("graphstore: BFS relations of %q: %w", name, err)
		}
		for _, r := range rs {
			if _, srcOK := visited[r.SrcName]; !srcOK {
				continue
			}
			if _, tgtOK := visited[r.TgtName]; !tgtOK {
				continue
			}
			key := r.SrcName + "\x00" + r.TgtName
			if _, seen := relSeen[key]; seen {
				continue
			}
			relSeen[key] = struct{}{}
			relations = append(relations, r)
		}
	}

	return entities, relations, nil
}
