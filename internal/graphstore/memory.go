package graphstore

import (
	"context"
	"sort"
	"sync"

	"ragcore/internal/kg"
)

type entityKey struct{ projectID, name string }
type relationKey struct{ projectID, src, tgt string }

// InMemory is a GraphStore backed by plain maps, guarded by a mutex.
// Used in tests and as the default adapter when no durable backend is
// configured.
type InMemory struct {
	mu        sync.RWMutex
	entities  map[entityKey]kg.Entity
	relations map[relationKey]kg.Relation
}

// NewInMemory returns an empty in-memory graph store.
func NewInMemory() *InMemory {
	return &InMemory{
		entities:  make(map[entityKey]kg.Entity),
		relations: make(map[relationKey]kg.Relation),
	}
}

func (g *InMemory) UpsertEntity(_ context.Context, e kg.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[entityKey{e.ProjectID, e.Name}] = e
	return nil
}

func (g *InMemory) UpsertEntities(ctx context.Context, es []kg.Entity) error {
	for _, e := range es {
		if err := g.UpsertEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (g *InMemory) GetEntity(_ context.Context, projectID, name string) (kg.Entity, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[entityKey{projectID, name}]
	return e, ok, nil
}

func (g *InMemory) DeleteEntity(_ context.Context, projectID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entities, entityKey{projectID, name})
	return nil
}

func (g *InMemory) UpsertRelation(_ context.Context, r kg.Relation) error {
	if err := ValidateRelation(r); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relations[relationKey{r.ProjectID, r.SrcName, r.TgtName}] = r
	return nil
}

func (g *InMemory) UpsertRelations(ctx context.Context, rs []kg.Relation) error {
	for _, r := range rs {
		if err := g.UpsertRelation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (g *InMemory) GetRelation(_ context.Context, projectID, src, tgt string) (kg.Relation, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.relations[relationKey{projectID, src, tgt}]
	return r, ok, nil
}

func (g *InMemory) DeleteRelation(_ context.Context, projectID, src, tgt string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.relations, relationKey{projectID, src, tgt})
	return nil
}

func (g *InMemory) Neighbors(_ context.Context, projectID, name string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := make(map[string]struct{})
	for k, r := range g.relations {
		if k.projectID != projectID {
			continue
		}
		if r.SrcName == name {
			set[r.TgtName] = struct{}{}
		}
		if r.TgtName == name {
			set[r.SrcName] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (g *InMemory) RelationsOf(_ context.Context, projectID, name string) ([]kg.Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []kg.Relation
	for k, r := range g.relations {
		if k.projectID == projectID && (r.SrcName == name || r.TgtName == name) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *InMemory) EntitiesBySourceChunk(_ context.Context, projectID, chunkID string) ([]kg.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []kg.Entity
	for k, e := range g.entities {
		if k.projectID != projectID {
			continue
		}
		if containsString(e.SourceChunkIDs, chunkID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (g *InMemory) RelationsBySourceChunk(_ context.Context, projectID, chunkID string) ([]kg.Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []kg.Relation
	for k, r := range g.relations {
		if k.projectID != projectID {
			continue
		}
		if containsString(r.SourceChunkIDs, chunkID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *InMemory) AllEntities(_ context.Context, projectID string) ([]kg.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []kg.Entity
	for k, e := range g.entities {
		if k.projectID == projectID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *InMemory) AllRelations(_ context.Context, projectID string) ([]kg.Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []kg.Relation
	for k, r := range g.relations {
		if k.projectID == projectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SrcName != out[j].SrcName {
			return out[i].SrcName < out[j].SrcName
		}
		return out[i].TgtName < out[j].TgtName
	})
	return out, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

var _ GraphStore = (*InMemory)(nil)
