package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memKey struct{ projectID, id string }

// InMemory is a VectorStore backed by brute-force cosine similarity
// over a map. Used in tests and as the default adapter when no durable
// backend is configured.
type InMemory struct {
	mu      sync.RWMutex
	records map[memKey]Record
}

// NewInMemory returns an empty in-memory vector store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[memKey]Record)}
}

func (m *InMemory) Upsert(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(r.Vector))
	copy(cp, r.Vector)
	r.Vector = cp
	m.records[memKey{r.ProjectID, r.ID}] = r
	return nil
}

func (m *InMemory) UpsertBatch(ctx context.Context, rs []Record) error {
	for _, r := range rs {
		if err := m.Upsert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *InMemory) Delete(_ context.Context, projectID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memKey{projectID, id})
	return nil
}

func (m *InMemory) DeleteBatch(ctx context.Context, projectID string, ids []string) error {
	for _, id := range ids {
		if err := m.Delete(ctx, projectID, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *InMemory) Search(_ context.Context, projectID string, kind Kind, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	qnorm := norm(query)
	results := make([]Result, 0)
	for key, r := range m.records {
		if key.projectID != projectID || r.Kind != kind {
			continue
		}
		score := cosine(query, r.Vector, qnorm)
		results = append(results, Result{ID: r.ID, RefID: r.RefID, Kind: r.Kind, Score: score, Metadata: r.Metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *InMemory) ChunkIDsByDocument(_ context.Context, projectID, documentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for key, r := range m.records {
		if key.projectID == projectID && r.Kind == KindChunk && r.DocumentID == documentID {
			out = append(out, r.RefID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}

var _ VectorStore = (*InMemory)(nil)
