package tokens

import (
	"context"
	"sync"

	"ragcore/internal/kg"
)

// Tracker accumulates kg.TokenUsage records for a single top-level
// request, building the kg.TokenSummary the orchestrator returns from
// IngestDocument and Query.
type Tracker struct {
	mu        sync.Mutex
	total     kg.TokenSummary
	breakdown map[string]kg.TokenUsage
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{breakdown: make(map[string]kg.TokenUsage)}
}

// Record adds one operation's token cost to the running total. Usages
// with the same OperationType+ModelName are accumulated into a single
// breakdown entry.
func (t *Tracker) Record(u kg.TokenUsage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.TotalInput += u.InputTokens
	t.total.TotalOutput += u.OutputTokens
	key := u.OperationType + "\x00" + u.ModelName
	existing := t.breakdown[key]
	existing.OperationType = u.OperationType
	existing.ModelName = u.ModelName
	existing.InputTokens += u.InputTokens
	existing.OutputTokens += u.OutputTokens
	existing.Timestamp = u.Timestamp
	t.breakdown[key] = existing
}

// Summary returns a snapshot of the accumulated totals.
func (t *Tracker) Summary() kg.TokenSummary {
	if t == nil {
		return kg.TokenSummary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := kg.TokenSummary{
		TotalInput:  t.total.TotalInput,
		TotalOutput: t.total.TotalOutput,
		Breakdown:   make(map[string]kg.TokenUsage, len(t.breakdown)),
	}
	for k, v := range t.breakdown {
		out.Breakdown[k] = v
	}
	return out
}

type trackerCtxKey struct{}

// WithTracker returns a context carrying tracker, picked up by the
// instrumented Completer/Embedder wrappers so every LLM and embedding
// call made during the request is attributed without threading the
// tracker through every intermediate call signature.
func WithTracker(ctx context.Context, tracker *Tracker) context.Context {
	return context.WithValue(ctx, trackerCtxKey{}, tracker)
}

// TrackerFromContext returns the Tracker stashed by WithTracker, or nil
// if none was set. Recording against a nil Tracker is a silent no-op.
func TrackerFromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerCtxKey{}).(*Tracker)
	return t
}
