// Package rerank implements the reranker port: a narrow interface any
// cross-encoder or LLM-based reranking provider can satisfy, wrapped in
// a circuit breaker, timeout, and minimum-score filter so that a flaky
// or slow reranker degrades to identity ordering instead of failing
// retrieval outright.
package rerank

import (
	"context"
	"sort"
	"sync"
	"time"

	"ragcore/internal/kg"
	"ragcore/internal/observability"
)

// Provider is the narrow surface an external reranking backend
// implements: reorder items by relevance to query, returning a score
// per item in the same order as the input.
type Provider interface {
	Rerank(ctx context.Context, query string, items []kg.Item) ([]float64, error)
}

// breakerState is the circuit breaker's three states.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Reranker wraps a Provider with a timeout, a circuit breaker, and a
// minimum-score filter. It never returns an error: any failure mode
// (timeout, provider error, open circuit) degrades to returning items
// in their original order.
type Reranker struct {
	provider Provider
	logger   observability.Logger
	clock    observability.Clock

	timeout    time.Duration
	minScore   float64
	failThresh int
	cooldown   time.Duration

	mu        sync.Mutex
	state     breakerState
	failCount int
	openedAt  time.Time
}

// Option configures a Reranker.
type Option func(*Reranker)

func WithTimeout(d time.Duration) Option         { return func(r *Reranker) { r.timeout = d } }
func WithMinScore(s float64) Option              { return func(r *Reranker) { r.minScore = s } }
func WithBreakerFailThreshold(n int) Option      { return func(r *Reranker) { r.failThresh = n } }
func WithBreakerCooldown(d time.Duration) Option { return func(r *Reranker) { r.cooldown = d } }

// New builds a Reranker with 2s timeout, minScore 0.1, a 5-failure
// breaker, and a 60s cooldown by default.
func New(provider Provider, logger observability.Logger, clock observability.Clock, opts ...Option) *Reranker {
	r := &Reranker{
		provider:   provider,
		logger:     logger,
		clock:      clock,
		timeout:    2 * time.Second,
		minScore:   0.1,
		failThresh: 5,
		cooldown:   60 * time.Second,
		state:      stateClosed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank reorders items by the provider's scores, dropping anything
// below minScore. On timeout, provider error, or an open circuit it
// logs at WARN and returns items unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, items []kg.Item) []kg.Item {
	if len(items) == 0 {
		return items
	}
	if !r.allowRequest() {
		r.logger.Warn("reranker circuit open, using identity fallback", map[string]any{"items": len(items)})
		return items
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scores, err := r.provider.Rerank(cctx, query, items)
	if err != nil || len(scores) != len(items) {
		r.recordFailure()
		r.logger.Warn("reranker call failed, using identity fallback", map[string]any{"error": errString(err)})
		return items
	}
	r.recordSuccess()

	type scored struct {
		item  kg.Item
		score float64
	}
	ranked := make([]scored, 0, len(items))
	for i, item := range items {
		if scores[i] < r.minScore {
			continue
		}
		item.Score = scores[i]
		ranked = append(ranked, scored{item: item, score: scores[i]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]kg.Item, len(ranked))
	for i, s := range ranked {
		out[i] = s.item
	}
	return out
}

func (r *Reranker) allowRequest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateClosed:
		return true
	case stateOpen:
		if r.clock.Now().Sub(r.openedAt) >= r.cooldown {
			r.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	}
	return true
}

func (r *Reranker) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCount = 0
	r.state = stateClosed
}

func (r *Reranker) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCount++
	if r.state == stateHalfOpen || r.failCount >= r.failThresh {
		r.state = stateOpen
		r.openedAt = r.clock.Now()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
