package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithProjectRoundTrips(t *testing.T) {
	ctx := WithProject(context.Background(), "proj-1")
	got, ok := ProjectFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "proj-1", got)
}

func TestWithProjectEmptyIsNoop(t *testing.T) {
	ctx := WithProject(context.Background(), "")
	_, ok := ProjectFromContext(ctx)
	assert.False(t, ok)
}

func TestNoopMetricsDoesNotPanic(t *testing.T) {
	var m NoopMetrics
	m.IncCounter("x", nil)
	m.ObserveHistogram("y", 1.0, nil)
}

func TestSystemClockAdvances(t *testing.T) {
	c := SystemClock{}
	t1 := c.Now()
	t2 := c.Now()
	assert.False(t, t2.Before(t1))
}

func TestOTelMetricsDoesNotPanic(t *testing.T) {
	m := NewOTelMetrics("test")
	m.IncCounter("requests", map[string]string{"mode": "local"})
	m.ObserveHistogram("latency_ms", 12.5, map[string]string{"mode": "local"})
}

func TestZerologLoggerDoesNotPanic(t *testing.T) {
	var l ZerologLogger
	l.Info("hello", map[string]any{"k": "v"})
	l.Debug("debug", nil)
	l.Error("boom", map[string]any{"err": "x"})
}
