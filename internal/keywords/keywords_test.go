package keywords

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/extractcache"
	"ragcore/internal/llmport"
)

func TestExtractParsesCommaSeparatedLists(t *testing.T) {
	fake := llmport.NewFake(map[string]string{
		"Extract search keywords": "HIGH_LEVEL: climate change, policy\nLOW_LEVEL: Paris Agreement, UN",
	})
	x := New(fake, nil)

	kw, err := x.Extract(context.Background(), "p1", "what is the Paris Agreement")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"climate change", "policy"}, kw.HighLevel)
	assert.ElementsMatch(t, []string{"Paris Agreement", "UN"}, kw.LowLevel)
}

func TestExtractToleratesLowercaseLabels(t *testing.T) {
	fake := llmport.NewFake(map[string]string{
		"Extract search keywords": "high_level: trade\nlow_level: WTO",
	})
	x := New(fake, nil)

	kw, err := x.Extract(context.Background(), "p1", "trade policy")
	require.NoError(t, err)
	assert.Equal(t, []string{"trade"}, kw.HighLevel)
	assert.Equal(t, []string{"WTO"}, kw.LowLevel)
}

func TestExtractEmptyResultReportsEmpty(t *testing.T) {
	fake := llmport.NewFake(nil)
	x := New(fake, nil)

	kw, err := x.Extract(context.Background(), "p1", "hello")
	require.NoError(t, err)
	assert.True(t, kw.Empty())
}

func TestExtractDedupesCaseInsensitively(t *testing.T) {
	fake := llmport.NewFake(map[string]string{
		"Extract search keywords": "HIGH_LEVEL: Trade, trade, TRADE",
	})
	x := New(fake, nil)

	kw, err := x.Extract(context.Background(), "p1", "q")
	require.NoError(t, err)
	assert.Len(t, kw.HighLevel, 1)
}

func TestExtractUsesCacheOnRepeatQuery(t *testing.T) {
	fake := llmport.NewFake(map[string]string{
		"Extract search keywords": "HIGH_LEVEL: a\nLOW_LEVEL: b",
	})
	cache := extractcache.NewInMemory()
	x := New(fake, cache)

	_, err := x.Extract(context.Background(), "p1", "same query")
	require.NoError(t, err)
	require.Len(t, fake.Calls, 1)

	_, err = x.Extract(context.Background(), "p1", "same query")
	require.NoError(t, err)
	assert.Len(t, fake.Calls, 1)
}

func TestParseKeywordsHandlesSemicolons(t *testing.T) {
	kw := parseKeywords("HIGH_LEVEL: a; b; c")
	assert.Equal(t, []string{"a", "b", "c"}, kw.HighLevel)
}

func TestParseKeywordsIgnoresUnlabeledLines(t *testing.T) {
	kw := parseKeywords("some preamble\nHIGH_LEVEL: a")
	assert.Equal(t, []string{"a"}, kw.HighLevel)
	assert.Empty(t, kw.LowLevel)
}
