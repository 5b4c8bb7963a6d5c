package llmport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCompleteExactMatch(t *testing.T) {
	f := NewFake(map[string]string{"hello": "world"})
	out, err := f.Complete(context.Background(), "hello", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "world", out)
}

func TestFakeCompleteSubstringMatch(t *testing.T) {
	f := NewFake(map[string]string{"extract entities": "Alice|PERSON"})
	out, err := f.Complete(context.Background(), "please extract entities from this text", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice|PERSON", out)
}

func TestFakeCompleteRecordsCalls(t *testing.T) {
	f := NewFake(nil)
	_, _ = f.Complete(context.Background(), "p1", "", nil)
	_, _ = f.Complete(context.Background(), "p2", "", nil)
	assert.Equal(t, []string{"p1", "p2"}, f.Calls)
}

func TestFakeEmbedDeterministic(t *testing.T) {
	f := NewFake(nil)
	v1, err := f.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	v2, err := f.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestFakeEmbedDifferentTextsDiffer(t *testing.T) {
	f := NewFake(nil)
	vecs, err := f.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestFakeDimensions(t *testing.T) {
	f := NewFake(nil)
	assert.Equal(t, 8, f.Dimensions())
}

func TestIsThinkingModel(t *testing.T) {
	assert.True(t, isThinkingModel("o1-preview"))
	assert.True(t, isThinkingModel("o4-mini"))
	assert.False(t, isThinkingModel("gpt-4o"))
	assert.False(t, isThinkingModel("o"))
}
