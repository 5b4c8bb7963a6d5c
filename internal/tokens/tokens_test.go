package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountEmpty(t *testing.T) {
	assert.Equal(t, 0, Count(""))
}

func TestCountShortNonEmpty(t *testing.T) {
	assert.Equal(t, 1, Count("hi"))
}

func TestCountScalesWithLength(t *testing.T) {
	text := strings.Repeat("a", 400)
	assert.Equal(t, 100, Count(text))
}

func TestCountMultibyteRunes(t *testing.T) {
	// 8 multi-byte runes should count runes, not bytes.
	text := strings.Repeat("日", 8)
	assert.Equal(t, 2, Count(text))
}

func TestTruncateToTokensNoop(t *testing.T) {
	text := "short text"
	assert.Equal(t, text, TruncateToTokens(text, 100))
}

func TestTruncateToTokensCuts(t *testing.T) {
	text := strings.Repeat("a", 400)
	truncated := TruncateToTokens(text, 10)
	assert.LessOrEqual(t, Count(truncated), 10)
	assert.Equal(t, 40, len(truncated))
}

func TestTruncateToTokensZeroOrNegative(t *testing.T) {
	assert.Equal(t, "", TruncateToTokens("anything", 0))
	assert.Equal(t, "", TruncateToTokens("anything", -5))
}

func TestTruncateToTokensPreservesRuneBoundary(t *testing.T) {
	text := strings.Repeat("日", 20)
	truncated := TruncateToTokens(text, 2)
	for _, r := range truncated {
		assert.Equal(t, '日', r)
	}
}

func TestSplitBudgetSumsToTotal(t *testing.T) {
	out, err := SplitBudget(100, []float64{0.4, 0.4, 0.2})
	require.NoError(t, err)
	require.Len(t, out, 3)
	sum := 0
	for _, v := range out {
		sum += v
	}
	assert.Equal(t, 100, sum)
	assert.Equal(t, 40, out[0])
	assert.Equal(t, 40, out[1])
}

func TestSplitBudgetRejectsBadSum(t *testing.T) {
	_, err := SplitBudget(100, []float64{0.5, 0.2})
	assert.Error(t, err)
}

func TestSplitBudgetRejectsNegative(t *testing.T) {
	_, err := SplitBudget(100, []float64{1.2, -0.2})
	assert.Error(t, err)
}

func TestSplitBudgetRejectsEmpty(t *testing.T) {
	_, err := SplitBudget(100, nil)
	assert.Error(t, err)
}

func TestSplitBudgetSingleRatio(t *testing.T) {
	out, err := SplitBudget(100, []float64{1.0})
	require.NoError(t, err)
	assert.Equal(t, []int{100}, out)
}
