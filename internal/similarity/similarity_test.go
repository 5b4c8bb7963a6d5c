package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/kg"
)

func TestScoreIdenticalNamesIsOne(t *testing.T) {
	c := New()
	s := c.Score(kg.Entity{Name: "Acme Corporation", Type: "ORGANIZATION"}, kg.Entity{Name: "Acme Corporation", Type: "ORGANIZATION"})
	assert.InDelta(t, 1.0, s.Final, 0.01)
}

func TestScoreHardTypeGate(t *testing.T) {
	c := New()
	s := c.Score(kg.Entity{Name: "Acme", Type: "ORGANIZATION"}, kg.Entity{Name: "Acme", Type: "PERSON"})
	assert.Equal(t, 0.0, s.Final)
}

func TestScoreEmptyTypeDoesNotGate(t *testing.T) {
	c := New()
	s := c.Score(kg.Entity{Name: "Acme", Type: ""}, kg.Entity{Name: "Acme", Type: "ORGANIZATION"})
	assert.Greater(t, s.Final, 0.9)
}

func TestScoreTypeGateCaseInsensitive(t *testing.T) {
	c := New()
	s := c.Score(kg.Entity{Name: "Acme", Type: "organization"}, kg.Entity{Name: "Acme", Type: "ORGANIZATION"})
	assert.Greater(t, s.Final, 0.9)
}

func TestScoreAbbreviation(t *testing.T) {
	c := New()
	s := c.Score(kg.Entity{Name: "NYC", Type: "LOCATION"}, kg.Entity{Name: "New York City", Type: "LOCATION"})
	assert.Equal(t, 1.0, s.Abbreviation)
}

func TestScoreDissimilarNamesIsLow(t *testing.T) {
	c := New()
	s := c.Score(kg.Entity{Name: "Apple Inc", Type: "ORGANIZATION"}, kg.Entity{Name: "Banana Republic", Type: "ORGANIZATION"})
	assert.Less(t, s.Final, 0.4)
}

func TestIsMatchAgreesWithScore(t *testing.T) {
	c := New()
	e1 := kg.Entity{Name: "Acme Corp", Type: "ORGANIZATION"}
	e2 := kg.Entity{Name: "Acme Corporation", Type: "ORGANIZATION"}

	full := c.Score(e1, e2)
	partial, ok := c.IsMatch(e1, e2, 0.4)
	require.True(t, ok)
	assert.InDelta(t, full.Final, partial.Final, 0.15)
}

func TestIsMatchEarlyTerminationMatchesFullEvaluation(t *testing.T) {
	cEarly := New(WithEarlyTerminationRatio(0.75))
	cFull := New(WithEarlyTerminationRatio(0))
	e1 := kg.Entity{Name: "Apple Inc", Type: "ORGANIZATION"}
	e2 := kg.Entity{Name: "Zebra Holdings", Type: "ORGANIZATION"}

	_, earlyMatch := cEarly.IsMatch(e1, e2, 0.9)
	_, fullMatch := cFull.IsMatch(e1, e2, 0.9)
	assert.Equal(t, fullMatch, earlyMatch)
	assert.False(t, fullMatch)
}

func TestValidateWeightsRejectsBadSum(t *testing.T) {
	w := DefaultWeights()
	w.Jaccard = 0.9
	assert.Error(t, ValidateWeights(w))
}

func TestValidateWeightsAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateWeights(DefaultWeights()))
}

func TestLengthPenaltySymmetry(t *testing.T) {
	assert.Equal(t, lengthPenalty("abc", "abcdef"), lengthPenalty("abcdef", "abc"))
}

func TestJaccardEmptyBoth(t *testing.T) {
	assert.Equal(t, 1.0, jaccard(nil, nil))
}

func TestContainmentSubset(t *testing.T) {
	assert.Equal(t, 1.0, containment("new york", "new york city"))
}

func TestContainmentNoSubstringRelation(t *testing.T) {
	assert.Equal(t, 0.0, containment("city of new york", "new york city"))
}

func TestNormalizeStripsOuterQuotes(t *testing.T) {
	assert.Equal(t, "acme corp", Normalize(`"Acme Corp"`, 500))
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "new york city", Normalize("  New   York\tCity  ", 500))
}

func TestNormalizeKeepsInternalHyphens(t *testing.T) {
	assert.Equal(t, "jean-paul sartre", Normalize("Jean-Paul Sartre", 500))
}

func TestNormalizeDropsOtherPunctuation(t *testing.T) {
	assert.Equal(t, "acme inc", Normalize("Acme, Inc.", 500))
}

func TestNormalizeTruncatesToMaxLen(t *testing.T) {
	got := Normalize("abcdefgh", 4)
	assert.Equal(t, "abcd", got)
}
