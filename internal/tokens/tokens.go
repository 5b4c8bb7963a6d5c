// Package tokens implements the engine's token accounting: a
// deterministic, model-agnostic estimate of how many tokens a string
// costs, plus the truncation and budget-splitting helpers built on it.
//
// Token counts are approximate by design: the specification asks only for
// a deterministic counter within roughly 10% of a real tokenizer, not a
// faithful reimplementation of any specific model's BPE. Following the
// reference codebase's own estimator, this package uses a chars/4
// heuristic.
package tokens

import (
	"fmt"
	"unicode/utf8"
)

// charsPerToken is the divisor behind the chars/4 heuristic.
const charsPerToken = 4

// Count estimates the number of tokens in text.
func Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tok := n / charsPerToken
	if tok == 0 {
		tok = 1
	}
	return tok
}

// TruncateToTokens returns the longest prefix of text whose estimated
// token count is <= maxTokens, always cutting on a rune boundary.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Count(text) <= maxTokens {
		return text
	}
	maxRunes := maxTokens * charsPerToken
	runes := []rune(text)
	if maxRunes >= len(runes) {
		return text
	}
	return string(runes[:maxRunes])
}

// SplitBudget divides total tokens among ratios, in order. Ratios must
// sum to 1.0 within 1% or SplitBudget returns an error rather than
// silently rescaling. Rounding remainder is assigned to the last bucket
// so the returned values always sum to exactly total.
func SplitBudget(total int, ratios []float64) ([]int, error) {
	if len(ratios) == 0 {
		return nil, fmt.Errorf("tokens: SplitBudget requires at least one ratio")
	}
	var sum float64
	for _, r := range ratios {
		if r < 0 {
			return nil, fmt.Errorf("tokens: SplitBudget ratios must be non-negative, got %.4f", r)
		}
		sum += r
	}
	if sum < 0.99 || sum > 1.01 {
		return nil, fmt.Errorf("tokens: SplitBudget ratios must sum to 1.0 +/- 0.01, got %.4f", sum)
	}
	out := make([]int, len(ratios))
	assigned := 0
	for i, r := range ratios[:len(ratios)-1] {
		share := int(float64(total) * r)
		out[i] = share
		assigned += share
	}
	out[len(ratios)-1] = total - assigned
	return out, nil
}
