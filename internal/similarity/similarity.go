// Package similarity implements the entity-name similarity calculator:
// six string-similarity metrics combined into a single weighted score,
// gated by entity type and optimized with early termination.
package similarity

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"ragcore/internal/kg"
)

// Weights assigns a contribution to each of the six metrics. Sum should
// be 1.0 +/- 0.01; callers (typically the config layer) are responsible
// for validating that before constructing a Calculator.
type Weights struct {
	Jaccard       float64
	Containment   float64
	Levenshtein   float64
	Abbreviation  float64
	TokenOverlap  float64
	LengthPenalty float64
}

// DefaultWeights mirrors the specification's documented defaults.
func DefaultWeights() Weights {
	return Weights{
		Jaccard:       0.25,
		Containment:   0.20,
		Levenshtein:   0.25,
		Abbreviation:  0.15,
		TokenOverlap:  0.10,
		LengthPenalty: 0.05,
	}
}

// Sum returns the sum of all six weights.
func (w Weights) Sum() float64 {
	return w.Jaccard + w.Containment + w.Levenshtein + w.Abbreviation + w.TokenOverlap + w.LengthPenalty
}

// Calculator computes the combined similarity score for a pair of entity
// names. It is stateless and safe for concurrent use.
type Calculator struct {
	weights        Weights
	earlyTermRatio float64
	lengthRatioK   float64
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithWeights overrides the default metric weights.
func WithWeights(w Weights) Option {
	return func(c *Calculator) { c.weights = w }
}

// WithEarlyTerminationRatio switches IsMatch's early exit on or off: any
// value above 0 lets IsMatch stop as soon as the partial score plus the
// weight of every metric not yet evaluated falls below the threshold.
// The magnitude of the value is not otherwise used. 0 disables early
// termination. Default 0.75.
func WithEarlyTerminationRatio(ratio float64) Option {
	return func(c *Calculator) { c.earlyTermRatio = ratio }
}

// WithLengthRatioK sets the length-ratio early-termination constant k:
// pairs whose normalized-name length difference exceeds k times the
// longer name's length are scored 0 without evaluating the rest of the
// metrics, unless an abbreviation relationship holds between them.
// 0 disables the check. Default 0.75.
func WithLengthRatioK(k float64) Option {
	return func(c *Calculator) { c.lengthRatioK = k }
}

// New builds a Calculator with the given options applied over defaults.
func New(opts ...Option) *Calculator {
	c := &Calculator{
		weights:        DefaultWeights(),
		earlyTermRatio: 0.75,
		lengthRatioK:   0.75,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// metricOrder lists the six metrics in cheapest-first order, used for the
// early-termination optimization: the calculator accumulates the
// maximum possible remaining contribution and bails as soon as it can
// prove the threshold is unreachable.
type metricFunc struct {
	name   string
	weight func(Weights) float64
	score  func(norm1, norm2 string, tokens1, tokens2 []string) float64
}

var metricOrder = []metricFunc{
	{"length_penalty", func(w Weights) float64 { return w.LengthPenalty }, func(n1, n2 string, _, _ []string) float64 { return lengthPenalty(n1, n2) }},
	{"jaccard", func(w Weights) float64 { return w.Jaccard }, func(_, _ string, t1, t2 []string) float64 { return jaccard(t1, t2) }},
	{"containment", func(w Weights) float64 { return w.Containment }, func(n1, n2 string, _, _ []string) float64 { return containment(n1, n2) }},
	{"token_overlap", func(w Weights) float64 { return w.TokenOverlap }, func(_, _ string, t1, t2 []string) float64 { return tokenOverlap(t1, t2) }},
	{"abbreviation", func(w Weights) float64 { return w.Abbreviation }, func(n1, n2 string, t1, t2 []string) float64 { return abbreviation(n1, n2, t1, t2) }},
	{"levenshtein", func(w Weights) float64 { return w.Levenshtein }, func(n1, n2 string, _, _ []string) float64 { return levenshteinSim(n1, n2) }},
}

// Score computes the weighted similarity between two entities. If both
// types are non-empty and differ, the hard type gate applies and Score
// returns a zero-value SimilarityScore with Final 0 without computing
// any metric — entities of genuinely different types are never merged.
func (c *Calculator) Score(e1, e2 kg.Entity) kg.SimilarityScore {
	out := kg.SimilarityScore{Name1: e1.Name, Name2: e2.Name, Type1: e1.Type, Type2: e2.Type}
	if !sameType(e1.Type, e2.Type) {
		return out
	}

	n1, n2 := normalize(e1.Name), normalize(e2.Name)
	if n1 == n2 && n1 != "" {
		out.Jaccard, out.Containment, out.Levenshtein, out.Abbreviation, out.Final = 1, 1, 1, 1, 1
		return out
	}

	t1, t2 := tokenize(n1), tokenize(n2)

	if c.lengthRatioK > 0 && lengthRatioExceeded(n1, n2, c.lengthRatioK) && abbreviation(n1, n2, t1, t2) == 0 {
		return out
	}

	// Score always evaluates every metric; early termination against a
	// threshold is only meaningful in IsMatch below.
	var weighted float64
	for _, m := range metricOrder {
		w := m.weight(c.weights)
		v := m.score(n1, n2, t1, t2)
		weighted += w * v
		switch m.name {
		case "jaccard":
			out.Jaccard = v
		case "containment":
			out.Containment = v
		case "levenshtein":
			out.Levenshtein = v
		case "abbreviation":
			out.Abbreviation = v
		}
	}
	out.Final = weighted
	return out
}

// IsMatch reports whether two entities' similarity meets or exceeds
// threshold, short-circuiting metric computation once the remaining
// weight can no longer close the gap to the threshold even in the best
// case. This mirrors Score's result for entities that do match, but can
// return false without evaluating every metric.
func (c *Calculator) IsMatch(e1, e2 kg.Entity, threshold float64) (kg.SimilarityScore, bool) {
	out := kg.SimilarityScore{Name1: e1.Name, Name2: e2.Name, Type1: e1.Type, Type2: e2.Type}
	if !sameType(e1.Type, e2.Type) {
		return out, false
	}

	n1, n2 := normalize(e1.Name), normalize(e2.Name)
	if n1 == n2 && n1 != "" {
		out.Jaccard, out.Containment, out.Levenshtein, out.Abbreviation, out.Final = 1, 1, 1, 1, 1
		return out, true
	}

	t1, t2 := tokenize(n1), tokenize(n2)

	if c.lengthRatioK > 0 && lengthRatioExceeded(n1, n2, c.lengthRatioK) && abbreviation(n1, n2, t1, t2) == 0 {
		return out, false
	}

	var totalWeight float64
	for _, m := range metricOrder {
		totalWeight += m.weight(c.weights)
	}

	var weighted float64
	remaining := totalWeight
	for _, m := range metricOrder {
		w := m.weight(c.weights)
		v := m.score(n1, n2, t1, t2)
		weighted += w * v
		remaining -= w

		switch m.name {
		case "jaccard":
			out.Jaccard = v
		case "containment":
			out.Containment = v
		case "levenshtein":
			out.Levenshtein = v
		case "abbreviation":
			out.Abbreviation = v
		}

		if c.earlyTermRatio > 0 {
			bestPossible := weighted + remaining
			if bestPossible < threshold {
				out.Final = weighted
				return out, false
			}
		}
	}
	out.Final = weighted
	return out, weighted >= threshold
}

func sameType(t1, t2 string) bool {
	if t1 == "" || t2 == "" {
		return true
	}
	return strings.EqualFold(t1, t2)
}

// defaultMaxNameLength is the normalization truncation length used when
// callers don't have a configured entity-name-max-length on hand (the
// six metrics above all operate on already-short entity names, so the
// config value rarely matters to them).
const defaultMaxNameLength = 500

// Normalize applies the full entity-name normalization pipeline: strip
// a single layer of outer quotes, trim, collapse internal whitespace,
// drop ASCII punctuation (keeping internal hyphens), lowercase, and
// truncate to maxLen runes. Used both by the similarity metrics and by
// the extractor when tagging freshly parsed entity names.
func Normalize(name string, maxLen int) string {
	s := strings.TrimSpace(name)
	s = stripOuterQuotes(s)
	s = strings.Join(strings.Fields(s), " ")
	s = stripPunctuation(s)
	s = strings.ToLower(s)
	if maxLen > 0 {
		runes := []rune(s)
		if len(runes) > maxLen {
			s = string(runes[:maxLen])
		}
	}
	return s
}

func stripOuterQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i, r := range runes {
		if isASCIIPunct(r) {
			if r == '-' && i > 0 && i < len(runes)-1 {
				b.WriteRune(r)
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isASCIIPunct(r rune) bool {
	return r >= '!' && r <= '/' || r >= ':' && r <= '@' || r >= '[' && r <= '`' || r >= '{' && r <= '~'
}

func normalize(name string) string {
	return Normalize(name, defaultMaxNameLength)
}

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func jaccard(a, b []string) float64 {
	setA, setB := toSet(a), toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := intersectCount(setA, setB)
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// containment reports whether one normalized name is a literal substring
// of the other, e.g. "new york" in "new york city". It is not token-set
// based: "city of new york" contains no such substring relation to "new
// york city" and scores 0 even though their token sets overlap heavily.
func containment(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}
	return 0
}

func tokenOverlap(a, b []string) float64 {
	setA, setB := toSet(a), toSet(b)
	minLen := len(setA)
	if len(setB) < minLen {
		minLen = len(setB)
	}
	if minLen == 0 {
		return 0
	}
	inter := intersectCount(setA, setB)
	return float64(inter) / float64(minLen)
}

func lengthPenalty(a, b string) float64 {
	la, lb := len(a), len(b)
	if la == 0 && lb == 0 {
		return 1
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(maxLen)
}

// lengthRatioExceeded reports whether a and b's length difference exceeds
// k times the longer string's length, the early-termination gate for
// name pairs too dissimilar in length to plausibly refer to the same
// entity (abbreviations are the deliberate exception, handled by callers).
func lengthRatioExceeded(a, b string, k float64) bool {
	la, lb := len(a), len(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return false
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) > k*float64(maxLen)
}

func abbreviation(n1, n2 string, t1, t2 []string) float64 {
	if isAbbreviation(n1, t2) || isAbbreviation(n2, t1) {
		return 1
	}
	return 0
}

// isAbbreviation reports whether candidate (with spaces stripped) equals
// the initials of tokens, e.g. "nyc" vs ["new", "york", "city"].
func isAbbreviation(candidate string, tokens []string) bool {
	compact := strings.ReplaceAll(candidate, " ", "")
	if compact == "" || len(tokens) < 2 {
		return false
	}
	var initials strings.Builder
	for _, t := range tokens {
		r := []rune(t)
		if len(r) == 0 {
			continue
		}
		initials.WriteRune(r[0])
	}
	return strings.EqualFold(compact, initials.String())
}

func levenshteinSim(a, b string) float64 {
	if a == b {
		return 1
	}
	dist, err := matchr.Levenshtein(a, b)
	if err != nil {
		// matchr only errors on internal allocation failure; treat as
		// maximally dissimilar rather than panicking.
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func intersectCount(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	count := 0
	for k := range a {
		if _, ok := b[k]; ok {
			count++
		}
	}
	return count
}

// ValidateWeights returns an error unless weights sum to 1.0 +/- 0.01.
func ValidateWeights(w Weights) error {
	if s := w.Sum(); s < 0.99 || s > 1.01 {
		return fmt.Errorf("similarity: weights must sum to 1.0 +/- 0.01, got %.4f", s)
	}
	return nil
}
