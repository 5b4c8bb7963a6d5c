package llmport

import (
	"context"
	"strings"
)

// Fake is an in-process Completer and Embedder used by tests across the
// engine's packages. Responses are looked up by exact prompt match, or
// failing that by any key that is a substring of the prompt; when
// several keys match, which one wins follows map iteration order and is
// not defined.
type Fake struct {
	Responses map[string]string
	Calls     []string
	Dim       int
}

// NewFake returns a Fake with the given responses, matched as described
// on Fake.
func NewFake(responses map[string]string) *Fake {
	return &Fake{Responses: responses, Dim: 8}
}

func (f *Fake) Complete(_ context.Context, prompt string, _ string, _ map[string]any) (string, error) {
	f.Calls = append(f.Calls, prompt)
	if r, ok := f.Responses[prompt]; ok {
		return r, nil
	}
	for k, r := range f.Responses {
		if strings.Contains(prompt, k) {
			return r, nil
		}
	}
	return "", nil
}

func (f *Fake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, f.Dim)
	}
	return out, nil
}

func (f *Fake) Dimensions() int { return f.Dim }

// deterministicVector produces a stable pseudo-embedding from text so
// that tests can assert on similarity ordering without a real model.
func deterministicVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for i, r := range text {
		vec[i%dim] += float32(r%31) / 31
	}
	return vec
}

var (
	_ Completer = (*Fake)(nil)
	_ Embedder  = (*Fake)(nil)
)
