package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic embedder for tests and offline development.
// It builds a vector by summing hash-seeded unit vectors for each character
// bigram of the text, so texts sharing substrings come out with higher
// cosine similarity than unrelated texts, without any model behind it.
type Mock struct {
	dims int
}

// NewMock creates a mock embedder with the given dimensionality.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = 384
	}
	return &Mock{dims: dims}
}

func (m *Mock) Embed(ctx context.Context, text string) (Vector, error) {
	vec := make([]float32, m.dims)
	for _, gram := range bigrams(text) {
		addHashed(vec, gram)
	}
	if len(vec) > 0 && isZero(vec) {
		addHashed(vec, text)
	}
	return normalize(vec), nil
}

func (m *Mock) Dims() int { return m.dims }

func bigrams(text string) []string {
	runes := []rune(text)
	if len(runes) < 2 {
		return []string{string(runes)}
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}

// addHashed accumulates a pseudo-random unit contribution seeded by s.
func addHashed(vec []float32, s string) {
	h := fnv.New64a()
	h.Write([]byte(s))
	seed := h.Sum64()
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / n
	}
	return out
}
