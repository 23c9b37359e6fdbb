package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// defaultMockDimension keeps mock vectors small but expressive enough for
// retrieval tests.
const defaultMockDimension = 64

// MockEmbedder produces deterministic unit vectors derived from token
// hashes: texts sharing words land near each other, which makes retrieval
// behave plausibly without a provider.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder returns a mock embedder. A non-positive dimension uses
// the default.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = defaultMockDimension
	}
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Kind() string { return "mock" }

// Dimension returns the vector dimension this embedder produces.
func (e *MockEmbedder) Dimension() int { return e.dimension }

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

// embedOne sums a hashed bucket per word (CJK runes count as words) and
// L2-normalises the result.
func (e *MockEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)

	var word []rune
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(string(word)))
		vec[int(h.Sum32())%e.dimension] += 1
		word = word[:0]
	}

	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FA5:
			flush()
			word = append(word, r)
			flush()
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
