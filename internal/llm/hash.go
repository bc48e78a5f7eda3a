package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is an offline Embedder that maps tokens into a fixed number of
// buckets (feature hashing) and L2-normalizes the result. It needs no model
// and no corpus, so identical text always produces an identical vector.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of dimension size.
func NewHashEmbedder(dimension int) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be greater than 0, got %d", dimension)
	}
	return &HashEmbedder{dimension: dimension}, nil
}

// Dimension returns the size of produced vectors.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// EmbedTexts returns one vector per text.
func (e *HashEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	acc := make([]float64, e.dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimension))
		// The high bit picks the sign so colliding tokens tend to cancel.
		if sum>>63 == 1 {
			acc[bucket]--
		} else {
			acc[bucket]++
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

// tokenize lowercases text and splits it into runs of letters and digits.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
