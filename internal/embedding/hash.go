package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/immigration-rag/backend/pkg/retry"
)

// Hash is an offline embedder using signed feature hashing of lower-cased
// words and word bigrams. Texts sharing vocabulary get similar vectors, which
// is enough for local runs and tests without a provider.
type Hash struct {
	dimensions int
}

func NewHash(dimensions int) *Hash {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Hash{dimensions: dimensions}
}

func (h *Hash) Model() string {
	return "feature-hash"
}

func (h *Hash) Dimensions() int {
	return h.dimensions
}

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	if len(words) == 0 {
		return nil, retry.Permanent(ErrEmptyInput)
	}

	vec := make([]float64, h.dimensions)
	for i, w := range words {
		h.add(vec, w, 1.0)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dimensions)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *Hash) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()

	idx := sum % uint64(h.dimensions)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
