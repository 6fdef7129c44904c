package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, dependency-free embedder using token
// feature hashing. It stands in when no embedding provider is configured:
// recall quality is coarse but stable, which is all the offline toolset
// needs.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a feature-hash embedder with the given dimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 1536
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the embedding dimensionality.
func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

// Embed maps text to an L2-normalized vector. Tokens are lowercased words;
// each token bumps one bucket chosen by FNV-1a, with a sign bit from a
// second hash to reduce collisions canceling out.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
