package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	a, err := e.Embed(ctx, "rates rose and tech sold off")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "rates rose and tech sold off")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHashEmbedder(128)
	vec, err := e.Embed(context.Background(), "strong earnings beat with raised guidance")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(64)
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestHashEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewHashEmbedder(512)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "inflation data pushed yields higher and growth stocks fell")
	near, _ := e.Embed(ctx, "inflation data pushed yields higher and value stocks fell")
	far, _ := e.Embed(ctx, "the quarterly dividend was declared payable in march")

	cos := func(a, b []float32) float64 {
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}

	assert.Greater(t, cos(base, near), cos(base, far))
}

func TestHashEmbedderDefaultDims(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, 1536, e.Dimensions())
}
