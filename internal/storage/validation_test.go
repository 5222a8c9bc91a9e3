package storage

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vibegraph/pkg/types"
)

func vec(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i%7) + 0.5
	}
	return v
}

func TestValidateEmbedding_Dimensions(t *testing.T) {
	dims := DefaultDimensions

	for _, n := range []int{768, 1536} {
		assert.NoError(t, ValidateEmbedding(vec(n), dims), "dimension %d should be accepted", n)
	}
	for _, n := range []int{1, 384, 767, 769, 1024, 3072} {
		err := ValidateEmbedding(vec(n), dims)
		require.Error(t, err, "dimension %d should be rejected", n)
		assert.True(t, errors.Is(err, ErrInvalidEmbedding))
	}
}

func TestValidateEmbedding_EmptyIsOptional(t *testing.T) {
	assert.NoError(t, ValidateEmbedding(nil, DefaultDimensions))
	assert.ErrorIs(t, ValidateQueryVector(nil, DefaultDimensions), ErrInvalidEmbedding)
}

func TestValidateEmbedding_NonFinite(t *testing.T) {
	nan := vec(768)
	nan[10] = float32(math.NaN())
	err := ValidateEmbedding(nan, DefaultDimensions)
	require.ErrorIs(t, err, ErrInvalidEmbedding)
	assert.Contains(t, err.Error(), "NaN")

	inf := vec(1536)
	inf[0] = float32(math.Inf(-1))
	err = ValidateEmbedding(inf, DefaultDimensions)
	require.ErrorIs(t, err, ErrInvalidEmbedding)
	assert.Contains(t, err.Error(), "Inf")
}

func TestValidateEmbedding_CustomWhitelist(t *testing.T) {
	assert.NoError(t, ValidateEmbedding(vec(384), []int{384}))
	assert.ErrorIs(t, ValidateEmbedding(vec(768), []int{384}), ErrInvalidEmbedding)
}

func TestValidateVibe(t *testing.T) {
	assert.ErrorIs(t, ValidateVibe(nil, DefaultDimensions), ErrInvalidInput)
	assert.ErrorIs(t, ValidateVibe(&types.Vibe{Name: "x"}, DefaultDimensions), ErrInvalidInput)
	assert.ErrorIs(t, ValidateVibe(&types.Vibe{ID: "x"}, DefaultDimensions), ErrInvalidInput)
	assert.ErrorIs(t, ValidateVibe(&types.Vibe{ID: "x", Name: "x", Embedding: vec(3)}, DefaultDimensions), ErrInvalidEmbedding)
	assert.NoError(t, ValidateVibe(&types.Vibe{ID: "x", Name: "x"}, DefaultDimensions))
}

func TestValidateEdge(t *testing.T) {
	assert.NoError(t, ValidateEdge(types.Edge{From: "a", To: "b", Type: types.EdgeInfluences}))
	assert.ErrorIs(t, ValidateEdge(types.Edge{From: "a", Type: types.EdgeInfluences}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateEdge(types.Edge{From: "a", To: "b", Type: "likes"}), ErrInvalidInput)
}

func TestKeywordOverlap_CaseInsensitive(t *testing.T) {
	set := KeywordSet([]string{"Y2K", " retro ", ""})
	v := &types.Vibe{Keywords: []string{"y2k", "RETRO", "retro", "chrome"}}
	assert.Equal(t, 2, KeywordOverlap(v, set))
}

func TestOptionsNormalize(t *testing.T) {
	var o Options
	o.Normalize()
	assert.Equal(t, DefaultMaxVibes, o.MaxVibes)
	assert.Equal(t, []int{768, 1536}, o.Dimensions)
}
