package storage

import (
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/pkg/types"
)

// ValidateEmbedding checks that vec has a whitelisted length and only finite
// elements. A nil or empty embedding is valid: embeddings are optional.
func ValidateEmbedding(vec []float32, dimensions []int) error {
	if len(vec) == 0 {
		return nil
	}
	return ValidateQueryVector(vec, dimensions)
}

// ValidateQueryVector applies the embedding rules to a search vector, where
// an empty vector is not acceptable.
func ValidateQueryVector(vec []float32, dimensions []int) error {
	if len(vec) == 0 {
		return goerr.Wrap(ErrInvalidEmbedding, "embedding is empty")
	}

	allowed := false
	for _, d := range dimensions {
		if len(vec) == d {
			allowed = true
			break
		}
	}
	if !allowed {
		return goerr.Wrap(ErrInvalidEmbedding, "unsupported embedding dimension",
			goerr.V("dimension", len(vec)),
			goerr.V("allowed", dimensions))
	}

	for i, x := range vec {
		f := float64(x)
		if math.IsNaN(f) {
			return goerr.Wrap(ErrInvalidEmbedding, "embedding contains NaN", goerr.V("index", i))
		}
		if math.IsInf(f, 0) {
			return goerr.Wrap(ErrInvalidEmbedding, "embedding contains Inf", goerr.V("index", i))
		}
	}
	return nil
}

// ValidateVibe checks the fields every backend requires before a write.
func ValidateVibe(v *types.Vibe, dimensions []int) error {
	if v == nil {
		return goerr.Wrap(ErrInvalidInput, "vibe is nil")
	}
	if strings.TrimSpace(v.ID) == "" {
		return goerr.Wrap(ErrInvalidInput, "vibe ID is required")
	}
	if strings.TrimSpace(v.Name) == "" {
		return goerr.Wrap(ErrInvalidInput, "vibe name is required", goerr.V("id", v.ID))
	}
	if err := ValidateEmbedding(v.Embedding, dimensions); err != nil {
		return goerr.Wrap(err, "vibe rejected", goerr.V("id", v.ID))
	}
	return nil
}

// ValidateEdge checks an edge before it is stored.
func ValidateEdge(e types.Edge) error {
	if e.From == "" || e.To == "" {
		return goerr.Wrap(ErrInvalidInput, "edge endpoints are required")
	}
	if !e.Type.IsValid() {
		return goerr.Wrap(ErrInvalidInput, "unknown edge type", goerr.V("type", e.Type))
	}
	return nil
}

// Prepare validates v and returns the normalized deep copy a backend should
// persist: numeric state clamped, category resolved, and unset timestamps
// filled from now (FirstSeen from Timestamp, LastSeen from FirstSeen).
func Prepare(v *types.Vibe, dimensions []int, now time.Time) (*types.Vibe, error) {
	if err := ValidateVibe(v, dimensions); err != nil {
		return nil, err
	}
	stored := v.Clone()
	stored.Normalize()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = now
	}
	if stored.FirstSeen.IsZero() {
		stored.FirstSeen = stored.Timestamp
	}
	if stored.LastSeen.IsZero() {
		stored.LastSeen = stored.FirstSeen
	}
	return stored, nil
}
