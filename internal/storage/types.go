package storage

import (
	"errors"
	"sort"
	"strings"

	"github.com/scrypster/vibegraph/pkg/types"
)

var (
	// ErrNotFound indicates that the requested vibe or edge endpoint was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidEmbedding indicates an embedding with an unsupported dimension
	// or a non-finite element.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrCapacityExceeded indicates the store already holds MaxVibes vibes.
	ErrCapacityExceeded = errors.New("graph capacity exceeded")
)

const (
	// DefaultMaxVibes caps the number of stored vibes.
	DefaultMaxVibes = 100_000

	// DefaultRecentLimit is used by FindRecent when limit <= 0.
	DefaultRecentLimit = 50

	// DefaultTopK is used by FindByEmbedding when topK <= 0.
	DefaultTopK = 10
)

// DefaultDimensions are the embedding lengths produced by the supported
// providers (nomic-embed-text and text-embedding-3-small).
var DefaultDimensions = []int{768, 1536}

// Options configures the limits shared by every GraphStore implementation.
type Options struct {
	// MaxVibes is the maximum number of vibes (default: 100,000).
	MaxVibes int

	// Dimensions is the whitelist of accepted embedding lengths.
	Dimensions []int
}

// DefaultOptions returns Options with the default capacity and dimension whitelist.
func DefaultOptions() Options {
	return Options{
		MaxVibes:   DefaultMaxVibes,
		Dimensions: append([]int(nil), DefaultDimensions...),
	}
}

// Normalize fills unset fields with defaults.
func (o *Options) Normalize() {
	if o.MaxVibes <= 0 {
		o.MaxVibes = DefaultMaxVibes
	}
	if len(o.Dimensions) == 0 {
		o.Dimensions = append([]int(nil), DefaultDimensions...)
	}
}

// ScoredVibe pairs a vibe with its similarity to a query vector.
type ScoredVibe struct {
	Vibe       *types.Vibe
	Similarity float64
}

// SortScored orders results by similarity descending, breaking ties by id so
// that results are deterministic.
func SortScored(results []ScoredVibe) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Vibe.ID < results[j].Vibe.ID
	})
}

// KeywordSet lower-cases and de-duplicates keywords, dropping blanks.
func KeywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// KeywordOverlap counts how many of v's keywords are in set.
func KeywordOverlap(v *types.Vibe, set map[string]struct{}) int {
	n := 0
	seen := make(map[string]struct{}, len(v.Keywords))
	for _, k := range v.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := set[k]; ok {
			n++
		}
	}
	return n
}

// SortByOverlap orders keyword matches by overlap count descending, then by
// Timestamp descending.
func SortByOverlap(vibes []*types.Vibe, overlap map[string]int) {
	sort.SliceStable(vibes, func(i, j int) bool {
		oi, oj := overlap[vibes[i].ID], overlap[vibes[j].ID]
		if oi != oj {
			return oi > oj
		}
		return vibes[i].Timestamp.After(vibes[j].Timestamp)
	})
}
