// Package types defines the core data structures for the vibegraph system.
// These types represent vibes (cultural signals), the typed edges between
// them, graph snapshots, and the query-side scenario and profile types used
// by the matching pipeline.
package types

import "strings"

// Category classifies a vibe. Each category carries a default half-life.
type Category string

// Vibe category constants
const (
	CategoryMeme      Category = "meme"
	CategoryEvent     Category = "event"
	CategoryTrend     Category = "trend"
	CategoryTopic     Category = "topic"
	CategorySentiment Category = "sentiment"
	CategoryAesthetic Category = "aesthetic"
	CategoryMovement  Category = "movement"
	CategoryCustom    Category = "custom"
)

// ValidCategories is a slice of all valid vibe categories for validation
var ValidCategories = []Category{
	CategoryMeme,
	CategoryEvent,
	CategoryTrend,
	CategoryTopic,
	CategorySentiment,
	CategoryAesthetic,
	CategoryMovement,
	CategoryCustom,
}

// IsValid reports whether c is one of ValidCategories. Matching is case-sensitive.
func (c Category) IsValid() bool {
	for _, valid := range ValidCategories {
		if c == valid {
			return true
		}
	}
	return false
}

// ParseCategory maps free-form input (typically LLM output) onto a Category.
// Unknown values map to CategoryCustom.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return CategoryCustom
}

// EdgeType is the type of a directed relation between two vibes.
type EdgeType string

// Edge type constants
const (
	EdgeRelated    EdgeType = "related"
	EdgeInfluences EdgeType = "influences"
	EdgeEvolvesTo  EdgeType = "evolves_to"
	EdgeConflicts  EdgeType = "conflicts"
	EdgeAmplifies  EdgeType = "amplifies"
)

// ValidEdgeTypes is a slice of all valid edge types for validation
var ValidEdgeTypes = []EdgeType{
	EdgeRelated,
	EdgeInfluences,
	EdgeEvolvesTo,
	EdgeConflicts,
	EdgeAmplifies,
}

// IsValid reports whether t is one of ValidEdgeTypes.
func (t EdgeType) IsValid() bool {
	for _, valid := range ValidEdgeTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// Sentiment values recognised by the half-life heuristics.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentMixed    = "mixed"
)
