// Package matcher ranks the vibes of a graph snapshot against a scenario.
//
// Every strategy implements Matcher. Strategies never return errors: when an
// upstream dependency such as the embedder fails they log and return an
// empty result.
package matcher

import (
	"context"
	"sort"
	"strings"

	"github.com/scrypster/vibegraph/pkg/types"
)

// Strategy names used for registration.
const (
	StrategySemantic     = "semantic"
	StrategyPersonalized = "personalized"
	StrategyKeyword      = "keyword"
	StrategyWeighted     = "weighted"
	StrategyEnsemble     = "ensemble"
)

const (
	// DefaultSimilarityThreshold is the minimum (exclusive) cosine similarity
	// for a semantic match.
	DefaultSimilarityThreshold = 0.5

	// DefaultLimit caps the number of results a strategy returns.
	DefaultLimit = 20

	// DefaultEnsembleTopK is how many results the ensemble takes from each
	// strategy.
	DefaultEnsembleTopK = 10

	// defaultKeywordWeight is the keyword member's weight in the stock
	// weighted strategy.
	defaultKeywordWeight = 0.5
)

// Matcher ranks the vibes of snap against scenario. profile may be nil.
type Matcher interface {
	Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) []types.Match
}

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) []types.Match

// Match calls f.
func (f MatcherFunc) Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) []types.Match {
	return f(ctx, scenario, snap, profile)
}

// sortMatches orders by score descending, then by vibe id.
func sortMatches(matches []types.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Vibe.ID < matches[j].Vibe.ID
	})
}

func truncate(matches []types.Match, limit int) []types.Match {
	if limit > 0 && len(matches) > limit {
		return matches[:limit]
	}
	return matches
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
