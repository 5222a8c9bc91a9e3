package matcher

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/internal/vecmath"
	"github.com/scrypster/vibegraph/pkg/types"
)

// Semantic ranks vibes by cosine similarity between the scenario's embedding
// and each vibe's embedding.
type Semantic struct {
	embedder  Embedder
	threshold float64
	limit     int
}

// SemanticOption configures a Semantic matcher.
type SemanticOption func(*Semantic)

// WithThreshold sets the exclusive similarity cut-off.
func WithThreshold(t float64) SemanticOption {
	return func(s *Semantic) { s.threshold = t }
}

// WithLimit sets the maximum number of results.
func WithLimit(n int) SemanticOption {
	return func(s *Semantic) { s.limit = n }
}

// NewSemantic creates a semantic matcher.
func NewSemantic(embedder Embedder, opts ...SemanticOption) *Semantic {
	s := &Semantic{
		embedder:  embedder,
		threshold: DefaultSimilarityThreshold,
		limit:     DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Match implements Matcher. The profile is ignored.
func (s *Semantic) Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, _ *types.UserProfile) []types.Match {
	matches := s.score(ctx, scenario, snap)
	return truncate(matches, s.limit)
}

// score returns every match above the threshold, sorted, without applying
// the limit.
func (s *Semantic) score(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot) []types.Match {
	out := []types.Match{}
	if snap == nil || len(snap.Vibes) == 0 || s.embedder == nil {
		return out
	}

	text := scenario.Text()
	if text == "" {
		return out
	}

	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.WithError(err).Warn("scenario embedding failed, returning no semantic matches")
		return out
	}
	if len(query) == 0 {
		return out
	}

	for _, v := range snap.Vibes {
		if !v.HasEmbedding() {
			continue
		}
		sim := vecmath.Cosine(query, v.Embedding)
		if sim <= s.threshold {
			continue
		}
		out = append(out, types.Match{
			Vibe:        v,
			Score:       sim,
			Explanation: fmt.Sprintf("semantic similarity %.3f", sim),
			Strategy:    StrategySemantic,
		})
	}
	sortMatches(out)
	return out
}

var _ Matcher = (*Semantic)(nil)
