package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/vibegraph/pkg/types"
)

const (
	// DefaultMinRegionalRelevance is the pre-filter cut-off for vibes tied
	// to another region.
	DefaultMinRegionalRelevance = 0.2

	// DefaultRegionalRelevance applies to a vibe tied to another region
	// with no explicit relevance for the requester's region.
	DefaultRegionalRelevance = 0.3

	// interestBoostFactor scales the interest match fraction.
	interestBoostFactor = 0.5
)

// Personalized wraps Semantic with per-profile filtering and boosts.
//
// Before scoring it drops vibes irrelevant to the requester's region and
// vibes touching any avoided topic. After scoring it multiplies each score
// by (1 + interestFraction*0.5) and by the vibe's relevance to the region.
type Personalized struct {
	semantic             *Semantic
	minRegionalRelevance float64
	limit                int
}

// PersonalizedOption configures a Personalized matcher.
type PersonalizedOption func(*Personalized)

// WithMinRegionalRelevance sets the region pre-filter cut-off.
func WithMinRegionalRelevance(v float64) PersonalizedOption {
	return func(p *Personalized) { p.minRegionalRelevance = v }
}

// NewPersonalized creates a personalized matcher on top of semantic. It
// returns at most as many matches as semantic does.
func NewPersonalized(semantic *Semantic, opts ...PersonalizedOption) *Personalized {
	p := &Personalized{
		semantic:             semantic,
		minRegionalRelevance: DefaultMinRegionalRelevance,
		limit:                semantic.limit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegionalRelevance returns how relevant v is to region: 1.0 for global
// vibes and for the vibe's primary region, the explicit per-region score
// when present, DefaultRegionalRelevance otherwise.
func RegionalRelevance(v *types.Vibe, region string) float64 {
	region = strings.ToLower(strings.TrimSpace(region))
	g := v.Geography
	if region == "" || g.IsGlobal() {
		return 1.0
	}
	if strings.EqualFold(strings.TrimSpace(g.Primary), region) {
		return 1.0
	}
	for r, score := range g.Relevance {
		if strings.EqualFold(r, region) {
			return types.Clamp01(score)
		}
	}
	return DefaultRegionalRelevance
}

// Avoided reports whether any avoided term occurs in the vibe's name,
// description, keywords or domains.
func Avoided(v *types.Vibe, avoid []string) bool {
	if len(avoid) == 0 {
		return false
	}
	text := v.Text()
	for _, term := range avoid {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// InterestFraction returns the share of interests found in the vibe's text.
func InterestFraction(v *types.Vibe, interests []string) float64 {
	if len(interests) == 0 {
		return 0
	}
	text := v.Text()
	hits := 0
	for _, in := range interests {
		if strings.Contains(text, in) {
			hits++
		}
	}
	return float64(hits) / float64(len(interests))
}

// Match implements Matcher. A nil profile behaves like Semantic.
func (p *Personalized) Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) []types.Match {
	if profile == nil {
		return truncate(p.semantic.score(ctx, scenario, snap), p.limit)
	}
	if snap == nil {
		return []types.Match{}
	}

	avoid := lowerAll(profile.AvoidTopics)
	interests := lowerAll(profile.Interests)
	region := strings.TrimSpace(profile.Region)

	filtered := snap.Subset(func(v *types.Vibe) bool {
		if Avoided(v, avoid) {
			return false
		}
		if region != "" && RegionalRelevance(v, region) < p.minRegionalRelevance {
			return false
		}
		return true
	})

	scored := p.semantic.score(ctx, scenario, filtered)
	for i := range scored {
		m := &scored[i]
		base := m.Score

		frac := InterestFraction(m.Vibe, interests)
		m.Score *= 1 + frac*interestBoostFactor

		regional := 1.0
		if region != "" {
			regional = RegionalRelevance(m.Vibe, region)
			m.Score *= regional
		}

		m.Strategy = StrategyPersonalized
		m.Explanation = fmt.Sprintf("semantic %.3f, interest match %.0f%%, regional relevance %.2f",
			base, frac*100, regional)
	}

	sortMatches(scored)
	return truncate(scored, p.limit)
}

var _ Matcher = (*Personalized)(nil)
