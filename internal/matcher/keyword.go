package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/vibegraph/pkg/types"
)

// Keyword ranks vibes by the share of their keywords that occur in the
// scenario text. It needs no embedder, which makes it a useful ensemble
// partner and the fallback when no embedding provider is configured.
type Keyword struct {
	limit int
}

// NewKeyword creates a keyword matcher.
func NewKeyword() *Keyword {
	return &Keyword{limit: DefaultLimit}
}

// Match implements Matcher. Relevance (CurrentRelevance) breaks ties between
// equal keyword coverage.
func (k *Keyword) Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, _ *types.UserProfile) []types.Match {
	out := []types.Match{}
	if snap == nil {
		return out
	}
	text := strings.ToLower(scenario.Text())
	if text == "" {
		return out
	}

	for _, v := range snap.Vibes {
		kws := lowerAll(v.Keywords)
		if len(kws) == 0 {
			continue
		}
		hits := 0
		for _, kw := range kws {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		coverage := float64(hits) / float64(len(kws))
		out = append(out, types.Match{
			Vibe:        v,
			Score:       coverage*0.9 + types.Clamp01(v.CurrentRelevance)*0.1,
			Explanation: fmt.Sprintf("%d of %d keywords found in scenario", hits, len(kws)),
			Strategy:    StrategyKeyword,
		})
	}
	sortMatches(out)
	return truncate(out, k.limit)
}

var _ Matcher = (*Keyword)(nil)
