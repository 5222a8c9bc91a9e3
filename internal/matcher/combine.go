package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/vibegraph/pkg/types"
)

// ErrInvalidWeight is returned for a negative or non-finite member weight.
var ErrInvalidWeight = errors.New("invalid strategy weight")

// Member is one strategy taking part in a combination.
type Member struct {
	Name    string
	Matcher Matcher
	// Weight multiplies the member's scores in a Weighted combination.
	// Nil means 1.0; zero is a valid weight.
	Weight *float64
}

// Weight returns a pointer to w, for Member literals.
func Weight(w float64) *float64 {
	return &w
}

func (m Member) weight() float64 {
	if m.Weight == nil {
		return 1.0
	}
	return *m.Weight
}

// runAll runs every member concurrently and returns their results in member
// order. A member that panics contributes an empty result.
func runAll(ctx context.Context, members []Member, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) [][]types.Match {
	results := make([][]types.Match, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("strategy", m.Name).Errorf("strategy panicked: %v", r)
					results[i] = nil
				}
			}()
			results[i] = m.Matcher.Match(gctx, scenario, snap, profile)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Weighted averages the weighted scores of its members. A vibe's score is
// the mean of weight*score over the members that actually returned it.
type Weighted struct {
	members []Member
	limit   int
}

// NewWeighted combines members by weighted average. Results are capped at
// DefaultLimit.
func NewWeighted(members ...Member) (*Weighted, error) {
	for _, m := range members {
		if w := m.weight(); w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, goerr.Wrap(ErrInvalidWeight, "cannot combine strategies",
				goerr.V("strategy", m.Name), goerr.V("weight", w))
		}
	}
	return &Weighted{members: members, limit: DefaultLimit}, nil
}

// WithLimit sets the maximum number of results and returns w.
func (w *Weighted) WithLimit(n int) *Weighted {
	if n > 0 {
		w.limit = n
	}
	return w
}

// Match implements Matcher.
func (w *Weighted) Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) []types.Match {
	type acc struct {
		vibe  *types.Vibe
		sum   float64
		count int
		from  []string
	}

	results := runAll(ctx, w.members, scenario, snap, profile)
	byID := make(map[string]*acc)
	var order []string
	for i, matches := range results {
		member := w.members[i]
		for _, m := range matches {
			a, ok := byID[m.Vibe.ID]
			if !ok {
				a = &acc{vibe: m.Vibe}
				byID[m.Vibe.ID] = a
				order = append(order, m.Vibe.ID)
			}
			a.sum += m.Score * member.weight()
			a.count++
			a.from = append(a.from, member.Name)
		}
	}

	out := make([]types.Match, 0, len(order))
	for _, id := range order {
		a := byID[id]
		out = append(out, types.Match{
			Vibe:        a.vibe,
			Score:       a.sum / float64(a.count),
			Explanation: fmt.Sprintf("weighted average over %s", strings.Join(a.from, ", ")),
			Strategy:    StrategyWeighted,
		})
	}
	sortMatches(out)
	return truncate(out, w.limit)
}

// Ensemble takes the top K of every member, keeps the first occurrence of
// each vibe (in member order) and re-sorts the union by score.
type Ensemble struct {
	members []Member
	topK    int
	limit   int
}

// NewEnsemble combines members by deduplicated union. The union is capped
// at DefaultLimit.
func NewEnsemble(topK int, members ...Member) *Ensemble {
	if topK <= 0 {
		topK = DefaultEnsembleTopK
	}
	return &Ensemble{members: members, topK: topK, limit: DefaultLimit}
}

// WithLimit sets the maximum size of the union and returns e.
func (e *Ensemble) WithLimit(n int) *Ensemble {
	if n > 0 {
		e.limit = n
	}
	return e
}

// Match implements Matcher.
func (e *Ensemble) Match(ctx context.Context, scenario types.Scenario, snap *types.GraphSnapshot, profile *types.UserProfile) []types.Match {
	results := runAll(ctx, e.members, scenario, snap, profile)

	seen := make(map[string]struct{})
	out := []types.Match{}
	for i, matches := range results {
		for _, m := range truncate(matches, e.topK) {
			if _, dup := seen[m.Vibe.ID]; dup {
				continue
			}
			seen[m.Vibe.ID] = struct{}{}
			if m.Strategy == "" {
				m.Strategy = e.members[i].Name
			}
			out = append(out, m)
		}
	}
	sortMatches(out)
	return truncate(out, e.limit)
}

var (
	_ Matcher = (*Weighted)(nil)
	_ Matcher = (*Ensemble)(nil)
)
