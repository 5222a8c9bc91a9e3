package llm

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/pkg/types"
)

// defaultAdviceSignals is how many matches are rendered into the prompt.
const defaultAdviceSignals = 10

// Advisor generates structured advice for a scenario from its matches.
type Advisor struct {
	gen        TextGenerator
	maxSignals int
	now        func() time.Time
}

// NewAdvisor creates an Advisor. A nil gen yields empty advice.
func NewAdvisor(gen TextGenerator) *Advisor {
	return &Advisor{gen: gen, maxSignals: defaultAdviceSignals, now: time.Now}
}

// Advise returns advice for scenario grounded in matches. It never fails:
// generator or parse errors are logged and produce empty advice.
func (a *Advisor) Advise(ctx context.Context, scenario types.Scenario, matches []types.Match) *types.Advice {
	empty := &types.Advice{Recommendations: []types.Recommendation{}, GeneratedAt: a.now()}
	if a.gen == nil {
		return empty
	}

	if len(matches) > a.maxSignals {
		matches = matches[:a.maxSignals]
	}
	known := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m.Vibe != nil {
			known[m.Vibe.ID] = struct{}{}
		}
	}

	text, err := a.gen.Complete(ctx, AdvicePrompt(scenario, matches))
	if err != nil {
		log.WithError(err).WithField("model", a.gen.GetModel()).Warn("advice generation failed")
		return empty
	}
	advice, err := ParseAdvice(text, known, a.now())
	if err != nil {
		log.WithError(err).WithField("model", a.gen.GetModel()).Warn("advice response unparseable")
		return empty
	}
	return advice
}
