package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/internal/vecmath"
	"github.com/scrypster/vibegraph/pkg/types"
)

const (
	// DefaultHaloThreshold is the minimum cosine similarity for a halo boost.
	DefaultHaloThreshold = 0.6

	// DefaultHaloMaxBoost is the boost granted at similarity 1.0.
	DefaultHaloMaxBoost = 0.15

	// DefaultPruneThreshold is the relevance below which vibes are pruned.
	DefaultPruneThreshold = 0.05

	mergeBaseBoost   = 0.1
	mergeBoostPerDay = 0.02
	mergeMaxBoost    = 0.3
)

// RelevanceConfig holds the tunable constants of the relevance model.
type RelevanceConfig struct {
	HaloThreshold  float64 `yaml:"halo_threshold"`
	HaloMaxBoost   float64 `yaml:"halo_max_boost"`
	PruneThreshold float64 `yaml:"prune_threshold"`
}

// DefaultRelevanceConfig returns the stock halo and prune constants.
func DefaultRelevanceConfig() RelevanceConfig {
	return RelevanceConfig{
		HaloThreshold:  DefaultHaloThreshold,
		HaloMaxBoost:   DefaultHaloMaxBoost,
		PruneThreshold: DefaultPruneThreshold,
	}
}

// Validate checks that the constants are usable.
func (c RelevanceConfig) Validate() error {
	if c.HaloThreshold < 0 || c.HaloThreshold >= 1 || math.IsNaN(c.HaloThreshold) {
		return goerr.New("halo threshold must be in [0,1)", goerr.V("halo_threshold", c.HaloThreshold))
	}
	if c.HaloMaxBoost < 0 || c.HaloMaxBoost > 1 || math.IsNaN(c.HaloMaxBoost) {
		return goerr.New("halo max boost must be in [0,1]", goerr.V("halo_max_boost", c.HaloMaxBoost))
	}
	if c.PruneThreshold < 0 || c.PruneThreshold > 1 || math.IsNaN(c.PruneThreshold) {
		return goerr.New("prune threshold must be in [0,1]", goerr.V("prune_threshold", c.PruneThreshold))
	}
	return nil
}

// RelevanceEngine applies the relevance model to vibes. It holds no graph
// state and is safe for concurrent use.
type RelevanceEngine struct {
	cfg RelevanceConfig
}

// NewRelevanceEngine returns an engine using cfg.
func NewRelevanceEngine(cfg RelevanceConfig) *RelevanceEngine {
	return &RelevanceEngine{cfg: cfg}
}

// Config returns the engine's constants.
func (e *RelevanceEngine) Config() RelevanceConfig {
	return e.cfg
}

// Decay is the package-level Decay.
func (e *RelevanceEngine) Decay(v *types.Vibe, now time.Time) float64 {
	return Decay(v, now)
}

// ApplyDecay returns copies of vibes with CurrentRelevance recomputed for
// now. The inputs are not modified.
func (e *RelevanceEngine) ApplyDecay(vibes []*types.Vibe, now time.Time) []*types.Vibe {
	out := make([]*types.Vibe, 0, len(vibes))
	for _, v := range vibes {
		c := v.Clone()
		c.CurrentRelevance = Decay(v, now)
		out = append(out, c)
	}
	return out
}

// FilterRelevant returns the vibes whose freshly decayed relevance is at
// least threshold. The cached CurrentRelevance is ignored.
func (e *RelevanceEngine) FilterRelevant(vibes []*types.Vibe, threshold float64, now time.Time) []*types.Vibe {
	out := make([]*types.Vibe, 0, len(vibes))
	for _, v := range vibes {
		if Decay(v, now) >= threshold {
			out = append(out, v)
		}
	}
	return out
}

// MergeBoost returns the boost granted to a vibe seen again after
// daysSinceLastSeen days of absence.
func MergeBoost(daysSinceLastSeen float64) float64 {
	if daysSinceLastSeen < 0 || math.IsNaN(daysSinceLastSeen) {
		daysSinceLastSeen = 0
	}
	return math.Min(mergeMaxBoost, mergeBaseBoost+daysSinceLastSeen*mergeBoostPerDay)
}

// MergeOccurrence folds a new observation of an existing vibe into a copy of
// existing and returns it. existing is not modified.
//
// strength and currentRelevance each gain MergeBoost(days since the existing
// lastSeen), lastSeen moves to now, and keyword, source, domain and related
// sets are unioned. Descriptive fields left empty on existing are filled
// from observed.
func (e *RelevanceEngine) MergeOccurrence(existing, observed *types.Vibe, now time.Time) *types.Vibe {
	merged := existing.Clone()
	boost := MergeBoost(DaysBetween(existing.LastSeen, now))

	merged.Strength = types.Clamp01(types.Clamp01(existing.Strength) + boost)
	merged.CurrentRelevance = types.Clamp01(types.Clamp01(existing.CurrentRelevance) + boost)
	merged.LastSeen = now
	merged.Timestamp = now

	if observed != nil {
		merged.Keywords = unionFold(merged.Keywords, observed.Keywords)
		merged.Sources = union(merged.Sources, observed.Sources)
		merged.Domains = unionFold(merged.Domains, observed.Domains)
		merged.RelatedVibes = union(merged.RelatedVibes, observed.RelatedVibes)
		merged.Influences = union(merged.Influences, observed.Influences)

		if merged.Description == "" {
			merged.Description = observed.Description
		}
		if merged.Sentiment == "" {
			merged.Sentiment = observed.Sentiment
		}
		if merged.Geography == nil && observed.Geography != nil {
			merged.Geography = observed.Clone().Geography
		}
	}
	merged.Normalize()
	return merged
}

// union returns a followed by the members of b not already present.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// unionFold is union with case-insensitive identity. The first spelling wins.
func unionFold(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// SuggestHalfLife proposes a half-life in days for a new vibe:
//
//	base(category) * (0.7 + strength*0.6) * (0.8 if mixed) * min(1.5, 1 + sources*0.05)
//
// floored at one day.
func SuggestHalfLife(v *types.Vibe) float64 {
	h := CategoryHalfLife(v.Category)
	h *= 0.7 + types.Clamp01(v.Strength)*0.6
	if strings.EqualFold(v.Sentiment, types.SentimentMixed) {
		h *= 0.8
	}
	h *= math.Min(1.5, 1.0+float64(len(v.Sources))*0.05)
	return math.Max(1, h)
}

// HaloBoostAmount returns the boost for a given similarity, or 0 when the
// similarity is below threshold.
func (e *RelevanceEngine) HaloBoostAmount(similarity float64) float64 {
	t := e.cfg.HaloThreshold
	if math.IsNaN(similarity) || similarity < t {
		return 0
	}
	if t >= 1 {
		return e.cfg.HaloMaxBoost
	}
	return math.Min(1, (similarity-t)/(1-t)) * e.cfg.HaloMaxBoost
}

// ApplyHalo propagates a halo from the vibe sourceID to every other vibe in
// working with a similar embedding. working is modified in place and must
// hold vibes owned by the caller.
//
// Boosted vibes gain strength and currentRelevance, get their Timestamp and
// halo provenance metadata updated, and keep their LastSeen.
func (e *RelevanceEngine) ApplyHalo(working map[string]*types.Vibe, sourceID string, now time.Time) []types.HaloBoost {
	source, ok := working[sourceID]
	if !ok || !source.HasEmbedding() {
		return nil
	}

	ids := make([]string, 0, len(working))
	for id := range working {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var applied []types.HaloBoost
	for _, id := range ids {
		if id == sourceID {
			continue
		}
		target := working[id]
		if !target.HasEmbedding() || len(target.Embedding) != len(source.Embedding) {
			continue
		}

		sim := vecmath.Cosine(source.Embedding, target.Embedding)
		boost := e.HaloBoostAmount(sim)
		if boost <= 0 {
			continue
		}

		hb := types.HaloBoost{
			SourceID:   sourceID,
			TargetID:   id,
			Similarity: sim,
			Boost:      boost,
			AppliedAt:  now,
		}
		target.Strength = types.Clamp01(types.Clamp01(target.Strength) + boost)
		target.CurrentRelevance = types.Clamp01(types.Clamp01(target.CurrentRelevance) + boost)
		target.Timestamp = now
		recordHalo(target, hb)

		applied = append(applied, hb)
	}
	return applied
}

// ApplyHaloEffects runs ApplyHalo for each source in order. Each pass sees
// the state left by the previous one, so boosts compound.
func (e *RelevanceEngine) ApplyHaloEffects(working map[string]*types.Vibe, sourceIDs []string, now time.Time) []types.HaloBoost {
	var all []types.HaloBoost
	for _, id := range sourceIDs {
		all = append(all, e.ApplyHalo(working, id, now)...)
	}
	return all
}

func recordHalo(v *types.Vibe, hb types.HaloBoost) {
	if v.Metadata == nil {
		v.Metadata = make(map[string]interface{})
	}
	v.Metadata[types.MetaLastHaloBoost] = hb

	count := 0
	switch n := v.Metadata[types.MetaHaloBoostCount].(type) {
	case int:
		count = n
	case int64:
		count = int(n)
	case float64:
		count = int(n)
	}
	v.Metadata[types.MetaHaloBoostCount] = count + 1
}

// RelevanceBuckets is a histogram of vibes by relevance.
type RelevanceBuckets struct {
	HighlyRelevant int `json:"highly_relevant"` // > 0.7
	Moderate       int `json:"moderate"`        // (0.3, 0.7]
	Low            int `json:"low"`             // (0.05, 0.3]
	Decayed        int `json:"decayed"`         // <= 0.05
}

// Stats summarises the temporal state of a collection of vibes.
type Stats struct {
	Count          int              `json:"count"`
	AvgAgeDays     float64          `json:"avg_age_days"`
	AvgRecencyDays float64          `json:"avg_recency_days"`
	AvgRelevance   float64          `json:"avg_relevance"`
	Buckets        RelevanceBuckets `json:"buckets"`
	ComputedAt     time.Time        `json:"computed_at"`
}

// Stats computes count, mean age, mean recency and mean relevance, and
// buckets vibes by their relevance at now.
func (e *RelevanceEngine) Stats(vibes []*types.Vibe, now time.Time) Stats {
	s := Stats{Count: len(vibes), ComputedAt: now}
	if len(vibes) == 0 {
		return s
	}

	var age, recency, relevance float64
	for _, v := range vibes {
		age += DaysBetween(v.FirstSeen, now)
		recency += DaysBetween(v.LastSeen, now)

		r := Decay(v, now)
		relevance += r
		switch {
		case r > 0.7:
			s.Buckets.HighlyRelevant++
		case r > 0.3:
			s.Buckets.Moderate++
		case r > 0.05:
			s.Buckets.Low++
		default:
			s.Buckets.Decayed++
		}
	}

	n := float64(len(vibes))
	s.AvgAgeDays = age / n
	s.AvgRecencyDays = recency / n
	s.AvgRelevance = relevance / n
	return s
}
