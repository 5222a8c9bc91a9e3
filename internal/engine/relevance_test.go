package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vibegraph/pkg/types"
)

func newRelevance() *RelevanceEngine {
	return NewRelevanceEngine(DefaultRelevanceConfig())
}

func TestApplyDecay_DoesNotMutateInputs(t *testing.T) {
	e := newRelevance()
	in := []*types.Vibe{
		{ID: "a", Strength: 1, CurrentRelevance: 1, HalfLife: 1, LastSeen: epoch},
	}
	out := e.ApplyDecay(in, epoch.Add(days(1)))

	require.Len(t, out, 1)
	assert.InDelta(t, 0.5, out[0].CurrentRelevance, 1e-9)
	assert.Equal(t, 1.0, in[0].CurrentRelevance)
	assert.NotSame(t, in[0], out[0])
}

func TestFilterRelevant_UsesFreshRelevanceInclusive(t *testing.T) {
	e := newRelevance()
	now := epoch.Add(days(30))
	vibes := []*types.Vibe{
		// stale cache says relevant, actual relevance is tiny
		{ID: "stale", Strength: 1, CurrentRelevance: 1, HalfLife: 1, LastSeen: epoch},
		// exactly at the threshold, seen just now
		{ID: "edge", Strength: DefaultPruneThreshold, LastSeen: now},
		{ID: "fresh", Strength: 0.9, LastSeen: now},
	}

	got := e.FilterRelevant(vibes, DefaultPruneThreshold, now)
	ids := make([]string, 0, len(got))
	for _, v := range got {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"edge", "fresh"}, ids)
}

func TestMergeBoost(t *testing.T) {
	tests := []struct {
		days float64
		want float64
	}{
		{0, 0.1},
		{5, 0.2},
		{10, 0.3},
		{50, 0.3},
		{-3, 0.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, MergeBoost(tt.days), 1e-9, "days=%v", tt.days)
	}
}

func TestMergeOccurrence(t *testing.T) {
	e := newRelevance()
	existing := &types.Vibe{
		ID:               "v1",
		Name:             "Quiet luxury",
		Keywords:         []string{"minimal", "Beige"},
		Sources:          []string{"s1"},
		RelatedVibes:     []string{"r1"},
		Strength:         0.6,
		CurrentRelevance: 0.4,
		FirstSeen:        epoch,
		LastSeen:         epoch,
		Category:         types.CategoryAesthetic,
	}
	observed := &types.Vibe{
		Name:         "quiet luxury",
		Keywords:     []string{"beige", "old money"},
		Sources:      []string{"s1", "s2"},
		RelatedVibes: []string{"r2", "r1"},
	}
	now := epoch.Add(days(5))

	merged := e.MergeOccurrence(existing, observed, now)

	assert.InDelta(t, 0.8, merged.Strength, 1e-9)
	assert.InDelta(t, 0.6, merged.CurrentRelevance, 1e-9)
	assert.True(t, merged.LastSeen.Equal(now))
	assert.True(t, merged.FirstSeen.Equal(epoch))
	assert.ElementsMatch(t, []string{"minimal", "Beige", "old money"}, merged.Keywords)
	assert.ElementsMatch(t, []string{"s1", "s2"}, merged.Sources)
	assert.ElementsMatch(t, []string{"r1", "r2"}, merged.RelatedVibes)

	// existing is untouched
	assert.Equal(t, 0.6, existing.Strength)
	assert.True(t, existing.LastSeen.Equal(epoch))
	assert.Len(t, existing.Keywords, 2)
}

func TestMergeOccurrence_ClampsIndependently(t *testing.T) {
	e := newRelevance()
	existing := &types.Vibe{ID: "v", Strength: 0.95, CurrentRelevance: 0.1, LastSeen: epoch}
	merged := e.MergeOccurrence(existing, nil, epoch.Add(days(30)))
	assert.Equal(t, 1.0, merged.Strength)
	assert.InDelta(t, 0.4, merged.CurrentRelevance, 1e-9)
}

func TestSuggestHalfLife(t *testing.T) {
	tests := []struct {
		name string
		vibe types.Vibe
		want float64
	}{
		{"meme mid strength", types.Vibe{Category: types.CategoryMeme, Strength: 0.5}, 3},
		{"trend full strength", types.Vibe{Category: types.CategoryTrend, Strength: 1}, 14 * 1.3},
		{"mixed sentiment", types.Vibe{Category: types.CategoryTopic, Strength: 0.5, Sentiment: types.SentimentMixed}, 21 * 0.8},
		{"sources", types.Vibe{Category: types.CategoryEvent, Strength: 0.5, Sources: []string{"a", "b", "c", "d"}}, 7 * 1.2},
		{"sources capped", types.Vibe{Category: types.CategoryMovement, Strength: 1, Sources: make([]string, 40)}, 90 * 1.3 * 1.5},
		{"zero strength", types.Vibe{Category: types.CategoryMeme, Sentiment: types.SentimentMixed}, 3 * 0.7 * 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SuggestHalfLife(&tt.vibe), 1e-9)
		})
	}
}

func TestSuggestHalfLife_Floor(t *testing.T) {
	v := &types.Vibe{Category: types.CategoryMeme, Strength: 0}
	assert.GreaterOrEqual(t, SuggestHalfLife(v), 1.0)
}

func TestHaloBoostAmount(t *testing.T) {
	e := newRelevance()
	assert.InDelta(t, 0.15, e.HaloBoostAmount(1.0), 1e-9)
	assert.InDelta(t, 0.075, e.HaloBoostAmount(0.8), 1e-9)
	assert.Equal(t, 0.0, e.HaloBoostAmount(0.6))
	assert.Equal(t, 0.0, e.HaloBoostAmount(0.59))
}

func TestApplyHalo_DoesNotTouchLastSeen(t *testing.T) {
	e := newRelevance()
	lastSeen := epoch.Add(-days(10))
	working := map[string]*types.Vibe{
		"src":     {ID: "src", Strength: 1, Embedding: []float32{1, 0}, LastSeen: epoch},
		"similar": {ID: "similar", Strength: 0.5, CurrentRelevance: 0.3, Embedding: []float32{0.8, 0.6}, LastSeen: lastSeen},
		"far":     {ID: "far", Strength: 0.5, Embedding: []float32{0, 1}, LastSeen: lastSeen},
		"bare":    {ID: "bare", Strength: 0.5, LastSeen: lastSeen},
	}
	now := epoch.Add(time.Hour)

	boosts := e.ApplyHalo(working, "src", now)

	require.Len(t, boosts, 1)
	assert.Equal(t, "similar", boosts[0].TargetID)
	assert.InDelta(t, 0.8, boosts[0].Similarity, 1e-6)
	assert.InDelta(t, 0.075, boosts[0].Boost, 1e-6)

	sim := working["similar"]
	assert.InDelta(t, 0.575, sim.Strength, 1e-6)
	assert.InDelta(t, 0.375, sim.CurrentRelevance, 1e-6)
	assert.True(t, sim.LastSeen.Equal(lastSeen), "halo must not mark the vibe as observed")
	assert.True(t, sim.Timestamp.Equal(now))

	hb, ok := sim.LastHaloBoost()
	require.True(t, ok)
	assert.Equal(t, "src", hb.SourceID)
	assert.Equal(t, 1, sim.Metadata[types.MetaHaloBoostCount])

	assert.Equal(t, 0.5, working["far"].Strength)
	assert.Nil(t, working["bare"].Metadata)
}

func TestApplyHaloEffects_Compounds(t *testing.T) {
	e := newRelevance()
	working := map[string]*types.Vibe{
		"a":      {ID: "a", Embedding: []float32{1, 0}},
		"b":      {ID: "b", Embedding: []float32{1, 0.05}},
		"target": {ID: "target", Strength: 0.5, Embedding: []float32{1, 0.02}},
	}

	boosts := e.ApplyHaloEffects(working, []string{"a", "b"}, epoch)

	var toTarget int
	for _, hb := range boosts {
		if hb.TargetID == "target" {
			toTarget++
		}
	}
	assert.Equal(t, 2, toTarget)
	assert.Greater(t, working["target"].Strength, 0.5+DefaultHaloMaxBoost)
	assert.Equal(t, 2, working["target"].Metadata[types.MetaHaloBoostCount])
}

// Merge and halo outputs stay in [0,1] even when their inputs do not. Vibes
// neither operation touches are normalized first, as every store write does.
func TestClampInvariant_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := newRelevance()
	ids := []string{"a", "b", "c", "d"}

	for i := 0; i < 500; i++ {
		working := make(map[string]*types.Vibe)
		for _, id := range ids {
			working[id] = &types.Vibe{
				ID:               id,
				Strength:         rng.Float64()*3 - 1,
				CurrentRelevance: rng.Float64()*3 - 1,
				LastSeen:         epoch.Add(-days(rng.Float64() * 100)),
				Embedding:        []float32{rng.Float32(), rng.Float32(), rng.Float32()},
			}
		}

		merged := ids[rng.Intn(len(ids))]
		working[merged] = e.MergeOccurrence(working[merged], nil, epoch)
		boosts := e.ApplyHaloEffects(working, ids, epoch)

		touched := map[string]bool{merged: true}
		for _, hb := range boosts {
			touched[hb.TargetID] = true
		}
		for id, v := range working {
			if !touched[id] {
				v.Normalize()
			}
			if v.Strength < 0 || v.Strength > 1 || v.CurrentRelevance < 0 || v.CurrentRelevance > 1 {
				t.Fatalf("iteration %d: vibe %s (touched=%v) out of range: strength=%v relevance=%v",
					i, id, touched[id], v.Strength, v.CurrentRelevance)
			}
		}
	}
}

func TestClampInvariant_OutOfRangeInputs(t *testing.T) {
	e := newRelevance()
	working := map[string]*types.Vibe{
		"src":  {ID: "src", Strength: 1.7, CurrentRelevance: -0.4, LastSeen: epoch.Add(-days(30)), Embedding: []float32{1, 0}},
		"low":  {ID: "low", Strength: -0.6, CurrentRelevance: -2, Embedding: []float32{1, 0.01}},
		"high": {ID: "high", Strength: 3, CurrentRelevance: 1.5, Embedding: []float32{1, 0.02}},
	}

	working["src"] = e.MergeOccurrence(working["src"], nil, epoch)
	boosts := e.ApplyHaloEffects(working, []string{"src"}, epoch)
	require.Len(t, boosts, 2)

	for id, v := range working {
		assert.GreaterOrEqual(t, v.Strength, 0.0, id)
		assert.LessOrEqual(t, v.Strength, 1.0, id)
		assert.GreaterOrEqual(t, v.CurrentRelevance, 0.0, id)
		assert.LessOrEqual(t, v.CurrentRelevance, 1.0, id)
	}
	assert.Equal(t, 1.0, working["src"].Strength)
	assert.Equal(t, 1.0, working["high"].Strength)
	for _, hb := range boosts {
		if hb.TargetID == "low" {
			assert.InDelta(t, hb.Boost, working["low"].CurrentRelevance, 1e-9)
			assert.InDelta(t, hb.Boost, working["low"].Strength, 1e-9)
		}
	}
}

func TestStats(t *testing.T) {
	e := newRelevance()
	now := epoch
	vibes := []*types.Vibe{
		{ID: "high", Strength: 0.9, FirstSeen: now.Add(-days(4)), LastSeen: now},
		{ID: "mod", Strength: 0.5, FirstSeen: now.Add(-days(2)), LastSeen: now},
		{ID: "low", Strength: 0.1, FirstSeen: now, LastSeen: now},
		{ID: "gone", Strength: 0.05, FirstSeen: now.Add(-days(2)), LastSeen: now},
	}

	s := e.Stats(vibes, now)
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.0, s.AvgAgeDays, 1e-9)
	assert.InDelta(t, 0.0, s.AvgRecencyDays, 1e-9)
	assert.InDelta(t, (0.9+0.5+0.1+0.05)/4, s.AvgRelevance, 1e-9)
	assert.Equal(t, RelevanceBuckets{HighlyRelevant: 1, Moderate: 1, Low: 1, Decayed: 1}, s.Buckets)

	empty := e.Stats(nil, now)
	assert.Equal(t, 0, empty.Count)
}

func TestRelevanceConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRelevanceConfig().Validate())
	assert.Error(t, RelevanceConfig{HaloThreshold: 1, HaloMaxBoost: 0.1}.Validate())
	assert.Error(t, RelevanceConfig{HaloThreshold: 0.5, HaloMaxBoost: 2}.Validate())
	assert.Error(t, RelevanceConfig{HaloThreshold: 0.5, HaloMaxBoost: 0.1, PruneThreshold: -1}.Validate())
}
