package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/vibegraph/pkg/types"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func days(n float64) time.Duration {
	return time.Duration(n * 24 * float64(time.Hour))
}

func TestDecay_NoElapsedTime(t *testing.T) {
	for _, s := range []float64{0, 0.3, 1, 1.4, -0.2} {
		v := &types.Vibe{Strength: s, LastSeen: epoch, Category: types.CategoryMeme}
		if got := Decay(v, epoch); got != types.Clamp01(s) {
			t.Errorf("strength %v: got %v, want %v", s, got, types.Clamp01(s))
		}
	}
}

func TestDecay_HalfLives(t *testing.T) {
	v := &types.Vibe{Strength: 0.8, HalfLife: 10, LastSeen: epoch}
	assert.InDelta(t, 0.4, Decay(v, epoch.Add(days(10))), 1e-9)
	assert.InDelta(t, 0.2, Decay(v, epoch.Add(days(20))), 1e-9)
}

func TestDecay_MemeThreeDaysAgo(t *testing.T) {
	v := &types.Vibe{Category: types.CategoryMeme, Strength: 1.0, HalfLife: 3, LastSeen: epoch}
	assert.InDelta(t, 0.5, Decay(v, epoch.Add(days(3))), 1e-9)
}

func TestDecay_WithinAnHourIsUnchanged(t *testing.T) {
	v := &types.Vibe{Category: types.CategoryMeme, Strength: 0.9, LastSeen: epoch}
	assert.Equal(t, 0.9, Decay(v, epoch.Add(59*time.Minute)))
	assert.Less(t, Decay(v, epoch.Add(61*time.Minute)), 0.9)

	// A lastSeen in the future is treated as "just seen".
	assert.Equal(t, 0.9, Decay(v, epoch.Add(-days(5))))
}

func TestResolveHalfLife(t *testing.T) {
	tests := []struct {
		name string
		vibe types.Vibe
		want float64
	}{
		{"explicit", types.Vibe{HalfLife: 5, Category: types.CategoryMeme}, 5},
		{"category default", types.Vibe{Category: types.CategoryAesthetic}, 60},
		{"movement", types.Vibe{Category: types.CategoryMovement}, 90},
		{"unknown category", types.Vibe{Category: "vaporwave"}, 14},
		{"decay rate", types.Vibe{DecayRate: math.Ln2 / 4, Category: types.CategoryMeme}, 4},
		{"explicit wins over rate", types.Vibe{HalfLife: 2, DecayRate: 10}, 2},
		{"negative is very fast", types.Vibe{HalfLife: -3, Category: types.CategoryMovement}, minHalfLifeDays},
		{"NaN is very fast", types.Vibe{HalfLife: math.NaN()}, minHalfLifeDays},
		{"Inf is very fast", types.Vibe{HalfLife: math.Inf(1)}, minHalfLifeDays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ResolveHalfLife(&tt.vibe), 1e-9)
		})
	}
}

func TestDecay_NonPositiveHalfLifeNeverGrows(t *testing.T) {
	for _, h := range []float64{-1, -100, math.NaN(), math.Inf(-1)} {
		v := &types.Vibe{Strength: 0.7, HalfLife: h, LastSeen: epoch}
		got := Decay(v, epoch.Add(days(2)))
		if got < 0 || got >= 0.7 || math.IsNaN(got) {
			t.Errorf("halfLife %v: got %v, want decayed value in [0,0.7)", h, got)
		}
	}
}

func TestCategoryHalfLife_Table(t *testing.T) {
	want := map[types.Category]float64{
		types.CategoryMeme: 3, types.CategoryEvent: 7, types.CategoryTrend: 14,
		types.CategoryTopic: 21, types.CategorySentiment: 30, types.CategoryAesthetic: 60,
		types.CategoryMovement: 90, types.CategoryCustom: 14,
	}
	for c, h := range want {
		assert.Equal(t, h, CategoryHalfLife(c), string(c))
	}
}

func FuzzDecay(f *testing.F) {
	f.Add(1.0, 3.0, 3.0)
	f.Add(0.5, -1.0, 10.0)
	f.Add(2.0, 0.0, 100.0)
	f.Fuzz(func(t *testing.T, strength, halfLife, elapsedDays float64) {
		if math.IsNaN(elapsedDays) || math.IsInf(elapsedDays, 0) || math.Abs(elapsedDays) > 1e5 {
			t.Skip()
		}
		v := &types.Vibe{Strength: strength, HalfLife: halfLife, LastSeen: epoch}
		got := Decay(v, epoch.Add(days(elapsedDays)))
		if got < 0 || got > 1 || math.IsNaN(got) {
			t.Fatalf("Decay out of range: %v", got)
		}
		if got > types.Clamp01(strength) {
			t.Fatalf("Decay grew: %v > %v", got, types.Clamp01(strength))
		}
	})
}
