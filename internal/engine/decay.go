// Package engine implements the temporal relevance model of the vibe graph
// (decay, occurrence merging, half-life suggestion, halo propagation and
// statistics) and the VibeEngine that drives ingest and maintenance cycles
// against a storage.GraphStore.
package engine

import (
	"math"
	"time"

	"github.com/scrypster/vibegraph/pkg/types"
)

const (
	// defaultHalfLifeDays applies when neither the vibe nor its category
	// provide a half-life.
	defaultHalfLifeDays = 14.0

	// minHalfLifeDays is the half-life used for non-positive or non-finite
	// explicit values: very fast decay, never growth.
	minHalfLifeDays = 1.0 / 24.0

	// noDecayWindowDays is the window after lastSeen during which relevance
	// equals strength.
	noDecayWindowDays = 1.0 / 24.0
)

var categoryHalfLifeDays = map[types.Category]float64{
	types.CategoryMeme:      3,
	types.CategoryEvent:     7,
	types.CategoryTrend:     14,
	types.CategoryTopic:     21,
	types.CategorySentiment: 30,
	types.CategoryAesthetic: 60,
	types.CategoryMovement:  90,
	types.CategoryCustom:    14,
}

// CategoryHalfLife returns the default half-life in days for c.
func CategoryHalfLife(c types.Category) float64 {
	if h, ok := categoryHalfLifeDays[c]; ok {
		return h
	}
	return defaultHalfLifeDays
}

// ResolveHalfLife returns the half-life in days that governs v.
//
// Resolution order: explicit HalfLife, a positive DecayRate (ln2/rate),
// the category table, then the 14 day fallback. A HalfLife of exactly zero
// means "unset"; any other non-positive or non-finite value decays as fast
// as minHalfLifeDays allows.
func ResolveHalfLife(v *types.Vibe) float64 {
	switch h := v.HalfLife; {
	case h > 0 && !math.IsInf(h, 1):
		return h
	case h != 0:
		return minHalfLifeDays
	}
	if r := v.DecayRate; r > 0 && !math.IsInf(r, 1) {
		return math.Max(math.Ln2/r, minHalfLifeDays)
	}
	return CategoryHalfLife(v.Category)
}

// DaysBetween returns (to - from) in fractional days.
func DaysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24.0
}

// Decay returns the relevance of v at now:
//
//	clamp01(strength) * 0.5^(daysSinceLastSeen / halfLife)
//
// Within an hour of lastSeen (and for lastSeen in the future) the strength is
// returned unchanged.
func Decay(v *types.Vibe, now time.Time) float64 {
	strength := types.Clamp01(v.Strength)
	days := DaysBetween(v.LastSeen, now)
	if days < noDecayWindowDays {
		return strength
	}
	return types.Clamp01(strength * math.Pow(0.5, days/ResolveHalfLife(v)))
}
