package types

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata keys written by the relevance engine.
const (
	// MetaLastHaloBoost holds the HaloBoost most recently applied to a vibe.
	MetaLastHaloBoost = "last_halo_boost"

	// MetaHaloBoostCount counts halo boosts received over the vibe's lifetime.
	MetaHaloBoostCount = "halo_boost_count"
)

// Vibe is a single cultural signal tracked by the graph.
//
// Strength and CurrentRelevance are kept in [0,1]. CurrentRelevance is a cache
// of the decayed strength at the last time it was computed; treat it as stale
// whenever "now" has moved on.
type Vibe struct {
	// Identity and description
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Keywords    []string `json:"keywords,omitempty"`
	Sources     []string `json:"sources,omitempty"` // URLs or opaque source ids
	Domains     []string `json:"domains,omitempty"` // e.g. "fashion", "tech", "politics"
	Sentiment   string   `json:"sentiment,omitempty"`

	// Numeric state
	Strength         float64 `json:"strength"`
	CurrentRelevance float64 `json:"current_relevance"`
	HalfLife         float64 `json:"half_life,omitempty"`  // days; 0 = derive from category
	DecayRate        float64 `json:"decay_rate,omitempty"` // per day; used when HalfLife is unset

	// Temporal
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Timestamp time.Time `json:"timestamp"` // last mutation

	// Semantic
	Embedding []float32 `json:"embedding,omitempty"`

	// Weak references (ids only)
	RelatedVibes []string `json:"related_vibes,omitempty"`
	Influences   []string `json:"influences,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Geography *Geography             `json:"geography,omitempty"`
}

// Geography annotates a vibe with where it is relevant.
type Geography struct {
	Primary   string             `json:"primary,omitempty"`
	Relevance map[string]float64 `json:"relevance,omitempty"` // region -> [0,1]
}

// GlobalRegion is the Primary value of a vibe that is not tied to a region.
const GlobalRegion = "global"

// IsGlobal reports whether the annotation describes a globally scoped vibe.
// A nil annotation is global.
func (g *Geography) IsGlobal() bool {
	if g == nil {
		return true
	}
	p := strings.ToLower(strings.TrimSpace(g.Primary))
	return p == "" || p == GlobalRegion
}

// HaloBoost records a relevance boost a vibe received from a semantically
// similar vibe that was actually observed.
type HaloBoost struct {
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Similarity float64   `json:"similarity"`
	Boost      float64   `json:"boost"`
	AppliedAt  time.Time `json:"applied_at"`
}

// NewVibeID returns a fresh vibe identifier. The random suffix keeps ids unique
// when several vibes are created within the same millisecond.
func NewVibeID() string {
	return fmt.Sprintf("vibe_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Clamp01 clamps v to [0,1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize clamps the numeric state into range and fills a missing or
// unknown category. It is called on every write path.
func (v *Vibe) Normalize() {
	v.Strength = Clamp01(v.Strength)
	v.CurrentRelevance = Clamp01(v.CurrentRelevance)
	if !v.Category.IsValid() {
		v.Category = ParseCategory(string(v.Category))
	}
}

// HasEmbedding reports whether the vibe carries an embedding.
func (v *Vibe) HasEmbedding() bool {
	return len(v.Embedding) > 0
}

// Text returns the searchable text of the vibe: name, description,
// keywords and domains, lower-cased.
func (v *Vibe) Text() string {
	parts := make([]string, 0, 2+len(v.Keywords)+len(v.Domains))
	parts = append(parts, v.Name, v.Description)
	parts = append(parts, v.Keywords...)
	parts = append(parts, v.Domains...)
	return strings.ToLower(strings.Join(parts, " "))
}

// EmbeddingText is the text sent to an embedder for this vibe.
func (v *Vibe) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(v.Name)
	if v.Description != "" {
		b.WriteString(": ")
		b.WriteString(v.Description)
	}
	if len(v.Keywords) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(v.Keywords, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Clone returns a deep copy of v. No slice, map or pointer is shared with
// the original.
func (v *Vibe) Clone() *Vibe {
	if v == nil {
		return nil
	}
	c := *v
	c.Keywords = cloneStrings(v.Keywords)
	c.Sources = cloneStrings(v.Sources)
	c.Domains = cloneStrings(v.Domains)
	c.RelatedVibes = cloneStrings(v.RelatedVibes)
	c.Influences = cloneStrings(v.Influences)
	if v.Embedding != nil {
		c.Embedding = make([]float32, len(v.Embedding))
		copy(c.Embedding, v.Embedding)
	}
	if v.Metadata != nil {
		c.Metadata = cloneMap(v.Metadata)
	}
	if v.Geography != nil {
		g := Geography{Primary: v.Geography.Primary}
		if v.Geography.Relevance != nil {
			g.Relevance = make(map[string]float64, len(v.Geography.Relevance))
			for k, r := range v.Geography.Relevance {
				g.Relevance[k] = r
			}
		}
		c.Geography = &g
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = cloneValue(val)
	}
	return out
}

// cloneValue deep-copies the value shapes that appear in metadata: JSON-decoded
// maps and slices, string slices, and HaloBoost records. Everything else is a
// scalar and is copied by assignment.
func cloneValue(val interface{}) interface{} {
	switch t := val.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(t)
	case *HaloBoost:
		if t == nil {
			return t
		}
		hb := *t
		return &hb
	default:
		return t
	}
}

// LastHaloBoost returns the most recent halo provenance recorded on the vibe.
// It understands both the in-process HaloBoost value and the map form that
// comes back from a JSON round trip through a durable store.
func (v *Vibe) LastHaloBoost() (HaloBoost, bool) {
	raw, ok := v.Metadata[MetaLastHaloBoost]
	if !ok {
		return HaloBoost{}, false
	}
	switch t := raw.(type) {
	case HaloBoost:
		return t, true
	case *HaloBoost:
		if t == nil {
			return HaloBoost{}, false
		}
		return *t, true
	case map[string]interface{}:
		hb := HaloBoost{}
		hb.SourceID, _ = t["source_id"].(string)
		hb.TargetID, _ = t["target_id"].(string)
		hb.Similarity, _ = t["similarity"].(float64)
		hb.Boost, _ = t["boost"].(float64)
		if s, ok := t["applied_at"].(string); ok {
			hb.AppliedAt, _ = time.Parse(time.RFC3339Nano, s)
		}
		return hb, true
	default:
		return HaloBoost{}, false
	}
}
