package types_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/vibegraph/pkg/types"
)

func TestNewVibeID_UniqueWithinSameInstant(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := types.NewVibeID()
		if !strings.HasPrefix(id, "vibe_") {
			t.Fatalf("unexpected id format %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d iterations", id, i)
		}
		seen[id] = true
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]types.Category{
		"meme":      types.CategoryMeme,
		" Trend ":   types.CategoryTrend,
		"AESTHETIC": types.CategoryAesthetic,
		"movement":  types.CategoryMovement,
		"":          types.CategoryCustom,
		"vibe":      types.CategoryCustom,
	}
	for in, want := range cases {
		if got := types.ParseCategory(in); got != want {
			t.Errorf("ParseCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEdgeType_IsValid(t *testing.T) {
	for _, et := range types.ValidEdgeTypes {
		if !et.IsValid() {
			t.Errorf("%q should be valid", et)
		}
	}
	for _, bad := range []types.EdgeType{"", "Related", "causes"} {
		if bad.IsValid() {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{7, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
		{math.Inf(-1), 0},
	}
	for _, tc := range cases {
		if got := types.Clamp01(tc.in); got != tc.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	v := &types.Vibe{Strength: 1.7, CurrentRelevance: -2, Category: "Meme"}
	v.Normalize()
	if v.Strength != 1 || v.CurrentRelevance != 0 {
		t.Errorf("numeric state not clamped: %+v", v)
	}
	if v.Category != types.CategoryMeme {
		t.Errorf("category = %q, want meme", v.Category)
	}
}

func TestClone_NoSharedState(t *testing.T) {
	orig := &types.Vibe{
		ID:           "v1",
		Keywords:     []string{"a"},
		Sources:      []string{"s"},
		Domains:      []string{"d"},
		RelatedVibes: []string{"v2"},
		Influences:   []string{"v3"},
		Embedding:    []float32{1, 2, 3},
		Metadata: map[string]interface{}{
			"nested": map[string]interface{}{"k": "v"},
			"list":   []interface{}{"x"},
		},
		Geography: &types.Geography{Primary: "us", Relevance: map[string]float64{"us": 1}},
	}
	c := orig.Clone()

	c.Keywords[0] = "changed"
	c.Sources[0] = "changed"
	c.Domains[0] = "changed"
	c.RelatedVibes[0] = "changed"
	c.Influences[0] = "changed"
	c.Embedding[0] = 99
	c.Metadata["nested"].(map[string]interface{})["k"] = "changed"
	c.Metadata["list"].([]interface{})[0] = "changed"
	c.Geography.Relevance["us"] = 0
	c.Geography.Primary = "uk"

	if orig.Keywords[0] != "a" || orig.Sources[0] != "s" || orig.Domains[0] != "d" {
		t.Error("string slices shared with clone")
	}
	if orig.RelatedVibes[0] != "v2" || orig.Influences[0] != "v3" {
		t.Error("reference slices shared with clone")
	}
	if orig.Embedding[0] != 1 {
		t.Error("embedding shared with clone")
	}
	if orig.Metadata["nested"].(map[string]interface{})["k"] != "v" {
		t.Error("nested metadata map shared with clone")
	}
	if orig.Metadata["list"].([]interface{})[0] != "x" {
		t.Error("metadata slice shared with clone")
	}
	if orig.Geography.Relevance["us"] != 1 || orig.Geography.Primary != "us" {
		t.Error("geography shared with clone")
	}
}

func TestClone_Nil(t *testing.T) {
	var v *types.Vibe
	if v.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestLastHaloBoost_SurvivesJSONRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := &types.Vibe{
		ID: "target",
		Metadata: map[string]interface{}{
			types.MetaLastHaloBoost: types.HaloBoost{SourceID: "src", TargetID: "target", Similarity: 0.8, Boost: 0.075, AppliedAt: at},
		},
	}

	hb, ok := v.LastHaloBoost()
	if !ok || hb.SourceID != "src" {
		t.Fatalf("in-process provenance not readable: %+v %v", hb, ok)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var decoded types.Vibe
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	hb, ok = decoded.LastHaloBoost()
	if !ok {
		t.Fatal("provenance lost after round trip")
	}
	if hb.SourceID != "src" || hb.Similarity != 0.8 || hb.Boost != 0.075 || !hb.AppliedAt.Equal(at) {
		t.Errorf("unexpected provenance after round trip: %+v", hb)
	}
}

func TestGeography_IsGlobal(t *testing.T) {
	var nilGeo *types.Geography
	if !nilGeo.IsGlobal() {
		t.Error("nil geography should be global")
	}
	if !(&types.Geography{Primary: "Global"}).IsGlobal() {
		t.Error("primary=Global should be global")
	}
	if (&types.Geography{Primary: "jp"}).IsGlobal() {
		t.Error("primary=jp should not be global")
	}
}

func TestVibeText_IncludesAllSearchableFields(t *testing.T) {
	v := &types.Vibe{Name: "Quiet Luxury", Description: "Understated wealth", Keywords: []string{"Minimal"}, Domains: []string{"Fashion"}}
	text := v.Text()
	for _, want := range []string{"quiet luxury", "understated wealth", "minimal", "fashion"} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() = %q, missing %q", text, want)
		}
	}
}
