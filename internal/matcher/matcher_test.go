package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vibegraph/internal/registry"
	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/storage/memory"
	"github.com/scrypster/vibegraph/pkg/types"
)

// fixedEmbedder returns the same query vector for every text.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func vibe(id string, emb []float32, keywords ...string) *types.Vibe {
	return &types.Vibe{
		ID:               id,
		Name:             id,
		Keywords:         keywords,
		Embedding:        emb,
		Strength:         1,
		CurrentRelevance: 1,
		LastSeen:         time.Now(),
	}
}

func snapshot(vibes ...*types.Vibe) *types.GraphSnapshot {
	s := &types.GraphSnapshot{Vibes: make(map[string]*types.Vibe)}
	for _, v := range vibes {
		s.Vibes[v.ID] = v
	}
	s.Metadata.VibeCount = len(s.Vibes)
	return s
}

func ids(matches []types.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Vibe.ID
	}
	return out
}

var scenario = types.Scenario{Description: "launching a bakery brand for gen z"}

func TestSemantic_ThresholdAndOrder(t *testing.T) {
	snap := snapshot(
		vibe("exact", []float32{1, 0}),
		vibe("close", []float32{1, 0.3}),
		vibe("orthogonal", []float32{0, 1}),
		vibe("weak", []float32{0.4, 0.9165}), // cos ~ 0.4, excluded
		vibe("mismatched", []float32{1, 0, 0}),
		vibe("bare", nil),
	)
	m := NewSemantic(&fixedEmbedder{vec: []float32{1, 0}})

	got := m.Match(context.Background(), scenario, snap, nil)
	assert.Equal(t, []string{"exact", "close"}, ids(got))
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, StrategySemantic, got[0].Strategy)
}

func TestSemantic_Limit(t *testing.T) {
	var vibes []*types.Vibe
	for i := 0; i < 30; i++ {
		vibes = append(vibes, vibe(string(rune('a'+i)), []float32{1, float32(i) * 0.01}))
	}
	m := NewSemantic(&fixedEmbedder{vec: []float32{1, 0}})
	assert.Len(t, m.Match(context.Background(), scenario, snapshot(vibes...), nil), DefaultLimit)

	small := NewSemantic(&fixedEmbedder{vec: []float32{1, 0}}, WithLimit(3), WithThreshold(0.99))
	assert.Len(t, small.Match(context.Background(), scenario, snapshot(vibes...), nil), 3)
}

func TestSemantic_DegradesOnEmbedderFailure(t *testing.T) {
	m := NewSemantic(&fixedEmbedder{err: errors.New("timeout")})
	got := m.Match(context.Background(), scenario, snapshot(vibe("a", []float32{1, 0})), nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, NewSemantic(nil).Match(context.Background(), scenario, snapshot(vibe("a", []float32{1, 0})), nil))
	assert.Empty(t, m.Match(context.Background(), scenario, nil, nil))
}

func TestPersonalized_AvoidTopicsIsHardExclusion(t *testing.T) {
	snap := snapshot(
		vibe("election-memes", []float32{1, 0}, "Politics", "satire"),
		vibe("sourdough", []float32{0.9, 0.1}, "bread"),
	)
	m := NewPersonalized(NewSemantic(&fixedEmbedder{vec: []float32{1, 0}}))

	got := m.Match(context.Background(), scenario, snap, &types.UserProfile{AvoidTopics: []string{"politics"}})
	assert.Equal(t, []string{"sourdough"}, ids(got))
}

func TestPersonalized_InterestBoostReorders(t *testing.T) {
	snap := snapshot(
		vibe("top", []float32{1, 0}, "crypto"),
		vibe("baking", []float32{1, 0.2}, "bread", "baking"),
	)
	m := NewPersonalized(NewSemantic(&fixedEmbedder{vec: []float32{1, 0}}))

	got := m.Match(context.Background(), scenario, snap, &types.UserProfile{Interests: []string{"Bread"}})
	require.Len(t, got, 2)
	assert.Equal(t, "baking", got[0].Vibe.ID)
	assert.Greater(t, got[0].Score, 1.0)
	assert.Equal(t, StrategyPersonalized, got[0].Strategy)
}

func TestPersonalized_Region(t *testing.T) {
	global := vibe("global", []float32{1, 0})
	local := vibe("local", []float32{1, 0.01})
	local.Geography = &types.Geography{Primary: "uk"}
	foreign := vibe("foreign", []float32{1, 0.02})
	foreign.Geography = &types.Geography{Primary: "jp"}
	explicit := vibe("explicit", []float32{1, 0.03})
	explicit.Geography = &types.Geography{Primary: "us", Relevance: map[string]float64{"uk": 0.1}}

	m := NewPersonalized(NewSemantic(&fixedEmbedder{vec: []float32{1, 0}}))
	got := m.Match(context.Background(), scenario, snapshot(global, local, foreign, explicit), &types.UserProfile{Region: "UK"})

	// explicit (0.1) is below the 0.2 pre-filter; foreign has the 0.3 default.
	assert.Equal(t, []string{"global", "local", "foreign"}, ids(got))
	assert.InDelta(t, 0.3, got[2].Score, 0.01)
}

func TestRegionalRelevance(t *testing.T) {
	v := vibe("v", nil)
	assert.Equal(t, 1.0, RegionalRelevance(v, "fr"))

	v.Geography = &types.Geography{Primary: "global"}
	assert.Equal(t, 1.0, RegionalRelevance(v, "fr"))

	v.Geography = &types.Geography{Primary: "FR", Relevance: map[string]float64{"de": 0.6}}
	assert.Equal(t, 1.0, RegionalRelevance(v, "fr"))
	assert.Equal(t, 0.6, RegionalRelevance(v, "DE"))
	assert.Equal(t, DefaultRegionalRelevance, RegionalRelevance(v, "br"))
	assert.Equal(t, 1.0, RegionalRelevance(v, ""))
}

func TestPersonalized_NilProfileIsSemantic(t *testing.T) {
	snap := snapshot(vibe("a", []float32{1, 0}))
	m := NewPersonalized(NewSemantic(&fixedEmbedder{vec: []float32{1, 0}}))
	got := m.Match(context.Background(), scenario, snap, nil)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestKeyword(t *testing.T) {
	snap := snapshot(
		vibe("bakery", nil, "bakery", "gen z"),
		vibe("half", nil, "bakery", "vinyl"),
		vibe("none", nil, "vinyl"),
	)
	got := NewKeyword().Match(context.Background(), scenario, snap, nil)
	assert.Equal(t, []string{"bakery", "half"}, ids(got))
}

func fixed(matches ...types.Match) Matcher {
	return MatcherFunc(func(context.Context, types.Scenario, *types.GraphSnapshot, *types.UserProfile) []types.Match {
		return matches
	})
}

func TestWeighted_AveragesOverReturningStrategies(t *testing.T) {
	a, b, c := vibe("a", nil), vibe("b", nil), vibe("c", nil)
	w, err := NewWeighted(
		Member{Name: "one", Matcher: fixed(types.Match{Vibe: a, Score: 0.8}, types.Match{Vibe: b, Score: 0.6})},
		Member{Name: "two", Matcher: fixed(types.Match{Vibe: a, Score: 0.4}, types.Match{Vibe: c, Score: 0.9}), Weight: Weight(0.5)},
	)
	require.NoError(t, err)

	got := w.Match(context.Background(), scenario, snapshot(a, b, c), nil)
	require.Len(t, got, 3)
	scores := map[string]float64{}
	for _, m := range got {
		scores[m.Vibe.ID] = m.Score
	}
	assert.InDelta(t, (0.8+0.2)/2, scores["a"], 1e-9)
	assert.InDelta(t, 0.6, scores["b"], 1e-9)
	assert.InDelta(t, 0.45, scores["c"], 1e-9)
	assert.Equal(t, "b", got[0].Vibe.ID)
}

func TestWeighted_ZeroWeightIsHonored(t *testing.T) {
	a, b := vibe("a", nil), vibe("b", nil)
	w, err := NewWeighted(
		Member{Name: "one", Matcher: fixed(types.Match{Vibe: a, Score: 0.8})},
		Member{Name: "muted", Matcher: fixed(types.Match{Vibe: b, Score: 0.9}), Weight: Weight(0)},
	)
	require.NoError(t, err)

	got := w.Match(context.Background(), scenario, snapshot(a, b), nil)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Vibe.ID)
	assert.InDelta(t, 0.8, got[0].Score, 1e-9)
	assert.InDelta(t, 0.0, got[1].Score, 1e-9)
}

func TestNewWeighted_RejectsInvalidWeights(t *testing.T) {
	for name, weight := range map[string]float64{
		"negative": -0.5,
		"NaN":      math.NaN(),
		"infinite": math.Inf(1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewWeighted(Member{Name: "one", Matcher: fixed(), Weight: Weight(weight)})
			assert.True(t, errors.Is(err, ErrInvalidWeight))
		})
	}
}

func TestCombiners_CapResults(t *testing.T) {
	var one, two []types.Match
	for i := 0; i < 15; i++ {
		one = append(one, types.Match{Vibe: vibe(fmt.Sprintf("one-%d", i), nil), Score: 0.5})
		two = append(two, types.Match{Vibe: vibe(fmt.Sprintf("two-%d", i), nil), Score: 0.4})
	}
	members := []Member{
		{Name: "one", Matcher: fixed(one...)},
		{Name: "two", Matcher: fixed(two...)},
	}

	e := NewEnsemble(15, members...)
	assert.Len(t, e.Match(context.Background(), scenario, nil, nil), DefaultLimit)
	assert.Len(t, e.WithLimit(3).Match(context.Background(), scenario, nil, nil), 3)

	w, err := NewWeighted(members...)
	require.NoError(t, err)
	assert.Len(t, w.WithLimit(4).Match(context.Background(), scenario, nil, nil), 4)
}

func TestEnsemble_UniqueIDs(t *testing.T) {
	a, b, c := vibe("a", nil), vibe("b", nil), vibe("c", nil)
	e := NewEnsemble(0,
		Member{Name: "one", Matcher: fixed(types.Match{Vibe: a, Score: 0.5}, types.Match{Vibe: b, Score: 0.4})},
		Member{Name: "two", Matcher: fixed(types.Match{Vibe: a, Score: 0.9}, types.Match{Vibe: c, Score: 0.7})},
	)

	got := e.Match(context.Background(), scenario, snapshot(a, b, c), nil)
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	// first occurrence wins
	assert.InDelta(t, 0.5, got[1].Score, 1e-9)
	assert.Equal(t, "one", got[1].Strategy)
}

func TestEnsemble_TopKPerStrategy(t *testing.T) {
	var matches []types.Match
	for i := 0; i < 15; i++ {
		matches = append(matches, types.Match{Vibe: vibe(string(rune('a'+i)), nil), Score: 1 - float64(i)*0.01})
	}
	e := NewEnsemble(5, Member{Name: "one", Matcher: fixed(matches...)})
	assert.Len(t, e.Match(context.Background(), scenario, nil, nil), 5)
}

func TestCombiners_SurvivePanickingStrategy(t *testing.T) {
	a := vibe("a", nil)
	boom := MatcherFunc(func(context.Context, types.Scenario, *types.GraphSnapshot, *types.UserProfile) []types.Match {
		panic("boom")
	})
	e := NewEnsemble(10, Member{Name: "boom", Matcher: boom}, Member{Name: "ok", Matcher: fixed(types.Match{Vibe: a, Score: 1})})
	assert.Equal(t, []string{"a"}, ids(e.Match(context.Background(), scenario, nil, nil)))
}

func TestService_MatchFiltersDecayedAndFallsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New(storage.DefaultOptions())

	fresh := vibe("fresh", nil, "bakery")
	stale := vibe("stale", nil, "bakery")
	stale.LastSeen = time.Now().Add(-365 * 24 * time.Hour)
	stale.Category = types.CategoryMeme
	require.NoError(t, store.PutMany(ctx, []*types.Vibe{fresh, stale}))

	svc := NewService(store, NewDefaultRegistry(nil), 0.05)
	resp := svc.Match(ctx, Request{Strategy: "semantic", Scenario: scenario})
	assert.Equal(t, StrategyKeyword, resp.Strategy)
	assert.Equal(t, []string{"fresh"}, ids(resp.Matches))
}

func TestService_EmptyRegistry(t *testing.T) {
	svc := NewService(memory.New(storage.DefaultOptions()), registry.New[Matcher]("matcher"), 0)
	resp := svc.Match(context.Background(), Request{Scenario: scenario})
	assert.NotNil(t, resp.Matches)
	assert.Empty(t, resp.Matches)
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(&fixedEmbedder{vec: []float32{1}})
	assert.Equal(t, []string{"ensemble", "keyword", "personalized", "semantic", "weighted"}, r.Names())
	assert.Equal(t, StrategyPersonalized, r.Default())
}

func TestNewRegistryConfig(t *testing.T) {
	emb := &fixedEmbedder{vec: []float32{1}}

	r := NewRegistry(emb, RegistryConfig{Default: "Ensemble", Limit: 3})
	assert.Equal(t, StrategyEnsemble, r.Default())

	r = NewRegistry(emb, RegistryConfig{Default: "no-such-strategy"})
	assert.Equal(t, StrategyPersonalized, r.Default())

	r = NewRegistry(nil, RegistryConfig{Default: StrategySemantic})
	assert.Equal(t, []string{"keyword"}, r.Names())
	name, _, err := r.Select("")
	require.NoError(t, err)
	assert.Equal(t, StrategyKeyword, name)
}
