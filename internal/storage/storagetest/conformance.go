// Package storagetest holds the behavioural suite every storage.GraphStore
// implementation must pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/pkg/types"
)

// Factory builds an empty store with the given options. The factory owns
// cleanup (typically via t.Cleanup).
type Factory func(t *testing.T, opts storage.Options) storage.GraphStore

// Vec returns a vector of length dim whose first two components are x and y.
func Vec(dim int, x, y float32) []float32 {
	v := make([]float32, dim)
	v[0] = x
	if dim > 1 {
		v[1] = y
	}
	return v
}

// NewVibe returns a minimal valid vibe.
func NewVibe(id string, keywords ...string) *types.Vibe {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &types.Vibe{
		ID:               id,
		Name:             "vibe " + id,
		Description:      "test vibe " + id,
		Category:         types.CategoryTrend,
		Keywords:         keywords,
		Strength:         0.5,
		CurrentRelevance: 0.5,
		FirstSeen:        now,
		LastSeen:         now,
		Timestamp:        now,
	}
}

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		v := NewVibe("a", "Quiet", "luxury")
		v.Domains = []string{"fashion"}
		v.Sources = []string{"https://example.com/a"}
		v.Embedding = Vec(768, 1, 0)
		v.Metadata = map[string]interface{}{"origin": "test"}
		v.Geography = &types.Geography{Primary: "us", Relevance: map[string]float64{"uk": 0.4}}

		require.NoError(t, s.Put(ctx, v))
		got, err := s.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, v.Name, got.Name)
		assert.Equal(t, v.Keywords, got.Keywords)
		assert.Equal(t, v.Domains, got.Domains)
		assert.Equal(t, v.Sources, got.Sources)
		assert.Equal(t, v.Embedding, got.Embedding)
		assert.Equal(t, "test", got.Metadata["origin"])
		require.NotNil(t, got.Geography)
		assert.Equal(t, "us", got.Geography.Primary)
		assert.InDelta(t, 0.4, got.Geography.Relevance["uk"], 1e-9)
		assert.True(t, v.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", v.Timestamp, got.Timestamp)
	})

	t.Run("PutUpserts", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		v := NewVibe("a")
		require.NoError(t, s.Put(ctx, v))
		v.Strength = 0.9
		require.NoError(t, s.Put(ctx, v))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.InDelta(t, 0.9, got.Strength, 1e-9)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		_, err := s.Get(ctx, "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("RejectsUnsupportedDimension", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		v := NewVibe("a")
		v.Embedding = Vec(384, 1, 0)

		err := s.Put(ctx, v)
		assert.True(t, errors.Is(err, storage.ErrInvalidEmbedding))
		n, _ := s.Count(ctx)
		assert.Equal(t, 0, n)
	})

	t.Run("RejectsInvalidInput", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		assert.True(t, errors.Is(s.Put(ctx, &types.Vibe{Name: "no id"}), storage.ErrInvalidInput))
		assert.True(t, errors.Is(s.Put(ctx, nil), storage.ErrInvalidInput))
	})

	t.Run("ClampsOnWrite", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		v := NewVibe("a")
		v.Strength = 1.7
		v.CurrentRelevance = -0.2
		require.NoError(t, s.Put(ctx, v))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.Strength)
		assert.Equal(t, 0.0, got.CurrentRelevance)
	})

	t.Run("CapacityCountsOnlyNewIDs", func(t *testing.T) {
		s := newStore(t, storage.Options{MaxVibes: 2})
		require.NoError(t, s.Put(ctx, NewVibe("a")))
		require.NoError(t, s.Put(ctx, NewVibe("b")))

		err := s.Put(ctx, NewVibe("c"))
		assert.True(t, errors.Is(err, storage.ErrCapacityExceeded))

		// Updating an existing vibe at capacity is allowed.
		upd := NewVibe("a")
		upd.Strength = 0.8
		assert.NoError(t, s.Put(ctx, upd))
	})

	t.Run("PutManyIsAllOrNothing", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		bad := NewVibe("bad")
		bad.Embedding = Vec(384, 1, 0)

		err := s.PutMany(ctx, []*types.Vibe{NewVibe("a"), bad, NewVibe("c")})
		require.Error(t, err)
		n, _ := s.Count(ctx)
		assert.Equal(t, 0, n)

		capped := newStore(t, storage.Options{MaxVibes: 2})
		err = capped.PutMany(ctx, []*types.Vibe{NewVibe("a"), NewVibe("b"), NewVibe("c")})
		assert.True(t, errors.Is(err, storage.ErrCapacityExceeded))
		n, _ = capped.Count(ctx)
		assert.Equal(t, 0, n)

		require.NoError(t, s.PutMany(ctx, []*types.Vibe{NewVibe("a"), NewVibe("b")}))
		n, _ = s.Count(ctx)
		assert.Equal(t, 2, n)
	})

	t.Run("UpdateManySkipsDeleted", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		require.NoError(t, s.PutMany(ctx, []*types.Vibe{NewVibe("a"), NewVibe("b")}))
		require.NoError(t, s.Delete(ctx, "b"))

		a := NewVibe("a")
		a.Strength = 0.9
		skipped, err := s.UpdateMany(ctx, []*types.Vibe{a, NewVibe("b")})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, skipped)

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.InDelta(t, 0.9, got.Strength, 1e-9)
		_, err = s.Get(ctx, "b")
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		bad := NewVibe("a")
		bad.Embedding = Vec(384, 1, 0)
		_, err = s.UpdateMany(ctx, []*types.Vibe{bad})
		require.Error(t, err)
		got, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.InDelta(t, 0.9, got.Strength, 1e-9)
	})

	t.Run("DeleteCascadesEdges", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		require.NoError(t, s.PutMany(ctx, []*types.Vibe{NewVibe("a"), NewVibe("b")}))
		require.NoError(t, s.PutEdge(ctx, types.Edge{From: "a", To: "b", Type: types.EdgeRelated, Strength: 0.5}))

		require.NoError(t, s.Delete(ctx, "a"))

		n, _ := s.Count(ctx)
		assert.Equal(t, 1, n)
		all, err := s.GetEdges(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, all)
		incident, err := s.GetEdges(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, incident)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Metadata.VibeCount)
		assert.Equal(t, 0, snap.Metadata.EdgeCount)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		assert.True(t, errors.Is(s.Delete(ctx, "nope"), storage.ErrNotFound))
	})

	t.Run("EdgesKeyedByTriple", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		require.NoError(t, s.PutMany(ctx, []*types.Vibe{NewVibe("a"), NewVibe("b"), NewVibe("c")}))

		require.NoError(t, s.PutEdge(ctx, types.Edge{From: "a", To: "b", Type: types.EdgeRelated, Strength: 0.2}))
		require.NoError(t, s.PutEdge(ctx, types.Edge{From: "a", To: "b", Type: types.EdgeRelated, Strength: 0.7}))
		require.NoError(t, s.PutEdge(ctx, types.Edge{From: "a", To: "b", Type: types.EdgeAmplifies, Strength: 0.4}))
		require.NoError(t, s.PutEdge(ctx, types.Edge{From: "c", To: "a", Type: types.EdgeInfluences, Strength: 0.3}))

		all, err := s.GetEdges(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		ab, err := s.GetEdges(ctx, "b")
		require.NoError(t, err)
		require.Len(t, ab, 2)
		for _, e := range ab {
			if e.Type == types.EdgeRelated {
				assert.InDelta(t, 0.7, e.Strength, 1e-9)
			}
		}

		ofA, err := s.GetEdges(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, ofA, 3)
	})

	t.Run("EdgeEndpointsMustExist", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		require.NoError(t, s.Put(ctx, NewVibe("a")))
		err := s.PutEdge(ctx, types.Edge{From: "a", To: "ghost", Type: types.EdgeRelated})
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		err = s.PutEdge(ctx, types.Edge{From: "a", To: "a", Type: "bogus"})
		assert.True(t, errors.Is(err, storage.ErrInvalidInput))
	})

	t.Run("FindByKeywords", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		require.NoError(t, s.PutMany(ctx, []*types.Vibe{
			NewVibe("a", "cottagecore", "bread"),
			NewVibe("b", "Bread"),
			NewVibe("c", "crypto"),
		}))

		got, err := s.FindByKeywords(ctx, []string{"BREAD", "cottagecore"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)

		none, err := s.FindByKeywords(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FindByEmbeddingSameDimensionOnly", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		close768 := NewVibe("close")
		close768.Embedding = Vec(768, 1, 0.1)
		far768 := NewVibe("far")
		far768.Embedding = Vec(768, 0, 1)
		big := NewVibe("big")
		big.Embedding = Vec(1536, 1, 0)
		bare := NewVibe("bare")
		require.NoError(t, s.PutMany(ctx, []*types.Vibe{close768, far768, big, bare}))

		got, err := s.FindByEmbedding(ctx, Vec(768, 1, 0), 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "close", got[0].Vibe.ID)
		assert.Equal(t, "far", got[1].Vibe.ID)
		assert.Greater(t, got[0].Similarity, got[1].Similarity)

		top1, err := s.FindByEmbedding(ctx, Vec(768, 1, 0), 1)
		require.NoError(t, err)
		assert.Len(t, top1, 1)

		_, err = s.FindByEmbedding(ctx, Vec(384, 1, 0), 10)
		assert.True(t, errors.Is(err, storage.ErrInvalidEmbedding))
		_, err = s.FindByEmbedding(ctx, nil, 10)
		assert.True(t, errors.Is(err, storage.ErrInvalidEmbedding))
	})

	t.Run("FindRecent", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := 0; i < 5; i++ {
			v := NewVibe(fmt.Sprintf("v%d", i))
			v.Timestamp = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.Put(ctx, v))
		}

		got, err := s.FindRecent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "v4", got[0].ID)
		assert.Equal(t, "v3", got[1].ID)
		assert.Equal(t, "v2", got[2].ID)
	})

	t.Run("ReturnsDeepCopies", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		v := NewVibe("a", "one")
		v.Embedding = Vec(768, 1, 0)
		require.NoError(t, s.Put(ctx, v))

		// Mutating the caller's value after Put must not reach the store.
		v.Keywords[0] = "mutated"
		v.Embedding[0] = 42

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "one", got.Keywords[0])
		assert.Equal(t, float32(1), got.Embedding[0])

		// Nor may mutating a read result.
		got.Keywords[0] = "also mutated"
		again, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "one", again.Keywords[0])
	})

	t.Run("SnapshotIsIndependent", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		require.NoError(t, s.PutMany(ctx, []*types.Vibe{NewVibe("a"), NewVibe("b")}))
		require.NoError(t, s.PutEdge(ctx, types.Edge{From: "a", To: "b", Type: types.EdgeInfluences, Strength: 1}))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Metadata.VibeCount)
		assert.Equal(t, 1, snap.Metadata.EdgeCount)
		assert.Equal(t, types.SnapshotVersion, snap.Metadata.Version)

		delete(snap.Vibes, "a")
		n, _ := s.Count(ctx)
		assert.Equal(t, 2, n)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		s := newStore(t, storage.DefaultOptions())
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					id := fmt.Sprintf("w%d-%d", w, i)
					assert.NoError(t, s.Put(ctx, NewVibe(id, "shared")))
					_, _ = s.FindByKeywords(ctx, []string{"shared"})
					_, _ = s.Count(ctx)
				}
			}(w)
		}
		wg.Wait()

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 160, n)
	})
}
