// Package memory provides the in-memory reference implementation of
// storage.GraphStore. A single RWMutex guards the whole graph: reads run
// concurrently, writes are exclusive. Every vibe that crosses the package
// boundary is deep-copied in both directions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/vecmath"
	"github.com/scrypster/vibegraph/pkg/types"
)

// GraphStore implements storage.GraphStore in process memory.
type GraphStore struct {
	mu   sync.RWMutex
	opts storage.Options

	vibes map[string]*types.Vibe
	edges map[types.EdgeKey]types.Edge

	// incident maps a vibe id to the keys of every edge touching it, so
	// that Delete and GetEdges(id) cost O(degree).
	incident map[string]map[types.EdgeKey]struct{}

	lastUpdated time.Time
}

// New creates an empty GraphStore. Zero-valued options fall back to defaults.
func New(opts storage.Options) *GraphStore {
	opts.Normalize()
	return &GraphStore{
		opts:     opts,
		vibes:    make(map[string]*types.Vibe),
		edges:    make(map[types.EdgeKey]types.Edge),
		incident: make(map[string]map[types.EdgeKey]struct{}),
	}
}

func (s *GraphStore) prepare(v *types.Vibe, now time.Time) (*types.Vibe, error) {
	return storage.Prepare(v, s.opts.Dimensions, now)
}

// Put creates or updates a vibe. Updates to an existing id never count
// against the capacity limit.
func (s *GraphStore) Put(ctx context.Context, v *types.Vibe) error {
	now := time.Now()
	stored, err := s.prepare(v, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.vibes[stored.ID]; !exists && len(s.vibes) >= s.opts.MaxVibes {
		return goerr.Wrap(storage.ErrCapacityExceeded, "cannot insert vibe",
			goerr.V("id", stored.ID), goerr.V("max_vibes", s.opts.MaxVibes))
	}

	s.vibes[stored.ID] = stored
	s.lastUpdated = now
	return nil
}

// PutMany validates every vibe and checks capacity for the whole batch
// before writing anything, so a rejected batch leaves the store untouched.
func (s *GraphStore) PutMany(ctx context.Context, vibes []*types.Vibe) error {
	now := time.Now()
	prepared := make([]*types.Vibe, 0, len(vibes))
	for _, v := range vibes {
		stored, err := s.prepare(v, now)
		if err != nil {
			return err
		}
		prepared = append(prepared, stored)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newIDs := make(map[string]struct{})
	for _, v := range prepared {
		if _, exists := s.vibes[v.ID]; !exists {
			newIDs[v.ID] = struct{}{}
		}
	}
	if len(s.vibes)+len(newIDs) > s.opts.MaxVibes {
		return goerr.Wrap(storage.ErrCapacityExceeded, "cannot insert batch",
			goerr.V("new_vibes", len(newIDs)),
			goerr.V("stored", len(s.vibes)),
			goerr.V("max_vibes", s.opts.MaxVibes))
	}

	for _, v := range prepared {
		s.vibes[v.ID] = v
	}
	if len(prepared) > 0 {
		s.lastUpdated = now
	}
	return nil
}

// UpdateMany overwrites the vibes that still exist and skips the rest.
func (s *GraphStore) UpdateMany(ctx context.Context, vibes []*types.Vibe) ([]string, error) {
	now := time.Now()
	prepared := make([]*types.Vibe, 0, len(vibes))
	for _, v := range vibes {
		stored, err := s.prepare(v, now)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, stored)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []string
	written := 0
	for _, v := range prepared {
		if _, exists := s.vibes[v.ID]; !exists {
			skipped = append(skipped, v.ID)
			continue
		}
		s.vibes[v.ID] = v
		written++
	}
	if written > 0 {
		s.lastUpdated = now
	}
	return skipped, nil
}

// Get returns a deep copy of the vibe with the given id.
func (s *GraphStore) Get(ctx context.Context, id string) (*types.Vibe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vibes[id]
	if !ok {
		return nil, goerr.Wrap(storage.ErrNotFound, "vibe not found", goerr.V("id", id))
	}
	return v.Clone(), nil
}

// Delete removes the vibe and cascades to every incident edge.
func (s *GraphStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vibes[id]; !ok {
		return goerr.Wrap(storage.ErrNotFound, "vibe not found", goerr.V("id", id))
	}

	for key := range s.incident[id] {
		edge := s.edges[key]
		delete(s.edges, key)

		other := edge.From
		if other == id {
			other = edge.To
		}
		if other != id {
			if keys, ok := s.incident[other]; ok {
				delete(keys, key)
				if len(keys) == 0 {
					delete(s.incident, other)
				}
			}
		}
	}
	delete(s.incident, id)
	delete(s.vibes, id)
	s.lastUpdated = time.Now()
	return nil
}

// PutEdge upserts an edge. Both endpoints must already be stored.
func (s *GraphStore) PutEdge(ctx context.Context, e types.Edge) error {
	if err := storage.ValidateEdge(e); err != nil {
		return err
	}
	e.Strength = types.Clamp01(e.Strength)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, endpoint := range []string{e.From, e.To} {
		if _, ok := s.vibes[endpoint]; !ok {
			return goerr.Wrap(storage.ErrNotFound, "edge endpoint not found",
				goerr.V("id", endpoint), goerr.V("type", e.Type))
		}
	}

	key := e.Key()
	s.edges[key] = e
	s.addIncident(e.From, key)
	s.addIncident(e.To, key)
	s.lastUpdated = time.Now()
	return nil
}

func (s *GraphStore) addIncident(id string, key types.EdgeKey) {
	keys, ok := s.incident[id]
	if !ok {
		keys = make(map[types.EdgeKey]struct{})
		s.incident[id] = keys
	}
	keys[key] = struct{}{}
}

// GetEdges returns all edges, or the edges incident to id when id is set.
func (s *GraphStore) GetEdges(ctx context.Context, id string) ([]types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Edge
	if id == "" {
		out = make([]types.Edge, 0, len(s.edges))
		for _, e := range s.edges {
			out = append(out, e)
		}
	} else {
		keys := s.incident[id]
		out = make([]types.Edge, 0, len(keys))
		for key := range keys {
			out = append(out, s.edges[key])
		}
	}
	sortEdges(out)
	return out, nil
}

func sortEdges(edges []types.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Type < b.Type
	})
}

// All returns deep copies of every vibe, ordered by id.
func (s *GraphStore) All(ctx context.Context) ([]*types.Vibe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Vibe, 0, len(s.vibes))
	for _, v := range s.vibes {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of stored vibes.
func (s *GraphStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vibes), nil
}

// Snapshot returns the whole graph. The vibe map and edge slice are copies.
func (s *GraphStore) Snapshot(ctx context.Context) (*types.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &types.GraphSnapshot{
		Vibes: make(map[string]*types.Vibe, len(s.vibes)),
		Edges: make([]types.Edge, 0, len(s.edges)),
	}
	for id, v := range s.vibes {
		snap.Vibes[id] = v.Clone()
	}
	for _, e := range s.edges {
		snap.Edges = append(snap.Edges, e)
	}
	sortEdges(snap.Edges)

	snap.Metadata = types.SnapshotMetadata{
		VibeCount:   len(snap.Vibes),
		EdgeCount:   len(snap.Edges),
		LastUpdated: s.lastUpdated,
		Version:     types.SnapshotVersion,
	}
	return snap, nil
}

// FindByKeywords returns vibes sharing at least one keyword with the query.
func (s *GraphStore) FindByKeywords(ctx context.Context, keywords []string) ([]*types.Vibe, error) {
	set := storage.KeywordSet(keywords)
	if len(set) == 0 {
		return []*types.Vibe{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.Vibe{}
	overlap := make(map[string]int)
	for _, v := range s.vibes {
		if n := storage.KeywordOverlap(v, set); n > 0 {
			out = append(out, v.Clone())
			overlap[v.ID] = n
		}
	}
	storage.SortByOverlap(out, overlap)
	return out, nil
}

// FindByEmbedding scans every vibe whose embedding has the query's length.
func (s *GraphStore) FindByEmbedding(ctx context.Context, query []float32, topK int) ([]storage.ScoredVibe, error) {
	if err := storage.ValidateQueryVector(query, s.opts.Dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = storage.DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]storage.ScoredVibe, 0)
	for _, v := range s.vibes {
		if len(v.Embedding) != len(query) {
			continue
		}
		scored = append(scored, storage.ScoredVibe{
			Vibe:       v,
			Similarity: vecmath.Cosine(query, v.Embedding),
		})
	}

	storage.SortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	for i := range scored {
		scored[i].Vibe = scored[i].Vibe.Clone()
	}
	return scored, nil
}

// FindRecent returns the most recently mutated vibes.
func (s *GraphStore) FindRecent(ctx context.Context, limit int) ([]*types.Vibe, error) {
	if limit <= 0 {
		limit = storage.DefaultRecentLimit
	}

	s.mu.RLock()
	all := make([]*types.Vibe, 0, len(s.vibes))
	for _, v := range s.vibes {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*types.Vibe, len(all))
	for i, v := range all {
		out[i] = v.Clone()
	}
	s.mu.RUnlock()

	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *GraphStore) Close() error {
	return nil
}

// Compile-time assertion.
var _ storage.GraphStore = (*GraphStore)(nil)
