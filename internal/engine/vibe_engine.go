package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/pkg/types"
)

const (
	// decayScoreThreshold is the minimum relevance change written back by a
	// decay pass.
	decayScoreThreshold = 0.001

	// relatedEdgeStrength is the strength of edges derived from a vibe's
	// RelatedVibes and Influences lists.
	relatedEdgeStrength = 0.5
)

// VibeEngine coordinates the relevance model with a GraphStore. It runs at
// most one mutating cycle (ingest or decay) at a time.
type VibeEngine struct {
	config    Config
	store     storage.GraphStore
	relevance *RelevanceEngine

	analyzer   Analyzer
	embedder   Embedder
	collectors map[string]Collector

	now func() time.Time

	// cycleMu serialises ingest and decay passes.
	cycleMu sync.Mutex

	mu      sync.RWMutex
	onEvent func(Event)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a VibeEngine.
type Option func(*VibeEngine)

// WithAnalyzer sets the analyzer used by RunCycle.
func WithAnalyzer(a Analyzer) Option {
	return func(e *VibeEngine) { e.analyzer = a }
}

// WithEmbedder sets the embedder used for new vibes.
func WithEmbedder(emb Embedder) Option {
	return func(e *VibeEngine) { e.embedder = emb }
}

// WithCollector adds a named collector used by RunCycle.
func WithCollector(name string, c Collector) Option {
	return func(e *VibeEngine) { e.collectors[name] = c }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *VibeEngine) { e.now = now }
}

// NewVibeEngine creates an engine over store.
func NewVibeEngine(store storage.GraphStore, cfg Config, opts ...Option) (*VibeEngine, error) {
	if store == nil {
		return nil, goerr.New("graph store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid engine config")
	}

	e := &VibeEngine{
		config:     cfg,
		store:      store,
		relevance:  NewRelevanceEngine(cfg.Relevance),
		collectors: make(map[string]Collector),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Relevance returns the engine's relevance model.
func (e *VibeEngine) Relevance() *RelevanceEngine {
	return e.relevance
}

// Store returns the underlying graph store.
func (e *VibeEngine) Store() storage.GraphStore {
	return e.store
}

// SetOnEvent sets a callback fired for every graph change the engine makes.
// The callback runs synchronously and must not block.
func (e *VibeEngine) SetOnEvent(callback func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = callback
}

func (e *VibeEngine) emit(evt Event) {
	e.mu.RLock()
	cb := e.onEvent
	e.mu.RUnlock()
	if cb == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	cb(evt)
}

// RunCycle collects raw content from every collector, extracts candidate
// vibes, ingests them and finally decays and prunes the graph. Collector and
// analyzer failures are logged and treated as "nothing new this cycle".
func (e *VibeEngine) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := e.now()
	res := &CycleResult{}

	raw := e.collect(ctx)
	res.Collected = len(raw)

	var candidates []*types.Vibe
	if len(raw) > 0 && e.analyzer != nil {
		var err error
		candidates, err = e.analyzer.Analyze(ctx, raw)
		if err != nil {
			log.WithError(err).Warn("analyzer failed, no new vibes this cycle")
			candidates = nil
		}
	}
	res.Candidates = len(candidates)

	ingest, err := e.Ingest(ctx, candidates)
	if err != nil {
		return nil, goerr.Wrap(err, "ingest failed")
	}
	res.Ingest = *ingest

	decay, err := e.ApplyDecayAndPrune(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "decay failed")
	}
	res.Decay = *decay
	res.Duration = e.now().Sub(start)

	log.WithFields(log.Fields{
		"collected": res.Collected,
		"created":   len(res.Ingest.Created),
		"merged":    len(res.Ingest.Merged),
		"halo":      len(res.Ingest.HaloBoosts),
		"pruned":    len(res.Decay.Pruned),
		"duration":  res.Duration,
	}).Info("cycle completed")

	e.emit(Event{Type: EventCycleCompleted, Data: map[string]interface{}{
		"collected": res.Collected,
		"created":   len(res.Ingest.Created),
		"merged":    len(res.Ingest.Merged),
		"pruned":    len(res.Decay.Pruned),
	}})
	return res, nil
}

func (e *VibeEngine) collect(ctx context.Context) []types.RawContent {
	names := make([]string, 0, len(e.collectors))
	for name := range e.collectors {
		names = append(names, name)
	}
	sort.Strings(names)

	var raw []types.RawContent
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, e.config.CollectTimeout)
		items, err := e.collectors[name].Collect(cctx)
		cancel()
		if err != nil {
			log.WithError(err).WithField("collector", name).Warn("collector failed")
			continue
		}
		for i := range items {
			if items[i].Source == "" {
				items[i].Source = name
			}
		}
		raw = append(raw, items...)
	}
	return raw
}

func normalizedName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Ingest merges candidate vibes into the graph.
//
// A candidate whose normalized name matches a stored vibe is merged into it
// as a new occurrence; otherwise it is created with a fresh id and, when it
// has none, a suggested half-life. New vibes are embedded in one batch. Every
// merged vibe then propagates its halo, sequentially, over a working copy of
// the graph. Changes to stored vibes are written with one UpdateMany, so no
// intermediate halo state is ever visible, and a vibe deleted while the pass
// ran stays deleted. New vibes follow with one PutMany.
func (e *VibeEngine) Ingest(ctx context.Context, candidates []*types.Vibe) (*IngestResult, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	res := &IngestResult{Created: []string{}, Merged: []string{}}
	if len(candidates) == 0 {
		return res, nil
	}

	now := e.now()
	all, err := e.store.All(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load graph")
	}

	working := make(map[string]*types.Vibe, len(all))
	byName := make(map[string]string, len(all))
	for _, v := range all {
		working[v.ID] = v
		byName[normalizedName(v.Name)] = v.ID
	}

	dirty := make(map[string]struct{})
	// alias maps candidate ids to the stored id they ended up under, so
	// related lists that name other candidates resolve after a merge.
	alias := make(map[string]string)
	var boosted []string
	boostedSet := make(map[string]struct{})

	for _, cand := range candidates {
		if cand == nil || strings.TrimSpace(cand.Name) == "" {
			res.Skipped++
			continue
		}

		key := normalizedName(cand.Name)
		if id, ok := byName[key]; ok {
			if cand.ID != "" {
				alias[cand.ID] = id
			}
			working[id] = e.relevance.MergeOccurrence(working[id], cand, now)
			dirty[id] = struct{}{}
			if _, seen := boostedSet[id]; !seen {
				boostedSet[id] = struct{}{}
				boosted = append(boosted, id)
				res.Merged = append(res.Merged, id)
			}
			continue
		}

		v := e.newVibe(cand, now)
		if _, taken := working[v.ID]; taken {
			v.ID = types.NewVibeID()
		}
		if cand.ID != "" {
			alias[cand.ID] = v.ID
		}
		working[v.ID] = v
		byName[key] = v.ID
		dirty[v.ID] = struct{}{}
		res.Created = append(res.Created, v.ID)
	}

	res.Embedded = e.embedMissing(ctx, working, dirty)

	res.HaloBoosts = e.relevance.ApplyHaloEffects(working, boosted, now)
	for _, hb := range res.HaloBoosts {
		dirty[hb.TargetID] = struct{}{}
	}

	created := make(map[string]struct{}, len(res.Created))
	for _, id := range res.Created {
		created[id] = struct{}{}
	}
	ids := make([]string, 0, len(dirty))
	for id := range dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var inserts, updates []*types.Vibe
	for _, id := range ids {
		if _, ok := created[id]; ok {
			inserts = append(inserts, working[id])
		} else {
			updates = append(updates, working[id])
		}
	}

	skipped, err := e.store.UpdateMany(ctx, updates)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to persist ingest batch", goerr.V("vibes", len(updates)))
	}
	if err := e.store.PutMany(ctx, inserts); err != nil {
		return nil, goerr.Wrap(err, "failed to persist new vibes", goerr.V("vibes", len(inserts)))
	}
	if len(skipped) > 0 {
		log.WithField("ids", skipped).Info("vibes deleted during ingest were not written back")
		ids = res.dropDeleted(ids, skipped, working)
	}

	res.Edges = e.linkEdges(ctx, working, alias, ids, res.HaloBoosts, now)

	for _, id := range res.Created {
		e.emit(Event{Type: EventVibeCreated, VibeID: id, Timestamp: now})
	}
	for _, id := range res.Merged {
		e.emit(Event{Type: EventVibeMerged, VibeID: id, Timestamp: now})
	}
	for _, hb := range res.HaloBoosts {
		e.emit(Event{Type: EventHaloApplied, VibeID: hb.TargetID, Timestamp: now, Data: map[string]interface{}{
			"source_id":  hb.SourceID,
			"similarity": hb.Similarity,
			"boost":      hb.Boost,
		}})
	}
	return res, nil
}

func (e *VibeEngine) dimensions() []int {
	if len(e.config.Dimensions) > 0 {
		return e.config.Dimensions
	}
	return storage.DefaultDimensions
}

func (e *VibeEngine) newVibe(cand *types.Vibe, now time.Time) *types.Vibe {
	v := cand.Clone()
	if v.ID == "" {
		v.ID = types.NewVibeID()
	}
	v.Name = strings.TrimSpace(v.Name)
	v.Category = types.ParseCategory(string(v.Category))
	if v.Strength <= 0 || math.IsNaN(v.Strength) {
		v.Strength = e.config.NewVibeStrength
	}
	v.Strength = types.Clamp01(v.Strength)
	v.CurrentRelevance = v.Strength
	if v.HalfLife <= 0 && v.DecayRate <= 0 {
		v.HalfLife = SuggestHalfLife(v)
	}
	v.FirstSeen = now
	v.LastSeen = now
	v.Timestamp = now
	return v
}

// embedMissing embeds every dirty vibe lacking an embedding. A failed or
// unusable embedding leaves the vibe without one.
func (e *VibeEngine) embedMissing(ctx context.Context, working map[string]*types.Vibe, dirty map[string]struct{}) int {
	if e.embedder == nil {
		return 0
	}

	var ids []string
	for id := range dirty {
		if !working[id].HasEmbedding() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0
	}
	sort.Strings(ids)

	texts := make([]string, len(ids))
	for i, id := range ids {
		texts[i] = working[id].EmbeddingText()
	}

	ectx, cancel := context.WithTimeout(ctx, e.config.EmbedTimeout)
	defer cancel()
	vecs, err := e.embedder.EmbedMany(ectx, texts)
	if err != nil {
		log.WithError(err).WithField("count", len(ids)).Warn("embedding failed, storing vibes without embeddings")
		return 0
	}

	n := 0
	for i, id := range ids {
		if i >= len(vecs) {
			break
		}
		if err := storage.ValidateQueryVector(vecs[i], e.dimensions()); err != nil {
			log.WithError(err).WithField("vibe_id", id).Warn("discarding invalid embedding")
			continue
		}
		working[id].Embedding = vecs[i]
		n++
	}
	return n
}

// linkEdges upserts amplifies edges for halo boosts and related/influences
// edges for the reference lists of changed vibes. Edge failures are logged.
func (e *VibeEngine) linkEdges(ctx context.Context, working map[string]*types.Vibe, alias map[string]string, changed []string, boosts []types.HaloBoost, now time.Time) int {
	resolve := func(id string) string {
		if to, ok := alias[id]; ok {
			return to
		}
		return id
	}

	var edges []types.Edge
	for _, hb := range boosts {
		if _, ok := working[hb.SourceID]; !ok {
			continue
		}
		edges = append(edges, types.Edge{
			From: hb.SourceID, To: hb.TargetID, Type: types.EdgeAmplifies,
			Strength: hb.Similarity, CreatedAt: now,
		})
	}
	for _, id := range changed {
		v := working[id]
		for _, rel := range v.RelatedVibes {
			rel = resolve(rel)
			if _, ok := working[rel]; ok && rel != id {
				edges = append(edges, types.Edge{From: id, To: rel, Type: types.EdgeRelated, Strength: relatedEdgeStrength, CreatedAt: now})
			}
		}
		for _, inf := range v.Influences {
			inf = resolve(inf)
			if _, ok := working[inf]; ok && inf != id {
				edges = append(edges, types.Edge{From: id, To: inf, Type: types.EdgeInfluences, Strength: relatedEdgeStrength, CreatedAt: now})
			}
		}
	}

	n := 0
	for _, edge := range edges {
		if err := e.store.PutEdge(ctx, edge); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"from": edge.From, "to": edge.To, "type": edge.Type,
			}).Warn("failed to save edge")
			continue
		}
		n++
	}
	return n
}

// ApplyDecayAndPrune recomputes CurrentRelevance for every vibe, writes back
// changed values and deletes vibes whose relevance fell below the prune
// threshold. Deletion cascades to edges. Timestamps are left alone. Vibes
// deleted by another writer during the pass are not written back.
func (e *VibeEngine) ApplyDecayAndPrune(ctx context.Context) (*DecayResult, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	now := e.now()
	all, err := e.store.All(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load graph")
	}

	res := &DecayResult{Pruned: []string{}}
	var changed []*types.Vibe
	for _, v := range all {
		r := Decay(v, now)
		if r < e.config.Relevance.PruneThreshold {
			if err := e.store.Delete(ctx, v.ID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, goerr.Wrap(err, "failed to prune vibe", goerr.V("id", v.ID))
			}
			res.Pruned = append(res.Pruned, v.ID)
			continue
		}
		if math.Abs(r-v.CurrentRelevance) >= decayScoreThreshold {
			v.CurrentRelevance = r
			changed = append(changed, v)
		}
	}

	skipped, err := e.store.UpdateMany(ctx, changed)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to persist decayed relevance", goerr.V("vibes", len(changed)))
	}
	res.Updated = len(changed) - len(skipped)

	for _, id := range res.Pruned {
		e.emit(Event{Type: EventVibePruned, VibeID: id, Timestamp: now})
	}
	if res.Updated > 0 || len(res.Pruned) > 0 {
		e.emit(Event{Type: EventDecayApplied, Timestamp: now, Data: map[string]interface{}{
			"updated": res.Updated,
			"pruned":  len(res.Pruned),
		}})
	}
	return res, nil
}

// PutVibe upserts v outside of any ingest or decay pass.
func (e *VibeEngine) PutVibe(ctx context.Context, v *types.Vibe) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.store.Put(ctx, v)
}

// DeleteVibe deletes a vibe and its edges outside of any ingest or decay pass.
func (e *VibeEngine) DeleteVibe(ctx context.Context, id string) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.emit(Event{Type: EventVibeDeleted, VibeID: id})
	return nil
}

// Stats returns temporal statistics over the whole graph.
func (e *VibeEngine) Stats(ctx context.Context) (Stats, error) {
	all, err := e.store.All(ctx)
	if err != nil {
		return Stats{}, goerr.Wrap(err, "failed to load graph")
	}
	return e.relevance.Stats(all, e.now()), nil
}

// StartDecayTimer runs ApplyDecayAndPrune once immediately and then every
// DecayInterval until Stop is called.
func (e *VibeEngine) StartDecayTimer(ctx context.Context) {
	run := func() {
		res, err := e.ApplyDecayAndPrune(ctx)
		if err != nil {
			log.WithError(err).Error("decay pass failed")
			return
		}
		if res.Updated > 0 || len(res.Pruned) > 0 {
			log.WithFields(log.Fields{"updated": res.Updated, "pruned": len(res.Pruned)}).Info("decay pass")
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		run()

		ticker := time.NewTicker(e.config.DecayInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				run()
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines and waits for them.
func (e *VibeEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
