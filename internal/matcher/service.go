package matcher

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/internal/registry"
	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/pkg/types"
)

// Request is one ranking request.
type Request struct {
	Strategy string             `json:"strategy,omitempty"`
	Scenario types.Scenario     `json:"scenario"`
	Profile  *types.UserProfile `json:"profile,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

// Response carries the ranked matches and the strategy that produced them.
type Response struct {
	Strategy string        `json:"strategy"`
	Matches  []types.Match `json:"matches"`
}

// Service resolves a strategy from a registry and runs it against the
// current graph, after dropping vibes whose relevance has decayed below
// minRelevance.
type Service struct {
	store        storage.GraphStore
	strategies   *registry.Registry[Matcher]
	minRelevance float64
	now          func() time.Time
}

// NewService creates a ranking service.
func NewService(store storage.GraphStore, strategies *registry.Registry[Matcher], minRelevance float64) *Service {
	return &Service{
		store:        store,
		strategies:   strategies,
		minRelevance: minRelevance,
		now:          time.Now,
	}
}

// Match runs the requested strategy. It never fails: an unknown strategy
// falls back per Registry.Select, and an unreadable store yields no matches.
func (s *Service) Match(ctx context.Context, req Request) *Response {
	resp := &Response{Matches: []types.Match{}}

	name, m, err := s.strategies.Select(req.Strategy)
	if err != nil {
		log.WithError(err).Warn("no matching strategy available")
		return resp
	}
	resp.Strategy = name

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to snapshot graph for matching")
		return resp
	}

	now := s.now()
	live := snap.Subset(func(v *types.Vibe) bool {
		return engine.Decay(v, now) >= s.minRelevance
	})

	matches := m.Match(ctx, req.Scenario, live, req.Profile)
	if matches == nil {
		matches = []types.Match{}
	}
	resp.Matches = truncate(matches, req.Limit)
	return resp
}

// Strategies returns the registered strategy names.
func (s *Service) Strategies() []string {
	return s.strategies.Names()
}

// RegistryConfig tunes the stock strategies. Zero fields take the package
// defaults.
type RegistryConfig struct {
	Default              string
	SimilarityThreshold  float64
	Limit                int
	EnsembleTopK         int
	MinRegionalRelevance float64
	// KeywordWeight is the keyword strategy's weight in weighted mode.
	// Nil or negative means the default; zero mutes the strategy.
	KeywordWeight *float64
}

func (c *RegistryConfig) normalize() {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.EnsembleTopK <= 0 {
		c.EnsembleTopK = DefaultEnsembleTopK
	}
	if c.MinRegionalRelevance <= 0 {
		c.MinRegionalRelevance = DefaultMinRegionalRelevance
	}
	if c.KeywordWeight == nil || *c.KeywordWeight < 0 {
		c.KeywordWeight = Weight(defaultKeywordWeight)
	}
}

// NewDefaultRegistry registers the stock strategies with default tuning.
func NewDefaultRegistry(embedder Embedder) *registry.Registry[Matcher] {
	return NewRegistry(embedder, RegistryConfig{})
}

// NewRegistry registers the stock strategies. semantic, personalized,
// weighted and ensemble require an embedder; keyword is always available
// and is the only strategy when embedder is nil. cfg.Default is honored
// when it names a registered strategy, otherwise personalized is the
// default.
func NewRegistry(embedder Embedder, cfg RegistryConfig) *registry.Registry[Matcher] {
	cfg.normalize()
	r := registry.New[Matcher]("matcher")
	keyword := NewKeyword()

	if embedder == nil {
		r.MustRegister(StrategyKeyword, keyword)
		return r
	}

	semantic := NewSemantic(embedder, WithThreshold(cfg.SimilarityThreshold), WithLimit(cfg.Limit))
	personalized := NewPersonalized(semantic, WithMinRegionalRelevance(cfg.MinRegionalRelevance))
	r.MustRegister(StrategyPersonalized, personalized)
	r.MustRegister(StrategySemantic, semantic)
	r.MustRegister(StrategyKeyword, keyword)
	weighted, err := NewWeighted(
		Member{Name: StrategyPersonalized, Matcher: personalized},
		Member{Name: StrategyKeyword, Matcher: keyword, Weight: cfg.KeywordWeight},
	)
	if err != nil {
		log.WithError(err).Warn("weighted strategy disabled")
	} else {
		r.MustRegister(StrategyWeighted, weighted.WithLimit(cfg.Limit))
	}
	r.MustRegister(StrategyEnsemble, NewEnsemble(cfg.EnsembleTopK,
		Member{Name: StrategyPersonalized, Matcher: personalized},
		Member{Name: StrategyKeyword, Matcher: keyword},
	).WithLimit(cfg.Limit))

	if err := r.SetDefault(cfg.Default); err != nil {
		_ = r.SetDefault(StrategyPersonalized)
	}
	return r
}
