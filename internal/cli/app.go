package cli

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"

	"github.com/scrypster/vibegraph/internal/collector"
	"github.com/scrypster/vibegraph/internal/config"
	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/internal/llm"
	"github.com/scrypster/vibegraph/internal/matcher"
	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/storage/memory"
	"github.com/scrypster/vibegraph/internal/storage/postgres"
	"github.com/scrypster/vibegraph/internal/storage/sqlite"
)

// app is the fully wired object graph shared by the subcommands.
type app struct {
	cfg     *config.Config
	store   storage.GraphStore
	engine  *engine.VibeEngine
	matcher *matcher.Service
	advisor *llm.Advisor
}

// newApp opens the store and wires the LLM clients, collectors, engine and
// ranking service described by cfg. extraFeeds are collected in addition to
// the configured feeds.
func newApp(cfg *config.Config, extraFeeds ...string) (*app, error) {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, store, extraFeeds)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg *config.Config, store storage.GraphStore, extraFeeds []string) (*app, error) {
	gen, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		return nil, err
	}
	emb, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		return nil, err
	}

	var opts []engine.Option
	if gen != nil {
		opts = append(opts, engine.WithAnalyzer(llm.NewExtractor(gen)))
	}
	// Keep the interfaces nil rather than typed-nil when embeddings are off.
	var matchEmbedder matcher.Embedder
	if emb != nil {
		opts = append(opts, engine.WithEmbedder(emb))
		matchEmbedder = emb
	}

	feeds := append(append([]string(nil), cfg.Collectors.Feeds...), extraFeeds...)
	if len(feeds) > 0 {
		collectors, err := collector.FromPaths(feeds)
		if err != nil {
			return nil, err
		}
		for name, c := range collectors.All() {
			opts = append(opts, engine.WithCollector(name, c))
		}
	}

	eng, err := engine.NewVibeEngine(store, engineConfig(cfg), opts...)
	if err != nil {
		return nil, err
	}

	strategies := matcher.NewRegistry(matchEmbedder, matcher.RegistryConfig{
		Default:              cfg.Matching.DefaultStrategy,
		SimilarityThreshold:  cfg.Matching.SimilarityThreshold,
		Limit:                cfg.Matching.Limit,
		EnsembleTopK:         cfg.Matching.EnsembleTopK,
		MinRegionalRelevance: cfg.Matching.MinRegionalRelevance,
		KeywordWeight:        matcher.Weight(cfg.Matching.KeywordWeight),
	})

	log.WithFields(log.Fields{
		"storage":    cfg.Storage.Engine,
		"llm":        cfg.LLM.Provider,
		"embeddings": cfg.LLM.ResolvedEmbeddingProvider(),
		"feeds":      len(feeds),
		"strategies": strategies.Names(),
	}).Debug("vibegraph wired")

	return &app{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		matcher: matcher.NewService(store, strategies, cfg.Relevance.PruneThreshold),
		advisor: llm.NewAdvisor(gen),
	}, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Relevance = engine.RelevanceConfig{
		HaloThreshold:  cfg.Relevance.HaloThreshold,
		HaloMaxBoost:   cfg.Relevance.HaloMaxBoost,
		PruneThreshold: cfg.Relevance.PruneThreshold,
	}
	ec.DecayInterval = cfg.Relevance.DecayInterval
	ec.NewVibeStrength = cfg.Relevance.NewVibeStrength
	ec.Dimensions = append([]int(nil), cfg.Storage.Dimensions...)
	if cfg.LLM.Timeout > 0 {
		ec.EmbedTimeout = cfg.LLM.Timeout
	}
	return ec
}

func openStore(cfg config.StorageConfig) (storage.GraphStore, error) {
	opts := storage.Options{MaxVibes: cfg.MaxVibes, Dimensions: cfg.Dimensions}

	switch cfg.Engine {
	case "memory":
		return memory.New(opts), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.DataPath); dir != "" && cfg.DataPath != ":memory:" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dir))
			}
		}
		return sqlite.New(cfg.DataPath, opts)
	case "postgres":
		return postgres.New(cfg.PostgresDSN, opts)
	default:
		return nil, goerr.New("unsupported storage engine", goerr.V("engine", cfg.Engine))
	}
}

// Close stops background work and releases the store.
func (a *app) Close() {
	a.engine.Stop()
	if err := a.store.Close(); err != nil {
		log.WithError(err).Warn("failed to close store")
	}
}
