package engine

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/pkg/types"
)

// Analyzer turns raw collected content into candidate vibes.
type Analyzer interface {
	Analyze(ctx context.Context, batch []types.RawContent) ([]*types.Vibe, error)
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Collector gathers raw content from one external source.
type Collector interface {
	Collect(ctx context.Context) ([]types.RawContent, error)
}

// Config holds configuration for the vibe engine.
type Config struct {
	Relevance RelevanceConfig `yaml:"relevance"`

	// DecayInterval is how often the decay timer recomputes relevance and
	// prunes (default: 1h).
	DecayInterval time.Duration `yaml:"decay_interval"`

	// CollectTimeout bounds each collector call (default: 30s).
	CollectTimeout time.Duration `yaml:"collect_timeout"`

	// EmbedTimeout bounds the batched embedding call of a cycle (default: 60s).
	EmbedTimeout time.Duration `yaml:"embed_timeout"`

	// Dimensions is the embedding length whitelist; embeddings of any other
	// length returned by the embedder are discarded (default: the store's).
	Dimensions []int `yaml:"dimensions"`

	// NewVibeStrength is the strength given to candidates that carry none
	// (default: 0.5).
	NewVibeStrength float64 `yaml:"new_vibe_strength"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Relevance:       DefaultRelevanceConfig(),
		DecayInterval:   time.Hour,
		CollectTimeout:  30 * time.Second,
		EmbedTimeout:    60 * time.Second,
		NewVibeStrength: 0.5,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if err := c.Relevance.Validate(); err != nil {
		return err
	}
	if c.DecayInterval <= 0 {
		return goerr.New("decay interval must be > 0", goerr.V("decay_interval", c.DecayInterval))
	}
	if c.CollectTimeout <= 0 {
		return goerr.New("collect timeout must be > 0", goerr.V("collect_timeout", c.CollectTimeout))
	}
	if c.EmbedTimeout <= 0 {
		return goerr.New("embed timeout must be > 0", goerr.V("embed_timeout", c.EmbedTimeout))
	}
	if c.NewVibeStrength <= 0 || c.NewVibeStrength > 1 {
		return goerr.New("new vibe strength must be in (0,1]", goerr.V("new_vibe_strength", c.NewVibeStrength))
	}
	return nil
}

// EventType names a graph change reported to event listeners.
type EventType string

const (
	EventVibeCreated    EventType = "vibe_created"
	EventVibeMerged     EventType = "vibe_merged"
	EventHaloApplied    EventType = "halo_applied"
	EventVibePruned     EventType = "vibe_pruned"
	EventVibeDeleted    EventType = "vibe_deleted"
	EventDecayApplied   EventType = "decay_applied"
	EventCycleCompleted EventType = "cycle_completed"
)

// Event is a notification about a change the engine made to the graph.
type Event struct {
	Type      EventType              `json:"type"`
	VibeID    string                 `json:"vibe_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// IngestResult describes what one Ingest call changed.
type IngestResult struct {
	Created    []string          `json:"created"`
	Merged     []string          `json:"merged"`
	Skipped    int               `json:"skipped"`
	Embedded   int               `json:"embedded"`
	HaloBoosts []types.HaloBoost `json:"halo_boosts"`
	Edges      int               `json:"edges"`
}

// dropDeleted removes vibes another writer deleted mid-pass from the result
// and from working, and returns ids without them.
func (r *IngestResult) dropDeleted(ids, deleted []string, working map[string]*types.Vibe) []string {
	gone := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		gone[id] = struct{}{}
		delete(working, id)
	}
	keep := func(list []string) []string {
		out := list[:0]
		for _, id := range list {
			if _, ok := gone[id]; !ok {
				out = append(out, id)
			}
		}
		return out
	}
	r.Merged = keep(r.Merged)
	boosts := r.HaloBoosts[:0]
	for _, hb := range r.HaloBoosts {
		if _, ok := gone[hb.TargetID]; !ok {
			boosts = append(boosts, hb)
		}
	}
	r.HaloBoosts = boosts
	return keep(ids)
}

// DecayResult describes one decay-and-prune pass.
type DecayResult struct {
	Updated int      `json:"updated"`
	Pruned  []string `json:"pruned"`
}

// CycleResult describes one full collect-analyze-ingest-decay cycle.
type CycleResult struct {
	Collected  int           `json:"collected"`
	Candidates int           `json:"candidates"`
	Ingest     IngestResult  `json:"ingest"`
	Decay      DecayResult   `json:"decay"`
	Duration   time.Duration `json:"duration"`
}
