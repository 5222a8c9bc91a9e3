// Package config provides configuration management for vibegraph.
//
// Settings are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables with the VIBEGRAPH_ prefix (highest
// precedence). Validate rejects out-of-range values before anything is
// constructed from the config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "VIBEGRAPH_CONFIG"

// Config holds all configuration settings for vibegraph.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Relevance  RelevanceConfig  `yaml:"relevance"`
	Matching   MatchingConfig   `yaml:"matching"`
	LLM        LLMConfig        `yaml:"llm"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Backup     BackupConfig     `yaml:"backup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`             // default: 127.0.0.1
	Port            int           `yaml:"port"`             // default: 7070
	RateLimit       float64       `yaml:"rate_limit"`       // requests/second per client, 0 disables
	RateBurst       int           `yaml:"rate_burst"`       // default: 20
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// StorageConfig contains graph store configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // memory, sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // sqlite database file (default: ./data/vibegraph.db)
	PostgresDSN string `yaml:"postgres_dsn"` // required for postgres
	MaxVibes    int    `yaml:"max_vibes"`    // default: 100000
	Dimensions  []int  `yaml:"dimensions"`   // accepted embedding lengths (default: 768, 1536)
}

// RelevanceConfig contains the relevance model constants.
type RelevanceConfig struct {
	HaloThreshold   float64       `yaml:"halo_threshold"`    // default: 0.6
	HaloMaxBoost    float64       `yaml:"halo_max_boost"`    // default: 0.15
	PruneThreshold  float64       `yaml:"prune_threshold"`   // default: 0.05
	DecayInterval   time.Duration `yaml:"decay_interval"`    // default: 1h
	NewVibeStrength float64       `yaml:"new_vibe_strength"` // default: 0.5
}

// MatchingConfig contains ranking pipeline settings.
type MatchingConfig struct {
	DefaultStrategy      string  `yaml:"default_strategy"`       // default: personalized
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`   // default: 0.5
	Limit                int     `yaml:"limit"`                  // default: 20
	EnsembleTopK         int     `yaml:"ensemble_top_k"`         // default: 10
	MinRegionalRelevance float64 `yaml:"min_regional_relevance"` // default: 0.2
	KeywordWeight        float64 `yaml:"keyword_weight"`         // weight of keyword strategy in weighted mode (default: 0.5)
}

// LLMConfig contains LLM and embedding provider configuration.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`           // ollama, openai, anthropic, none (default: ollama)
	EmbeddingProvider string        `yaml:"embedding_provider"` // ollama, openai, none (default: same as provider, ollama for anthropic)
	OllamaURL         string        `yaml:"ollama_url"`
	OllamaModel       string        `yaml:"ollama_model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	OpenAIModel       string        `yaml:"openai_model"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	AnthropicModel    string        `yaml:"anthropic_model"`
	Timeout           time.Duration `yaml:"timeout"`          // per request (default: 60s)
	EmbedRateLimit    float64       `yaml:"embed_rate_limit"` // embedding requests/second, 0 disables
	EmbedBatchSize    int           `yaml:"embed_batch_size"` // texts per embedding request (default: 32)
	EmbedCacheSize    int           `yaml:"embed_cache_size"` // cached embeddings, 0 disables (default: 4096)
}

// CollectorsConfig lists the content sources used by ingest cycles.
type CollectorsConfig struct {
	Feeds    []string      `yaml:"feeds"`    // paths to YAML/JSON/markdown feed files or directories
	Watch    bool          `yaml:"watch"`    // run an ingest cycle when a feed changes
	Debounce time.Duration `yaml:"debounce"` // quiet period before a watched change triggers a cycle (default: 2s)
}

// BackupConfig controls snapshots of the sqlite graph database.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`      // default: ./data/backups
	Interval time.Duration `yaml:"interval"` // scheduled backups while serving, 0 disables
	Verify   bool          `yaml:"verify"`   // run an integrity check on each backup (default: true)
	Hourly   int           `yaml:"hourly"`   // backups kept from the last day (default: 24)
	Daily    int           `yaml:"daily"`    // from the last week (default: 7)
	Weekly   int           `yaml:"weekly"`   // from the last month (default: 4)
	Monthly  int           `yaml:"monthly"`  // from the last year (default: 12)
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: info
	Format string `yaml:"format"` // text or json (default: text)
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7070,
			RateLimit:       10,
			RateBurst:       20,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Engine:     "sqlite",
			DataPath:   "./data/vibegraph.db",
			MaxVibes:   100_000,
			Dimensions: []int{768, 1536},
		},
		Relevance: RelevanceConfig{
			HaloThreshold:   0.6,
			HaloMaxBoost:    0.15,
			PruneThreshold:  0.05,
			DecayInterval:   time.Hour,
			NewVibeStrength: 0.5,
		},
		Matching: MatchingConfig{
			DefaultStrategy:      "personalized",
			SimilarityThreshold:  0.5,
			Limit:                20,
			EnsembleTopK:         10,
			MinRegionalRelevance: 0.2,
			KeywordWeight:        0.5,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-haiku-4-5-20251001",
			Timeout:        60 * time.Second,
			EmbedRateLimit: 5,
			EmbedBatchSize: 32,
			EmbedCacheSize: 4096,
		},
		Collectors: CollectorsConfig{
			Debounce: 2 * time.Second,
		},
		Backup: BackupConfig{
			Dir:     "./data/backups",
			Verify:  true,
			Hourly:  24,
			Daily:   7,
			Weekly:  4,
			Monthly: 12,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or at
// $VIBEGRAPH_CONFIG when path is empty) and the environment, then validates
// it. A missing file is an error only when a path was given.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from VIBEGRAPH_* environment variables.
func (c *Config) applyEnv() error {
	envString("VIBEGRAPH_HOST", &c.Server.Host)
	if err := envInt("VIBEGRAPH_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := envFloat("VIBEGRAPH_RATE_LIMIT", &c.Server.RateLimit); err != nil {
		return err
	}
	if err := envInt("VIBEGRAPH_RATE_BURST", &c.Server.RateBurst); err != nil {
		return err
	}

	envString("VIBEGRAPH_STORAGE_ENGINE", &c.Storage.Engine)
	envString("VIBEGRAPH_DATA_PATH", &c.Storage.DataPath)
	envString("VIBEGRAPH_POSTGRES_DSN", &c.Storage.PostgresDSN)
	if err := envInt("VIBEGRAPH_MAX_VIBES", &c.Storage.MaxVibes); err != nil {
		return err
	}
	if err := envInts("VIBEGRAPH_EMBEDDING_DIMENSIONS", &c.Storage.Dimensions); err != nil {
		return err
	}

	if err := envFloat("VIBEGRAPH_HALO_THRESHOLD", &c.Relevance.HaloThreshold); err != nil {
		return err
	}
	if err := envFloat("VIBEGRAPH_HALO_MAX_BOOST", &c.Relevance.HaloMaxBoost); err != nil {
		return err
	}
	if err := envFloat("VIBEGRAPH_PRUNE_THRESHOLD", &c.Relevance.PruneThreshold); err != nil {
		return err
	}
	if err := envDuration("VIBEGRAPH_DECAY_INTERVAL", &c.Relevance.DecayInterval); err != nil {
		return err
	}

	envString("VIBEGRAPH_DEFAULT_STRATEGY", &c.Matching.DefaultStrategy)
	if err := envFloat("VIBEGRAPH_SIMILARITY_THRESHOLD", &c.Matching.SimilarityThreshold); err != nil {
		return err
	}

	envString("VIBEGRAPH_LLM_PROVIDER", &c.LLM.Provider)
	envString("VIBEGRAPH_EMBEDDING_PROVIDER", &c.LLM.EmbeddingProvider)
	envString("VIBEGRAPH_OLLAMA_URL", &c.LLM.OllamaURL)
	envString("VIBEGRAPH_OLLAMA_MODEL", &c.LLM.OllamaModel)
	envString("VIBEGRAPH_EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	envString("VIBEGRAPH_OPENAI_API_KEY", &c.LLM.OpenAIAPIKey)
	envString("VIBEGRAPH_OPENAI_BASE_URL", &c.LLM.OpenAIBaseURL)
	envString("VIBEGRAPH_OPENAI_MODEL", &c.LLM.OpenAIModel)
	envString("VIBEGRAPH_ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	envString("VIBEGRAPH_ANTHROPIC_MODEL", &c.LLM.AnthropicModel)
	if err := envDuration("VIBEGRAPH_LLM_TIMEOUT", &c.LLM.Timeout); err != nil {
		return err
	}
	if err := envFloat("VIBEGRAPH_EMBED_RATE_LIMIT", &c.LLM.EmbedRateLimit); err != nil {
		return err
	}

	if err := envInt("VIBEGRAPH_EMBED_CACHE_SIZE", &c.LLM.EmbedCacheSize); err != nil {
		return err
	}

	if v := os.Getenv("VIBEGRAPH_FEEDS"); v != "" {
		c.Collectors.Feeds = splitList(v)
	}
	if v := os.Getenv("VIBEGRAPH_WATCH_FEEDS"); v != "" {
		watch, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return goerr.Wrap(err, "invalid boolean in environment", goerr.V("key", "VIBEGRAPH_WATCH_FEEDS"), goerr.V("value", v))
		}
		c.Collectors.Watch = watch
	}

	envString("VIBEGRAPH_BACKUP_DIR", &c.Backup.Dir)
	if err := envDuration("VIBEGRAPH_BACKUP_INTERVAL", &c.Backup.Interval); err != nil {
		return err
	}

	envString("VIBEGRAPH_LOG_LEVEL", &c.Logging.Level)
	envString("VIBEGRAPH_LOG_FORMAT", &c.Logging.Format)
	return nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return goerr.New("server port out of range", goerr.V("port", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		return goerr.New("rate limit must be >= 0", goerr.V("rate_limit", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return goerr.New("rate burst must be >= 1", goerr.V("rate_burst", c.Server.RateBurst))
	}

	switch c.Storage.Engine {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return goerr.New("postgres engine requires a DSN")
		}
	default:
		return goerr.New("unsupported storage engine", goerr.V("engine", c.Storage.Engine))
	}
	if c.Storage.MaxVibes <= 0 {
		return goerr.New("max vibes must be > 0", goerr.V("max_vibes", c.Storage.MaxVibes))
	}
	if len(c.Storage.Dimensions) == 0 {
		return goerr.New("at least one embedding dimension is required")
	}
	for _, d := range c.Storage.Dimensions {
		if d <= 0 {
			return goerr.New("embedding dimension must be > 0", goerr.V("dimension", d))
		}
	}

	if err := unitInterval("halo_threshold", c.Relevance.HaloThreshold, false); err != nil {
		return err
	}
	if err := unitInterval("halo_max_boost", c.Relevance.HaloMaxBoost, true); err != nil {
		return err
	}
	if err := unitInterval("prune_threshold", c.Relevance.PruneThreshold, true); err != nil {
		return err
	}
	if err := unitInterval("new_vibe_strength", c.Relevance.NewVibeStrength, true); err != nil {
		return err
	}
	if c.Relevance.DecayInterval <= 0 {
		return goerr.New("decay interval must be > 0", goerr.V("decay_interval", c.Relevance.DecayInterval))
	}

	if err := unitInterval("similarity_threshold", c.Matching.SimilarityThreshold, false); err != nil {
		return err
	}
	if err := unitInterval("min_regional_relevance", c.Matching.MinRegionalRelevance, true); err != nil {
		return err
	}
	if c.Matching.Limit <= 0 || c.Matching.EnsembleTopK <= 0 {
		return goerr.New("matching limits must be > 0",
			goerr.V("limit", c.Matching.Limit), goerr.V("ensemble_top_k", c.Matching.EnsembleTopK))
	}
	if c.Matching.KeywordWeight < 0 {
		return goerr.New("keyword weight must be >= 0", goerr.V("keyword_weight", c.Matching.KeywordWeight))
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic", "none":
	default:
		return goerr.New("unsupported LLM provider", goerr.V("provider", c.LLM.Provider))
	}
	switch c.LLM.EmbeddingProvider {
	case "", "ollama", "openai", "none":
	default:
		return goerr.New("unsupported embedding provider", goerr.V("provider", c.LLM.EmbeddingProvider))
	}
	if c.LLM.Timeout <= 0 {
		return goerr.New("LLM timeout must be > 0", goerr.V("timeout", c.LLM.Timeout))
	}
	if c.LLM.EmbedRateLimit < 0 || c.LLM.EmbedBatchSize < 0 || c.LLM.EmbedCacheSize < 0 {
		return goerr.New("embedding limits must be >= 0",
			goerr.V("embed_rate_limit", c.LLM.EmbedRateLimit), goerr.V("embed_batch_size", c.LLM.EmbedBatchSize),
			goerr.V("embed_cache_size", c.LLM.EmbedCacheSize))
	}

	if c.Collectors.Watch && c.Collectors.Debounce <= 0 {
		return goerr.New("feed watch debounce must be > 0", goerr.V("debounce", c.Collectors.Debounce))
	}

	if c.Backup.Interval < 0 {
		return goerr.New("backup interval must be >= 0", goerr.V("interval", c.Backup.Interval))
	}
	if c.Backup.Hourly < 0 || c.Backup.Daily < 0 || c.Backup.Weekly < 0 || c.Backup.Monthly < 0 {
		return goerr.New("backup retention counts must be >= 0")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return goerr.New("unsupported log format", goerr.V("format", c.Logging.Format))
	}
	return nil
}

// ResolvedEmbeddingProvider returns the embedding provider to use. Anthropic
// has no embeddings API, so it falls back to ollama.
func (c LLMConfig) ResolvedEmbeddingProvider() string {
	if c.EmbeddingProvider != "" {
		return c.EmbeddingProvider
	}
	if c.Provider == "anthropic" {
		return "ollama"
	}
	return c.Provider
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

func unitInterval(name string, v float64, closed bool) error {
	if v < 0 || v > 1 || (!closed && v == 1) || v != v {
		return goerr.New("value out of range", goerr.V("setting", name), goerr.V("value", v))
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return goerr.Wrap(err, "invalid integer in environment", goerr.V("key", key), goerr.V("value", v))
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return goerr.Wrap(err, "invalid number in environment", goerr.V("key", key), goerr.V("value", v))
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return goerr.Wrap(err, "invalid duration in environment", goerr.V("key", key), goerr.V("value", v))
	}
	*dst = d
	return nil
}

func envInts(key string, dst *[]int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []int
	for _, part := range splitList(v) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return goerr.Wrap(err, "invalid integer list in environment", goerr.V("key", key), goerr.V("value", v))
		}
		out = append(out, n)
	}
	*dst = out
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
