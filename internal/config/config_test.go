package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vibegraph/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "default host must be loopback")
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, []int{768, 1536}, cfg.Storage.Dimensions)
	assert.Equal(t, 0.6, cfg.Relevance.HaloThreshold)
	assert.Equal(t, 0.15, cfg.Relevance.HaloMaxBoost)
	assert.Equal(t, 0.05, cfg.Relevance.PruneThreshold)
	assert.Equal(t, 20, cfg.Matching.Limit)
	assert.Equal(t, 10, cfg.Matching.EnsembleTopK)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vibegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
storage:
  engine: memory
  dimensions: [384, 768]
relevance:
  halo_threshold: 0.7
  decay_interval: 30m
collectors:
  feeds: [a.yaml, b.json]
`), 0o600))

	t.Setenv("VIBEGRAPH_PORT", "9100")
	t.Setenv("VIBEGRAPH_HALO_MAX_BOOST", "0.2")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "memory", cfg.Storage.Engine)
	assert.Equal(t, []int{384, 768}, cfg.Storage.Dimensions)
	assert.Equal(t, 0.7, cfg.Relevance.HaloThreshold)
	assert.Equal(t, 0.2, cfg.Relevance.HaloMaxBoost)
	assert.Equal(t, 30*time.Minute, cfg.Relevance.DecayInterval)
	assert.Equal(t, []string{"a.yaml", "b.json"}, cfg.Collectors.Feeds)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: json\n"), 0o600))
	t.Setenv(config.EnvConfigPath, path)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = config.Load(bad)
	assert.Error(t, err)

	t.Setenv("VIBEGRAPH_PORT", "not-a-number")
	_, err = config.Load("")
	assert.Error(t, err)
}

func TestLoad_WatchFromEnv(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("VIBEGRAPH_WATCH_FEEDS", "true")
	t.Setenv("VIBEGRAPH_EMBED_CACHE_SIZE", "16")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Collectors.Watch)
	assert.Equal(t, 2*time.Second, cfg.Collectors.Debounce)
	assert.Equal(t, 16, cfg.LLM.EmbedCacheSize)

	t.Setenv("VIBEGRAPH_WATCH_FEEDS", "sometimes")
	_, err = config.Load("")
	assert.Error(t, err)
}

func TestLoad_DimensionsFromEnv(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("VIBEGRAPH_EMBEDDING_DIMENSIONS", "1024, 3072")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, []int{1024, 3072}, cfg.Storage.Dimensions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port", func(c *config.Config) { c.Server.Port = 0 }},
		{"engine", func(c *config.Config) { c.Storage.Engine = "cassandra" }},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Engine = "postgres" }},
		{"max vibes", func(c *config.Config) { c.Storage.MaxVibes = -1 }},
		{"no dimensions", func(c *config.Config) { c.Storage.Dimensions = nil }},
		{"halo threshold of one", func(c *config.Config) { c.Relevance.HaloThreshold = 1 }},
		{"halo boost", func(c *config.Config) { c.Relevance.HaloMaxBoost = 1.5 }},
		{"prune", func(c *config.Config) { c.Relevance.PruneThreshold = -0.1 }},
		{"decay interval", func(c *config.Config) { c.Relevance.DecayInterval = 0 }},
		{"limit", func(c *config.Config) { c.Matching.Limit = 0 }},
		{"provider", func(c *config.Config) { c.LLM.Provider = "palm" }},
		{"embedding provider", func(c *config.Config) { c.LLM.EmbeddingProvider = "anthropic" }},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"embed cache", func(c *config.Config) { c.LLM.EmbedCacheSize = -1 }},
		{"watch debounce", func(c *config.Config) { c.Collectors.Watch = true; c.Collectors.Debounce = 0 }},
		{"backup interval", func(c *config.Config) { c.Backup.Interval = -time.Minute }},
		{"backup retention", func(c *config.Config) { c.Backup.Daily = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, config.Default().Validate())
}

func TestResolvedEmbeddingProvider(t *testing.T) {
	assert.Equal(t, "ollama", config.LLMConfig{Provider: "anthropic"}.ResolvedEmbeddingProvider())
	assert.Equal(t, "openai", config.LLMConfig{Provider: "openai"}.ResolvedEmbeddingProvider())
	assert.Equal(t, "none", config.LLMConfig{Provider: "openai", EmbeddingProvider: "none"}.ResolvedEmbeddingProvider())
}
