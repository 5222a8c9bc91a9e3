package llm

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/internal/config"
)

const (
	providerOllama    = "ollama"
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
	providerNone      = "none"

	defaultOllamaEmbeddingModel = "nomic-embed-text"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// ErrUnsupportedProvider is returned for an unknown provider name.
var ErrUnsupportedProvider = errors.New("unsupported LLM provider")

// NewTextGenerator creates the TextGenerator selected by cfg.Provider.
// It returns (nil, nil) for "none".
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case providerOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case providerAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
		}), nil
	case providerOllama, "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
		}), nil
	case providerNone:
		return nil, nil
	default:
		return nil, goerr.Wrap(ErrUnsupportedProvider, "cannot create text generator", goerr.V("provider", cfg.Provider))
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator selected by
// cfg.ResolvedEmbeddingProvider, wrapped in a RateLimitedEmbedder and,
// when EmbedCacheSize > 0, a CachedEmbedder.
// It returns (nil, nil) for "none".
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	var gen EmbeddingGenerator
	switch p := cfg.ResolvedEmbeddingProvider(); p {
	case providerOpenAI:
		model := cfg.EmbeddingModel
		// The shared default names an Ollama model.
		if model == "" || model == defaultOllamaEmbeddingModel {
			model = defaultOpenAIEmbeddingModel
		}
		gen = NewOpenAIEmbeddingClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   model,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		})
	case providerOllama, "":
		model := cfg.EmbeddingModel
		if model == "" {
			model = defaultOllamaEmbeddingModel
		}
		gen = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   model,
			Timeout: cfg.Timeout,
		})
	case providerNone:
		return nil, nil
	default:
		return nil, goerr.Wrap(ErrUnsupportedProvider, "cannot create embedding generator", goerr.V("provider", p))
	}
	var limited EmbeddingGenerator = NewRateLimitedEmbedder(gen, cfg.EmbedRateLimit, cfg.EmbedBatchSize)
	if cfg.EmbedCacheSize <= 0 {
		return limited, nil
	}
	cached, err := NewCachedEmbedder(limited, cfg.EmbedCacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}
