package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// OllamaClient handles communication with the Ollama API for local
// inference. Every call goes through the circuit breaker.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use (default: qwen2.5:7b). Use an embedding
	// model such as nomic-embed-text (768 dimensions) for embeddings.
	Model string

	// Timeout is the request timeout duration (default: 60s)
	Timeout time.Duration
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// embedRequest is the body of /api/embed, which accepts a list of inputs.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OllamaClient{
		baseURL:        config.BaseURL,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker("ollama:" + config.Model),
		model:          config.Model,
		timeout:        config.Timeout,
	}
}

// Complete sends a completion request to Ollama and returns the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := Execute(ctx, c.circuitBreaker, func() (string, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		return "", goerr.Wrap(err, "ollama completion failed", goerr.V("model", c.model))
	}
	return out, nil
}

func (c *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp generateResponse
	req := generateRequest{Model: c.model, Prompt: prompt, Stream: false, Format: "json"}
	if err := postJSON(ctx, c.client, c.baseURL+"/api/generate", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Embed generates an embedding for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in a single /api/embed call.
func (c *OllamaClient) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out, err := Execute(ctx, c.circuitBreaker, func() ([][]float32, error) {
		return c.embedMany(ctx, texts)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "ollama embedding failed", goerr.V("model", c.model), goerr.V("count", len(texts)))
	}
	return out, nil
}

func (c *OllamaClient) embedMany(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp embedResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/api/embed", nil, embedRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("ollama returned wrong number of embeddings",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Embeddings)))
	}
	for i, e := range resp.Embeddings {
		if len(e) == 0 {
			return nil, goerr.New("ollama returned empty embedding vector", goerr.V("index", i))
		}
	}
	return resp.Embeddings, nil
}

// HealthCheck verifies that Ollama is reachable via /api/version. It does
// not go through the circuit breaker.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return goerr.Wrap(err, "failed to create health check request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "ollama health check failed", goerr.V("url", c.baseURL))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return goerr.New("ollama health check returned non-200", goerr.V("status", resp.StatusCode))
	}
	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Compile-time assertions that OllamaClient satisfies both interfaces.
var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)
