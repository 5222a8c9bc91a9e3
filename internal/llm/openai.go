package llm

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// OpenAIConfig holds configuration for the OpenAI clients.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default: gpt-4o-mini (text), text-embedding-3-small (embeddings)
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 60s
}

func (c *OpenAIConfig) applyDefaults(model string) {
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

func (c OpenAIConfig) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}

// OpenAIClient implements TextGenerator using the OpenAI chat completions API.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	cfg.applyDefaults("gpt-4o-mini")
	return &OpenAIClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker("openai"),
	}
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIFormat       `json:"response_format,omitempty"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single-turn completion to OpenAI and returns the response
// text. Every prompt in this module asks for a JSON object, so JSON mode is on.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := Execute(ctx, c.circuitBreaker, func() (string, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		return "", goerr.Wrap(err, "openai completion failed", goerr.V("model", c.cfg.Model))
	}
	return out, nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openAIChatRequest{
		Model:          c.cfg.Model,
		Messages:       []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}

	var resp openAIChatResponse
	if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/chat/completions", c.cfg.headers(), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// OpenAIEmbeddingClient implements EmbeddingGenerator using the OpenAI
// embeddings API. text-embedding-3-small returns 1536-dimensional vectors.
type OpenAIEmbeddingClient struct {
	cfg            OpenAIConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIEmbeddingClient creates a new OpenAI embedding client.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) *OpenAIEmbeddingClient {
	cfg.applyDefaults("text-embedding-3-small")
	return &OpenAIEmbeddingClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker("openai-embeddings"),
	}
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding vector for text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in a single request.
func (c *OpenAIEmbeddingClient) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out, err := Execute(ctx, c.circuitBreaker, func() ([][]float32, error) {
		return c.embedMany(ctx, texts)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "openai embedding failed", goerr.V("model", c.cfg.Model), goerr.V("count", len(texts)))
	}
	return out, nil
}

func (c *OpenAIEmbeddingClient) embedMany(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp openAIEmbeddingResponse
	req := openAIEmbeddingRequest{Model: c.cfg.Model, Input: texts}
	if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/embeddings", c.cfg.headers(), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, goerr.New("openai returned wrong number of embeddings",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Data)))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, goerr.New("openai returned empty embedding", goerr.V("index", i))
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// GetModel returns the configured model name.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertions.
var (
	_ TextGenerator      = (*OpenAIClient)(nil)
	_ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)
)
