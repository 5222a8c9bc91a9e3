package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(t *testing.T, path string, check func(body map[string]interface{}), reply interface{}) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}
}

func TestOllamaClient(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(t, "/api/generate", func(body map[string]interface{}) {
			assert.Equal(t, "qwen2.5:7b", body["model"])
			assert.Equal(t, false, body["stream"])
			assert.Equal(t, "json", body["format"])
		}, map[string]interface{}{"response": `{"vibes":[]}`, "done": true}))
		defer srv.Close()

		c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
		out, err := c.Complete(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, `{"vibes":[]}`, out)
		assert.Equal(t, "qwen2.5:7b", c.GetModel())
	})

	t.Run("embed many", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(t, "/api/embed", func(body map[string]interface{}) {
			assert.Len(t, body["input"], 2)
		}, map[string]interface{}{"embeddings": [][]float32{{1, 0}, {0, 1}}}))
		defer srv.Close()

		c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "nomic-embed-text"})
		vecs, err := c.EmbedMany(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	})

	t.Run("count mismatch", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(t, "/api/embed", nil,
			map[string]interface{}{"embeddings": [][]float32{{1, 0}}}))
		defer srv.Close()

		c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
		_, err := c.EmbedMany(context.Background(), []string{"a", "b"})
		assert.Error(t, err)
	})
}

func TestOpenAIClients(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			jsonHandler(t, "/v1/chat/completions", func(body map[string]interface{}) {
				assert.Equal(t, "gpt-4o-mini", body["model"])
			}, map[string]interface{}{
				"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
			})(w, r)
		}))
		defer srv.Close()

		c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
		out, err := c.Complete(context.Background(), "hi")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("embeddings are reordered by index", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(t, "/v1/embeddings", nil, map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		}))
		defer srv.Close()

		c := NewOpenAIEmbeddingClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		assert.Equal(t, "text-embedding-3-small", c.GetModel())
		vecs, err := c.EmbedMany(context.Background(), []string{"first", "second"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)

		vec, err := c.Embed(context.Background(), "x")
		assert.Error(t, err, "server always answers with two vectors")
		assert.Nil(t, vec)
	})

	t.Run("empty input makes no request", func(t *testing.T) {
		c := NewOpenAIEmbeddingClient(OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
		vecs, err := c.EmbedMany(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
	})
}

func TestAnthropicClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		jsonHandler(t, "/v1/messages", func(body map[string]interface{}) {
			assert.EqualValues(t, 4096, body["max_tokens"])
		}, map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": `{"a":`}, {"type": "text", "text": `1}`}},
		})(w, r)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
}

func TestProviderErrorsTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ollama completion failed")
	}

	_, err := c.Complete(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.EqualValues(t, 3, calls.Load(), "open breaker must not reach the server")
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:                 "test",
		MaxFailures:          2,
		Timeout:              50 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})
	ctx := context.Background()
	boom := errors.New("boom")

	fail := func() (int, error) { return 0, boom }
	ok := func() (int, error) { return 7, nil }

	_, err := Execute(ctx, cb, fail)
	assert.ErrorIs(t, err, boom)
	_, err = Execute(ctx, cb, fail)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "open", cb.State())

	_, err = Execute(ctx, cb, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(80 * time.Millisecond)
	v, err := Execute(ctx, cb, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, "closed", cb.State())

	m := cb.Metrics()
	assert.EqualValues(t, 4, m.TotalRequests)
	assert.EqualValues(t, 1, m.TotalSuccesses)
	assert.EqualValues(t, 3, m.TotalFailures)
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreakerCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("ctx")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Execute(ctx, cb, func() (string, error) {
		called = true
		return "", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
