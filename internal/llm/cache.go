package llm

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
)

// CachedEmbedder memoizes embeddings by exact input text. Matching embeds
// the same scenario descriptions repeatedly, and ingest re-embeds names that
// were seen before; both hit the cache instead of the provider.
type CachedEmbedder struct {
	next  EmbeddingGenerator
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps next with an LRU cache of size entries.
func NewCachedEmbedder(next EmbeddingGenerator, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", size))
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Embed returns the cached vector for text or embeds and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return copyVector(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, copyVector(v))
	return v, nil
}

// EmbedMany forwards only the cache misses, deduplicated, in one call.
func (c *CachedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	missIdx := make(map[string][]int)
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = copyVector(v)
			continue
		}
		if _, seen := missIdx[text]; !seen {
			misses = append(misses, text)
		}
		missIdx[text] = append(missIdx[text], i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedMany(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, goerr.New("embedding count mismatch", goerr.V("want", len(misses)), goerr.V("got", len(vecs)))
	}
	for j, text := range misses {
		c.cache.Add(text, copyVector(vecs[j]))
		for _, i := range missIdx[text] {
			out[i] = copyVector(vecs[j])
		}
	}
	return out, nil
}

// GetModel returns the wrapped generator's model.
func (c *CachedEmbedder) GetModel() string {
	return c.next.GetModel()
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

func copyVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
