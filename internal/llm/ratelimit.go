package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxConcurrentBatches bounds in-flight embedding requests per EmbedMany call.
const maxConcurrentBatches = 4

// RateLimitedEmbedder throttles an EmbeddingGenerator and splits large
// EmbedMany calls into batches.
type RateLimitedEmbedder struct {
	next      EmbeddingGenerator
	limiter   *rate.Limiter
	batchSize int
}

// NewRateLimitedEmbedder wraps next. A non-positive rps disables throttling;
// a non-positive batchSize sends every EmbedMany call as one request.
func NewRateLimitedEmbedder(next EmbeddingGenerator, rps float64, batchSize int) *RateLimitedEmbedder {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := 1
	if rps > 1 {
		burst = int(rps)
	}
	return &RateLimitedEmbedder{
		next:      next,
		limiter:   rate.NewLimiter(limit, burst),
		batchSize: batchSize,
	}
}

// Embed waits for a token and embeds text.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "embedding rate limit wait aborted")
	}
	return r.next.Embed(ctx, text)
}

// EmbedMany embeds texts in batches, preserving order. Any failed batch
// fails the whole call.
func (r *RateLimitedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	size := r.batchSize
	if size <= 0 || size > len(texts) {
		size = len(texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return goerr.Wrap(err, "embedding rate limit wait aborted")
			}
			vecs, err := r.next.EmbedMany(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return goerr.New("embedder returned wrong number of vectors",
					goerr.V("want", end-start), goerr.V("got", len(vecs)))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"model": r.next.GetModel(),
		"count": len(texts),
	}).Debug("Embedded batch")
	return out, nil
}

// GetModel returns the wrapped generator's model name.
func (r *RateLimitedEmbedder) GetModel() string {
	return r.next.GetModel()
}

var _ EmbeddingGenerator = (*RateLimitedEmbedder)(nil)
