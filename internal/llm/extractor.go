package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/vibegraph/pkg/types"
)

// defaultExtractConcurrency bounds concurrent completion calls per Analyze.
const defaultExtractConcurrency = 2

// ErrExtractionFailed is returned when every batch of an Analyze call failed.
var ErrExtractionFailed = errors.New("vibe extraction failed for every batch")

// Extractor turns raw content into candidate vibes with a TextGenerator.
// It satisfies engine.Analyzer.
type Extractor struct {
	gen         TextGenerator
	batcher     Batcher
	concurrency int
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithBatchTokens sets the prompt budget per batch.
func WithBatchTokens(n int) ExtractorOption {
	return func(x *Extractor) { x.batcher.MaxTokens = n }
}

// WithConcurrency sets how many batches are sent at once.
func WithConcurrency(n int) ExtractorOption {
	return func(x *Extractor) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// NewExtractor creates an Extractor backed by gen.
func NewExtractor(gen TextGenerator, opts ...ExtractorOption) *Extractor {
	x := &Extractor{gen: gen, concurrency: defaultExtractConcurrency}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Analyze extracts vibes from items. A failed batch is logged and skipped;
// the call fails only when no batch succeeded. Results keep batch order.
func (x *Extractor) Analyze(ctx context.Context, items []types.RawContent) ([]*types.Vibe, error) {
	batches := x.batcher.Batch(items)
	if len(batches) == 0 {
		return []*types.Vibe{}, nil
	}

	results := make([][]*types.Vibe, len(batches))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			vibes, err := x.extract(gctx, batch)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"batch": i,
					"items": len(batch),
					"model": x.gen.GetModel(),
				}).Warn("vibe extraction batch failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = vibes
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(batches) {
		return nil, goerr.Wrap(ErrExtractionFailed, "no vibes extracted", goerr.V("batches", len(batches)))
	}

	var out []*types.Vibe
	for _, r := range results {
		out = append(out, r...)
	}
	log.WithFields(log.Fields{
		"items":   len(items),
		"batches": len(batches),
		"failed":  failed,
		"vibes":   len(out),
	}).Info("Extracted vibes")
	return out, nil
}

func (x *Extractor) extract(ctx context.Context, batch []types.RawContent) ([]*types.Vibe, error) {
	text, err := x.gen.Complete(ctx, VibeExtractionPrompt(batch))
	if err != nil {
		return nil, err
	}
	vibes, err := ParseVibeExtraction(text)
	if err != nil {
		return nil, err
	}

	sources := batchSources(batch)
	for _, v := range vibes {
		v.Sources = append(v.Sources, sources...)
	}
	return vibes, nil
}

// batchSources lists the URLs of a batch, falling back to the source name
// for items without one.
func batchSources(batch []types.RawContent) []string {
	seen := make(map[string]struct{}, len(batch))
	var out []string
	for _, item := range batch {
		s := item.URL
		if s == "" {
			s = item.Source
		}
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
