package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/rolechat/internal/engine"
)

// DefaultBatchSize is the number of texts sent per provider call when no
// batch size is configured.
const DefaultBatchSize = 32

// Embedder splits texts into provider-sized batches and embeds them with
// bounded concurrency.
type Embedder struct {
	gateway   engine.Embedder
	batchSize int
}

// NewEmbedder creates an Embedder over gateway. A batchSize <= 0 selects
// DefaultBatchSize.
func NewEmbedder(gateway engine.Embedder, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{gateway: gateway, batchSize: batchSize}
}

// Model returns the identity of the underlying embedding model.
func (e *Embedder) Model() string { return e.gateway.Model() }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.gateway.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding text: provider returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. All vectors share
// a dimension. Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.gateway.Embed(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors, want %d", start, end-1, len(vecs), end-start)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(results[0])
	for i, v := range results {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("embedding text %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(v), dim)
		}
	}
	return results, nil
}
