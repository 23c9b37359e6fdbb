// Package embed produces dense vectors for chunks and queries. Providers
// share one contract; the service batches requests with a per-request size
// cap so oversized documents do not blow provider limits.
package embed

import (
	"context"
	"fmt"
)

// Embedder generates dense vectors for a batch of texts. The returned
// slice is index-aligned with the input.
type Embedder interface {
	Kind() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures an embedding provider.
type Config struct {
	Kind      string // mock, openai, azure, dashscope
	BatchSize int
	APIKey    string
	Model     string
	Endpoint  string
}

// New builds an embedder from configuration. Every provider is wrapped in
// the batching layer.
func New(cfg Config) (Embedder, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}

	var inner Embedder
	switch cfg.Kind {
	case "", "mock":
		inner = NewMockEmbedder(0)
	case "openai":
		inner = newOpenAIEmbedder(cfg)
	case "azure":
		inner = newAzureEmbedder(cfg)
	case "dashscope":
		inner = newDashScopeEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding kind: %s", cfg.Kind)
	}
	return &batcher{inner: inner, batchSize: cfg.BatchSize}, nil
}

// batcher splits large inputs into provider-sized requests.
type batcher struct {
	inner     Embedder
	batchSize int
}

func (b *batcher) Kind() string { return b.inner.Kind() }

func (b *batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= b.batchSize {
		return b.inner.Embed(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d..%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
