package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/scrypster/recall/internal/llm"
)

// ErrEmptyText is returned when the input is empty after trimming.
// Callers that want skip-not-fail semantics check for it with errors.Is.
var ErrEmptyText = errors.New("empty text")

const (
	// maxEmbedChars is the truncation point for oversized inputs, applied
	// before the cache key is computed so a truncated text and its full
	// form share an entry.
	maxEmbedChars = 10_000

	// defaultBatchConcurrency bounds concurrent provider calls in EmbedBatch.
	defaultBatchConcurrency = 4
)

// ClientConfig holds embedding client configuration. Zero fields use defaults.
type ClientConfig struct {
	// RequestsPerSecond paces calls to the provider. Zero means 10 rps.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Zero means 5.
	Burst int

	// BatchConcurrency bounds concurrent provider calls in EmbedBatch.
	BatchConcurrency int

	// Cache overrides the default cache bounds.
	Cache CacheConfig
}

// Client turns text into embedding vectors via an upstream provider, with a
// bounded cache in front and a rate limiter behind it. It is safe for
// concurrent use.
type Client struct {
	provider    llm.EmbeddingGenerator
	cache       *Cache
	limiter     *rate.Limiter
	concurrency int
}

// NewClient creates an embedding client around the given provider.
func NewClient(provider llm.EmbeddingGenerator, cfg ClientConfig) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	return &Client{
		provider:    provider,
		cache:       NewCache(cfg.Cache),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		concurrency: cfg.BatchConcurrency,
	}
}

// Embed returns the embedding vector for text. Input is trimmed and truncated
// to 10,000 characters before the cache key (lower-cased form) is computed,
// so "Hello World" and " hello world " resolve to one provider call.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyText
	}
	if runes := []rune(trimmed); len(runes) > maxEmbedChars {
		trimmed = string(runes[:maxEmbedChars])
	}

	key := strings.ToLower(trimmed)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	raw, err := c.provider.Embed(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("embedding provider returned empty vector")
	}

	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}

	c.cache.Put(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts concurrently and returns vectors in input order.
// The first failure cancels the remaining work and fails the whole batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := c.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CacheStats exposes the cache counters for diagnostics.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// Model reports the upstream provider's model name.
func (c *Client) Model() string {
	return c.provider.GetModel()
}
