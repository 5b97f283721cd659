package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// GatewayConfig tunes batching and concurrency for embedding requests.
type GatewayConfig struct {
	// BatchSize bounds the number of texts per provider request.
	BatchSize int

	// MaxConcurrent caps in-flight provider requests.
	MaxConcurrent int

	// RequestsPerSecond rate-limits provider requests. Zero disables
	// rate limiting.
	RequestsPerSecond float64
}

// ApplyDefaults fills in zero-valued fields.
func (c *GatewayConfig) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 2
	}
}

// Gateway wraps a Provider with batching, bounded concurrency, and
// optional rate limiting. Large inputs are split into BatchSize slices
// and embedded in parallel; results come back in input order.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewGateway creates a Gateway around the given provider.
func NewGateway(provider Provider, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	cfg.ApplyDefaults()

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
	}
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// embedBatch embeds one batch and verifies the provider returned one
// vector per input.
func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	vectors, err := g.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

// Embed embeds all texts and returns vectors in input order.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, len(texts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxConcurrent)

	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		eg.Go(func() error {
			vectors, err := g.embedBatch(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedOne embeds a single query text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.provider.EmbedQuery(ctx, text)
}

// EmbedBatches embeds texts batch by batch and hands each completed
// batch to fn together with its offset into texts. Callbacks are
// serialized. A failed batch is recorded and skipped; the remaining
// batches still run, and the joined batch errors are returned at the
// end. fn returning an error stops the whole operation.
func (g *Gateway) EmbedBatches(ctx context.Context, texts []string, fn func(ctx context.Context, start int, vectors [][]float32) error) error {
	if len(texts) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		batchErrs []error
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxConcurrent)

	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		eg.Go(func() error {
			vectors, err := g.embedBatch(ctx, texts[start:end])

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				batchErrs = append(batchErrs, fmt.Errorf("batch [%d:%d]: %w", start, end, err))
				if g.logger != nil {
					g.logger.Warn("embedding batch failed",
						zap.Int("start", start),
						zap.Int("end", end),
						zap.Error(err))
				}
				return nil
			}
			return fn(ctx, start, vectors)
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	return errors.Join(batchErrs...)
}

// Dimension returns the underlying provider's embedding dimension.
func (g *Gateway) Dimension() int {
	return g.provider.Dimension()
}

// Close closes the underlying provider.
func (g *Gateway) Close() error {
	return g.provider.Close()
}
