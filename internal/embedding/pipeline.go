// Package embedding turns document text into fixed-dimension vectors via
// an external provider, with batching, shared rate limiting, and retry.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quarrydev/quarry/internal/provider"
	"github.com/quarrydev/quarry/internal/retry"
)

// Embedder is the provider surface the pipeline consumes. Errors must be
// classifiable through provider.IsTransient.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes a Pipeline.
type Config struct {
	// BatchSize is the maximum texts per provider request.
	BatchSize int
	// RequestsPerSecond caps provider calls across all workers.
	RequestsPerSecond float64
	// CallTimeout bounds a single provider call. A timed-out call counts
	// as one failed attempt against the retry budget.
	CallTimeout time.Duration
	// MaxAttempts, BaseDelay and MaxDelay parameterize the retry policy.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Pipeline coordinates embedding requests. The rate limiter is the only
// shared mutable state; workers block on it rather than racing.
type Pipeline struct {
	embedder    Embedder
	limiter     *rate.Limiter
	policy      retry.Policy
	batchSize   int
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline around embedder. The limiter is
// constructed once here and shared by every worker the pipeline spawns.
func NewPipeline(embedder Embedder, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Pipeline{
		embedder:    embedder,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		policy:      retry.NewPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay, provider.IsTransient),
		batchSize:   cfg.BatchSize,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
	}
}

// Embed embeds a single text, waiting on the shared limiter and retrying
// transient provider failures.
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		var err error
		vec, err = p.embedder.EmbedOne(callCtx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts with up to maxWorkers concurrent provider
// requests. The result always has len(texts) entries in input order; a nil
// at position i means that text permanently failed after exhausting
// retries. Failures never disturb other positions.
func (p *Pipeline) EmbedBatch(ctx context.Context, texts []string, maxWorkers int) [][]float32 {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		g.Go(func() error {
			p.embedChunk(ctx, texts[start:end], results[start:end])
			return nil
		})
	}
	_ = g.Wait() // workers record failures positionally, never abort

	failed := 0
	for _, r := range results {
		if r == nil {
			failed++
		}
	}
	if failed > 0 {
		p.logger.Warn("embedding batch completed with failures",
			"total", len(texts), "failed", failed)
	}
	return results
}

// embedChunk embeds one provider-sized chunk into the matching result
// slots. The chunk retries as a unit; exhausting the budget leaves every
// slot nil.
func (p *Pipeline) embedChunk(ctx context.Context, texts []string, out [][]float32) {
	var vecs [][]float32
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		var err error
		vecs, err = p.embedder.EmbedBatch(callCtx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("embedding chunk failed", "size", len(texts), "error", err)
		return
	}
	copy(out, vecs)
}
