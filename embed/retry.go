package embed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryOptions configures the bounded backoff applied to transient backend
// failures.
type RetryOptions struct {
	// MaxAttempts caps the total number of tries (initial call included).
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration
}

// DefaultRetryOptions are the default retry settings.
var DefaultRetryOptions = RetryOptions{
	MaxAttempts: 4,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// RetryGenerator wraps a Generator and retries transient failures with
// exponential backoff up to a configured attempt cap before surfacing the
// backend error. Length-limit violations are not retried.
type RetryGenerator struct {
	inner Generator
	opts  RetryOptions

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryGenerator wraps inner with bounded-backoff retry.
func NewRetryGenerator(inner Generator, optFns ...func(o *RetryOptions)) *RetryGenerator {
	opts := DefaultRetryOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &RetryGenerator{inner: inner, opts: opts, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dimension returns the wrapped backend's dimensionality.
func (g *RetryGenerator) Dimension() int { return g.inner.Dimension() }

func (g *RetryGenerator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := g.opts.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == g.opts.MaxAttempts {
			break
		}

		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if g.opts.MaxDelay > 0 && delay > g.opts.MaxDelay {
			delay = g.opts.MaxDelay
		}
	}

	return fmt.Errorf("embedding failed after %d attempts: %w", g.opts.MaxAttempts, lastErr)
}

func isRetryable(err error) bool {
	var tooLong *TextTooLongError
	if errors.As(err, &tooLong) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Embed calls the backend with retry.
func (g *RetryGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.do(ctx, func(ctx context.Context) error {
		var innerErr error
		vec, innerErr = g.inner.Embed(ctx, text)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch calls the backend's batch path with retry. The whole batch is
// retried as a unit; backends with per-item failure semantics should split
// batches themselves.
func (g *RetryGenerator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := g.do(ctx, func(ctx context.Context) error {
		var innerErr error
		vecs, innerErr = g.inner.EmbedBatch(ctx, texts)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}
