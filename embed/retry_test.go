package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyGenerator fails a fixed number of times before succeeding.
type flakyGenerator struct {
	dim       int
	failures  int
	calls     int
	permanent error
}

func (g *flakyGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	g.calls++
	if g.permanent != nil {
		return nil, g.permanent
	}
	if g.calls <= g.failures {
		return nil, &BackendError{Backend: "flaky", Err: errors.New("transient")}
	}
	return make([]float32, g.dim), nil
}

func (g *flakyGenerator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vec, err := g.Embed(ctx, texts[0])
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = vec
	}
	return out, nil
}

func (g *flakyGenerator) Dimension() int { return g.dim }

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryGenerator_RecoversFromTransientFailures(t *testing.T) {
	backend := &flakyGenerator{dim: 3, failures: 2}
	gen := NewRetryGenerator(backend, func(o *RetryOptions) {
		o.MaxAttempts = 4
	})
	gen.sleep = noSleep

	vec, err := gen.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, backend.calls)
}

func TestRetryGenerator_SurfacesAfterAttemptCap(t *testing.T) {
	backend := &flakyGenerator{dim: 3, failures: 10}
	gen := NewRetryGenerator(backend, func(o *RetryOptions) {
		o.MaxAttempts = 3
	})
	gen.sleep = noSleep

	_, err := gen.Embed(context.Background(), "text")
	require.Error(t, err)

	var backendErr *BackendError
	assert.ErrorAs(t, err, &backendErr)
	assert.Equal(t, 3, backend.calls)
}

func TestRetryGenerator_DoesNotRetryTextTooLong(t *testing.T) {
	backend := &flakyGenerator{dim: 3, permanent: &TextTooLongError{Length: 100, Limit: 10}}
	gen := NewRetryGenerator(backend, func(o *RetryOptions) {
		o.MaxAttempts = 5
	})
	gen.sleep = noSleep

	_, err := gen.Embed(context.Background(), "text")
	var tooLong *TextTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 1, backend.calls)
}

func TestRetryGenerator_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &flakyGenerator{dim: 3, failures: 10}
	gen := NewRetryGenerator(backend)
	gen.sleep = noSleep

	_, err := gen.Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.calls)
}
