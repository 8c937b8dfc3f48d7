// Package hashing implements a deterministic local embedding backend based
// on token feature hashing. It needs no model weights and no network, which
// makes it the default backend for tests and air-gapped deployments; its
// vectors are far weaker semantically than a learned encoder's.
package hashing

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/talentsift/matchcore/distance"
	"github.com/talentsift/matchcore/embed"
)

// Options configures the hashing backend.
type Options struct {
	// Dimension is the output vector dimensionality.
	Dimension int
	// MaxTextLen caps accepted input length in characters. <=0 disables.
	MaxTextLen int
}

// DefaultOptions are the default hashing backend settings.
var DefaultOptions = Options{
	Dimension:  256,
	MaxTextLen: embed.DefaultMaxTextLen,
}

// Generator is a deterministic feature-hashing embedder.
type Generator struct {
	opts Options
}

var _ embed.Generator = (*Generator)(nil)

// New creates a hashing embedder.
func New(optFns ...func(o *Options)) *Generator {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension < 1 {
		opts.Dimension = DefaultOptions.Dimension
	}
	return &Generator{opts: opts}
}

// Dimension returns the configured output dimensionality.
func (g *Generator) Dimension() int { return g.opts.Dimension }

// Embed maps each whitespace token to a signed bucket via FNV-1a and
// L2-normalizes the result. Identical normalized text always produces an
// identical vector.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := embed.CheckLength(text, g.opts.MaxTextLen); err != nil {
		return nil, err
	}

	vec := make([]float32, g.opts.Dimension)
	for _, token := range strings.Fields(embed.NormalizeText(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(g.opts.Dimension))
		// One hash bit decides the sign, keeping collisions unbiased.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	// Empty or all-cancelling text embeds as the zero vector; leave it to
	// the caller to reject (the index refuses zero-norm vectors).
	distance.NormalizeL2InPlace(vec)
	return vec, nil
}

// EmbedBatch embeds each text sequentially. The hashing backend is CPU-bound
// and allocation-light, so there is no parallel path here; wrap with
// embed.NewCachedGenerator for concurrent batch fan-out.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := g.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
