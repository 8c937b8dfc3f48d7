package embed

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// CachedGenerator wraps a Generator with a content-hash cache so identical
// normalized text is embedded at most once. Concurrent requests for the same
// content hash share a single in-flight computation.
//
// The cache is the only mutable state the embedding path carries.
type CachedGenerator struct {
	inner Generator

	mu    sync.RWMutex
	cache map[string][]float32

	group singleflight.Group

	// batchParallelism bounds concurrent backend calls in EmbedBatch.
	batchParallelism int
}

// CacheOptions configures a CachedGenerator.
type CacheOptions struct {
	// BatchParallelism bounds concurrent backend calls during EmbedBatch.
	BatchParallelism int
}

// DefaultCacheOptions are the default CachedGenerator settings.
var DefaultCacheOptions = CacheOptions{
	BatchParallelism: 8,
}

// NewCachedGenerator wraps inner with a content-hash cache.
func NewCachedGenerator(inner Generator, optFns ...func(o *CacheOptions)) *CachedGenerator {
	opts := DefaultCacheOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchParallelism < 1 {
		opts.BatchParallelism = 1
	}
	return &CachedGenerator{
		inner:            inner,
		cache:            make(map[string][]float32),
		batchParallelism: opts.BatchParallelism,
	}
}

// Dimension returns the wrapped backend's dimensionality.
func (g *CachedGenerator) Dimension() int { return g.inner.Dimension() }

// Embed returns the vector for text, computing it at most once per content
// hash. The returned slice is a copy; callers may mutate it freely.
func (g *CachedGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := NormalizeText(text)
	hash := ContentHash(normalized)
	return g.embedHashed(ctx, normalized, hash)
}

// EmbedWithHash is like Embed but also returns the content hash, saving the
// engine a second normalization pass.
func (g *CachedGenerator) EmbedWithHash(ctx context.Context, text string) ([]float32, string, error) {
	normalized := NormalizeText(text)
	hash := ContentHash(normalized)
	vec, err := g.embedHashed(ctx, normalized, hash)
	return vec, hash, err
}

func (g *CachedGenerator) embedHashed(ctx context.Context, normalized, hash string) ([]float32, error) {
	g.mu.RLock()
	vec, ok := g.cache[hash]
	g.mu.RUnlock()
	if ok {
		return slices.Clone(vec), nil
	}

	// singleflight keys the in-flight marker by content hash so identical
	// concurrent requests compute once.
	v, err, _ := g.group.Do(hash, func() (any, error) {
		g.mu.RLock()
		cached, ok := g.cache[hash]
		g.mu.RUnlock()
		if ok {
			return cached, nil
		}

		computed, err := g.inner.Embed(ctx, normalized)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.cache[hash] = computed
		g.mu.Unlock()
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]float32)), nil
}

// EmbedBatch embeds each text in parallel with no shared mutable state other
// than the cache. Results are positionally identical to per-item Embed calls.
func (g *CachedGenerator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.batchParallelism)
	for i, text := range texts {
		eg.Go(func() error {
			vec, err := g.Embed(ctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of cached embeddings.
func (g *CachedGenerator) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}
