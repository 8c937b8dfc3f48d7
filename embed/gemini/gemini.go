// Package gemini implements an embedding backend on the Gemini API via the
// google.golang.org/genai SDK. Calls are rate limited client-side; transient
// failures surface as *embed.BackendError for the retry wrapper to handle.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/talentsift/matchcore/embed"
)

const backendName = "gemini"

// Options configures the Gemini embedding backend.
type Options struct {
	// Model is the embedding model name.
	Model string
	// Dimension requests a fixed output dimensionality from the API.
	Dimension int
	// MaxTextLen caps accepted input length in characters. <=0 disables.
	MaxTextLen int
	// RequestsPerSecond throttles API calls. <=0 disables throttling.
	RequestsPerSecond float64
	// Burst is the limiter burst size.
	Burst int
}

// DefaultOptions are the default Gemini backend settings.
var DefaultOptions = Options{
	Model:             "gemini-embedding-001",
	Dimension:         768,
	MaxTextLen:        embed.DefaultMaxTextLen,
	RequestsPerSecond: 5,
	Burst:             5,
}

// Generator embeds text through the Gemini API.
type Generator struct {
	client  *genai.Client
	limiter *rate.Limiter
	opts    Options
}

var _ embed.Generator = (*Generator)(nil)

// New creates a Gemini embedding backend.
func New(ctx context.Context, apiKey string, optFns ...func(o *Options)) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Model = strings.TrimSpace(opts.Model); opts.Model == "" {
		opts.Model = DefaultOptions.Model
	}
	if opts.Dimension < 1 {
		opts.Dimension = DefaultOptions.Dimension
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Generator{client: client, limiter: limiter, opts: opts}, nil
}

// Dimension returns the requested output dimensionality.
func (g *Generator) Dimension() int { return g.opts.Dimension }

// Embed requests a single embedding.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch requests embeddings for all texts in one API call.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		if err := embed.CheckLength(text, g.opts.MaxTextLen); err != nil {
			return nil, err
		}
		contents = append(contents, genai.Text(embed.NormalizeText(text))...)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.opts.Model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(g.opts.Dimension)),
	})
	if err != nil {
		return nil, &embed.BackendError{Backend: backendName, Err: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &embed.BackendError{
			Backend: backendName,
			Err:     fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, &embed.BackendError{
				Backend: backendName,
				Err:     fmt.Errorf("empty embedding at position %d", i),
			}
		}
		out[i] = e.Values
	}
	return out, nil
}
