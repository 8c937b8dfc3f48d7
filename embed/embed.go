// Package embed defines the embedding generator capability and the shared
// wrappers (content-hash caching, bounded retry) that sit between a backend
// and the matching engine.
//
// Backends live in subpackages: hashing (deterministic local) and gemini
// (remote API). All of them are interchangeable behind Generator.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Generator produces dense vectors from normalized text. Implementations
// must be pure with respect to content: byte-identical normalized text yields
// the same vector.
type Generator interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text. The batch path exists
	// purely for throughput; results are identical to per-item Embed calls.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the fixed output dimensionality.
	Dimension() int
}

// BackendError reports a failed or unavailable embedding backend. Callers
// must surface it instead of inserting a substitute vector into the index.
//
// The underlying error can be accessed via errors.Unwrap.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("embedding backend %q failed: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TextTooLongError is returned when the input exceeds the backend's
// configured length limit. The message carries lengths only, never content.
type TextTooLongError struct {
	Length int
	Limit  int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("input text too long: %d chars exceeds limit %d", e.Length, e.Limit)
}

// DefaultMaxTextLen is the default input length limit in characters.
const DefaultMaxTextLen = 32768

// CheckLength validates text against a length limit. A limit <= 0 disables
// the check.
func CheckLength(text string, limit int) error {
	if limit > 0 && len(text) > limit {
		return &TextTooLongError{Length: len(text), Limit: limit}
	}
	return nil
}

// NormalizeText applies the engine's whitespace/case normalization policy
// exactly once: lowercase, collapse runs of whitespace to single spaces, trim.
// Content hashing and embedding both operate on the normalized form.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContentHash returns the hex-encoded sha256 digest of the normalized text.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
