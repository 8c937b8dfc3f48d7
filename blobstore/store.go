// Package blobstore abstracts where snapshot blobs are kept: local disk,
// memory (tests) or S3-compatible object storage. Snapshots are read and
// written wholesale, so the interface is deliberately Put/Get rather than
// random access.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a named blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a destination for snapshot blobs.
type Store interface {
	// Put writes a blob under name, replacing any existing blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads the blob under name, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes the blob under name. Deleting an absent blob is not
	// an error.
	Delete(ctx context.Context, name string) error
}
