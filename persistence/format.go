// Package persistence serializes engine state to a versioned binary snapshot
// and restores it all-or-nothing: a blob that fails magic, version, checksum
// or structural validation is rejected without touching the running engine.
package persistence

import (
	"errors"
	"fmt"
)

const (
	// Magic identifies matchcore snapshot files (ASCII "MTC1").
	Magic = 0x4d544331
	// FormatVersion is the current snapshot format version. Readers refuse
	// blobs written by a newer format.
	FormatVersion = 1
)

// Compression selects the body compression codec.
type Compression uint8

const (
	// CompressionNone stores the body uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast with a modest ratio; the default.
	CompressionLZ4 Compression = 1
	// CompressionZstd trades write speed for a better ratio.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ErrCorruptSnapshot is returned when a blob fails magic, checksum or
// structural validation. Wrapped errors carry the specific cause.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// VersionMismatchError is returned when a blob's format version exceeds what
// this build understands.
type VersionMismatchError struct {
	Found     uint32
	Supported uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("snapshot format version %d exceeds supported version %d", e.Found, e.Supported)
}

// ChecksumMismatchError reports a CRC32 verification failure.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Unwrap lets checksum failures satisfy errors.Is(err, ErrCorruptSnapshot).
func (e *ChecksumMismatchError) Unwrap() error { return ErrCorruptSnapshot }

// header is the fixed-size manifest at the start of every snapshot.
// The body follows; a CRC32 (IEEE) of header+body trails the file.
type header struct {
	Magic          uint32
	FormatVersion  uint32
	Compression    uint8
	Padding        [3]byte
	Dimension      uint32
	PartitionCount uint32
	VectorCount    uint64
	StateVersion   uint64
	CreatedAt      int64 // unix seconds
}
