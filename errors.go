package matchcore

import (
	"errors"

	"github.com/talentsift/matchcore/embed"
	"github.com/talentsift/matchcore/index/ivf"
	"github.com/talentsift/matchcore/persistence"
)

var (
	// ErrNotFound is returned when an operation references a record id that
	// is not indexed.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidK is returned when a query asks for fewer than one result.
	ErrInvalidK = ivf.ErrInvalidK
	// ErrZeroVector is returned for inputs that embed to (or arrive as) a
	// zero-norm vector, which cannot participate in cosine search.
	ErrZeroVector = ivf.ErrZeroVector
	// ErrCorruptSnapshot is returned by restore when a blob fails
	// validation. Restore is all-or-nothing; engine state is untouched.
	ErrCorruptSnapshot = persistence.ErrCorruptSnapshot
)

// Aliases for the typed errors surfaced by engine operations, so callers can
// errors.As against the root package without importing internals.
type (
	// DimensionMismatchError rejects vectors of the wrong dimensionality.
	DimensionMismatchError = ivf.DimensionMismatchError
	// DuplicateRaceError reports an insert dropped by last-writer-wins.
	DuplicateRaceError = ivf.DuplicateRaceError
	// EmbeddingError reports an unavailable or failing embedding backend.
	EmbeddingError = embed.BackendError
	// VersionMismatchError rejects snapshots from a newer format version.
	VersionMismatchError = persistence.VersionMismatchError
)
