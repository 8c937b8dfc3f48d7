package ivf

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when a search asks for fewer than one result.
	ErrInvalidK = errors.New("k must be positive")
	// ErrZeroVector is returned for vectors with zero L2 norm, which have
	// no direction and would corrupt cosine scoring.
	ErrZeroVector = errors.New("vector has zero norm")
)

// DimensionMismatchError indicates a vector whose dimensionality differs
// from the index's fixed dimension. The offending insert is rejected at the
// boundary; the index itself is unaffected.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DuplicateRaceError reports a lost insert race: a concurrent insert for the
// same record id carried a higher sequence number, so this one was dropped.
// Callers may retry with a fresh sequence number.
type DuplicateRaceError struct {
	RecordID   string
	LoserSeq   uint64
	CurrentSeq uint64
}

func (e *DuplicateRaceError) Error() string {
	return fmt.Sprintf("duplicate insert race for record %q: seq %d superseded by %d",
		e.RecordID, e.LoserSeq, e.CurrentSeq)
}
