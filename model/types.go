package model

import "time"

// Record is a normalized input record as delivered by the upstream
// normalizer: an opaque identifier, normalized UTF-8 text and a mapping of
// structured fields (e.g. "skills" -> {"go", "sql"}).
//
// Records are immutable once submitted.
type Record struct {
	ID     string              `json:"id"`
	Text   string              `json:"text"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// Embedding associates a record with its dense vector representation.
// ContentHash is the digest of the normalized text the vector was computed
// from; it drives idempotent re-insertion.
type Embedding struct {
	RecordID    string
	Vector      []float32
	ContentHash string
}

// Weights controls how vector similarity and structured overlap are combined
// into an overall score. Vector+Structured must sum to 1.0.
type Weights struct {
	Vector     float64 `json:"vector"`
	Structured float64 `json:"structured"`
}

// DefaultWeights are the documented default scoring weights.
var DefaultWeights = Weights{Vector: 0.6, Structured: 0.4}

// Valid reports whether the weights are non-negative and sum to 1.0 within
// floating-point tolerance.
func (w Weights) Valid() bool {
	if w.Vector < 0 || w.Structured < 0 {
		return false
	}
	sum := w.Vector + w.Structured
	return sum > 0.999999 && sum < 1.000001
}

// MatchResult is a single ranked match for a query.
type MatchResult struct {
	QueryID          string              `json:"query_id,omitempty"`
	CandidateID      string              `json:"candidate_id"`
	VectorSimilarity float64             `json:"vector_similarity"`
	StructuredScore  float64             `json:"structured_score"`
	OverallScore     float64             `json:"overall_score"`
	MatchedFields    map[string][]string `json:"matched_fields,omitempty"`
	MissingFields    map[string][]string `json:"missing_fields,omitempty"`
	Explanation      string              `json:"explanation,omitempty"`
	Confidence       Confidence          `json:"confidence,omitempty"`
}

// Confidence is a coarse band derived from the overall score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor maps an overall score in [0,1] to a confidence band.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= 0.75:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// QueryStatus is the outcome flag attached to every query response.
type QueryStatus string

const (
	StatusOK QueryStatus = "ok"
	// StatusCancelled indicates the caller's context expired before the
	// search completed. No partial results are returned.
	StatusCancelled QueryStatus = "cancelled"
	// StatusPartialUnavailable indicates a dependency (e.g. the embedding
	// backend) was unavailable and the query could not be served fully.
	StatusPartialUnavailable QueryStatus = "partial_unavailable"
)

// DriftSnapshot is the finalized statistical summary of one observation
// window. Snapshots are read-only once finalized; raw vectors are discarded
// at rotation time.
type DriftSnapshot struct {
	WindowID    string    `json:"window_id"`
	StartedAt   time.Time `json:"started_at"`
	FinalizedAt time.Time `json:"finalized_at"`
	MeanVector  []float32 `json:"mean_vector"`
	// Dispersion is the variance trace of the window (mean squared distance
	// from the window mean).
	Dispersion float64 `json:"dispersion"`
	// PSI is the population stability index of the window's projection
	// histogram against the baseline window.
	PSI           float64 `json:"population_stability_index"`
	SampleCount   int     `json:"sample_count"`
	DriftDetected bool    `json:"drift_detected"`
}
