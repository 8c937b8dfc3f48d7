// Package rank combines vector similarity with structured field overlap into
// a single deterministic ranking of match candidates.
package rank

import (
	"fmt"
	"sort"
	"strings"

	"github.com/talentsift/matchcore/model"
)

// Candidate is one record surfaced by the vector index, carrying the
// similarity the index computed and the record's structured fields.
type Candidate struct {
	RecordID         string
	VectorSimilarity float64
	Fields           map[string][]string
}

// Query describes what the ranker scores candidates against.
type Query struct {
	// ID tags results with the originating query, if the caller has one.
	ID string
	// Fields are the required structured fields, e.g. required skills.
	Fields map[string][]string
}

// Options configures the ranker.
type Options struct {
	// Weights combine vector similarity and structured overlap. Must sum
	// to 1.0.
	Weights model.Weights
	// FieldWeights weight each field category in the structured score.
	// Unlisted categories get weight 1.0.
	FieldWeights map[string]float64
	// SimilarityThreshold excludes candidates before ranking, so top-k is
	// always the best k among qualifying candidates.
	SimilarityThreshold float64
	// TopK caps the result count. 0 means unlimited.
	TopK int
	// Explain attaches a human-readable explanation and confidence band to
	// each result.
	Explain bool
}

// DefaultFieldWeights weight skills above generic field categories.
var DefaultFieldWeights = map[string]float64{
	"skills": 2.0,
}

// DefaultOptions are the default ranker settings.
var DefaultOptions = Options{
	Weights:             model.DefaultWeights,
	FieldWeights:        DefaultFieldWeights,
	SimilarityThreshold: 0.0,
	TopK:                10,
}

// Ranker scores and orders candidates.
type Ranker struct {
	opts Options
}

// New creates a Ranker.
func New(optFns ...func(o *Options)) (*Ranker, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Weights.Valid() {
		return nil, fmt.Errorf("invalid weights: vector=%v structured=%v must be non-negative and sum to 1.0",
			opts.Weights.Vector, opts.Weights.Structured)
	}
	if opts.FieldWeights == nil {
		opts.FieldWeights = DefaultFieldWeights
	}
	return &Ranker{opts: opts}, nil
}

// Rank filters candidates by the similarity threshold, scores the survivors
// and returns them ordered by descending overall score. Ties break by
// descending vector similarity, then ascending record id, so repeated runs
// over the same inputs produce the same order.
func (r *Ranker) Rank(query Query, candidates []Candidate) []model.MatchResult {
	results := make([]model.MatchResult, 0, len(candidates))

	for _, c := range candidates {
		if c.VectorSimilarity < r.opts.SimilarityThreshold {
			continue
		}

		structured, matched, missing := r.structuredScore(query.Fields, c.Fields)
		overall := r.opts.Weights.Vector*c.VectorSimilarity + r.opts.Weights.Structured*structured

		res := model.MatchResult{
			QueryID:          query.ID,
			CandidateID:      c.RecordID,
			VectorSimilarity: c.VectorSimilarity,
			StructuredScore:  structured,
			OverallScore:     overall,
			MatchedFields:    matched,
			MissingFields:    missing,
		}
		if r.opts.Explain {
			res.Explanation = explain(res)
			res.Confidence = model.ConfidenceFor(overall)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		if a.VectorSimilarity != b.VectorSimilarity {
			return a.VectorSimilarity > b.VectorSimilarity
		}
		return a.CandidateID < b.CandidateID
	})

	if r.opts.TopK > 0 && len(results) > r.opts.TopK {
		results = results[:r.opts.TopK]
	}
	return results
}

// structuredScore returns the weighted fraction of required field values the
// candidate carries, plus the matched/missing breakdown per category.
// A query with no required fields scores 0 (all weight effectively shifts to
// vector similarity for ordering purposes).
func (r *Ranker) structuredScore(required, have map[string][]string) (float64, map[string][]string, map[string][]string) {
	if len(required) == 0 {
		return 0, nil, nil
	}

	haveSets := make(map[string]map[string]struct{}, len(have))
	for field, values := range have {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[normalize(v)] = struct{}{}
		}
		haveSets[field] = set
	}

	matched := make(map[string][]string)
	missing := make(map[string][]string)

	var weightedSum, weightTotal float64
	for field, values := range required {
		if len(values) == 0 {
			continue
		}
		weight := 1.0
		if w, ok := r.opts.FieldWeights[field]; ok {
			weight = w
		}

		set := haveSets[field]
		hits := 0
		for _, v := range values {
			if _, ok := set[normalize(v)]; ok {
				matched[field] = append(matched[field], v)
				hits++
			} else {
				missing[field] = append(missing[field], v)
			}
		}

		weightedSum += weight * float64(hits) / float64(len(values))
		weightTotal += weight
	}

	if weightTotal == 0 {
		return 0, nil, nil
	}
	if len(matched) == 0 {
		matched = nil
	}
	if len(missing) == 0 {
		missing = nil
	}
	return weightedSum / weightTotal, matched, missing
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func explain(res model.MatchResult) string {
	var sb strings.Builder

	switch {
	case res.VectorSimilarity >= 0.8:
		sb.WriteString("strong semantic match")
	case res.VectorSimilarity >= 0.5:
		sb.WriteString("moderate semantic match")
	default:
		sb.WriteString("weak semantic match")
	}

	switch {
	case res.StructuredScore >= 0.8:
		sb.WriteString(", most required fields covered")
	case res.StructuredScore > 0:
		sb.WriteString(", partial required-field coverage")
	default:
		sb.WriteString(", no required-field coverage")
	}

	return sb.String()
}
