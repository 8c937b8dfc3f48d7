package matchcore

import (
	"github.com/talentsift/matchcore/drift"
	"github.com/talentsift/matchcore/embed"
	"github.com/talentsift/matchcore/index/ivf"
	"github.com/talentsift/matchcore/model"
	"github.com/talentsift/matchcore/persistence"
	"github.com/talentsift/matchcore/rank"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	defaultWeights   model.Weights
	fieldWeights     map[string]float64
	defaultTopK      int
	recallBudget     int
	candidateFactor  int
	indexOptions     []func(o *ivf.Options)
	driftOptions     []func(o *drift.Options)
	cacheOptions     []func(o *embed.CacheOptions)
	retryOptions     []func(o *embed.RetryOptions)
	retryDisabled    bool
	snapshotOptions  []func(o *persistence.Options)
}

// Option configures Engine constructor behavior.
type Option func(*options)

// WithMetricsCollector sets the metrics collector for engine operations.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets the structured logger for engine operations.
//
// If nil is passed, NoopLogger() is used.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithDefaultWeights sets the scoring weights applied when a query does not
// override them. Vector+Structured must sum to 1.0.
func WithDefaultWeights(w model.Weights) Option {
	return func(o *options) {
		o.defaultWeights = w
	}
}

// WithFieldWeights sets the per-category weights of the structured score.
// Unlisted categories get weight 1.0.
func WithFieldWeights(fw map[string]float64) Option {
	return func(o *options) {
		o.fieldWeights = fw
	}
}

// WithDefaultTopK sets the result count used when a query leaves TopK unset.
func WithDefaultTopK(k int) Option {
	return func(o *options) {
		o.defaultTopK = k
	}
}

// WithDefaultRecallBudget sets the number of partitions probed when a query
// leaves RecallBudget unset. 0 means exhaustive exact search.
func WithDefaultRecallBudget(budget int) Option {
	return func(o *options) {
		o.recallBudget = budget
	}
}

// WithCandidateFactor sets how many candidates are fetched from the vector
// index per requested result before structured re-ranking. Higher values
// make the combined ranking more stable at the cost of scoring more rows.
func WithCandidateFactor(factor int) Option {
	return func(o *options) {
		o.candidateFactor = factor
	}
}

// WithIndexOptions forwards configuration to the underlying vector index.
func WithIndexOptions(fns ...func(o *ivf.Options)) Option {
	return func(o *options) {
		o.indexOptions = append(o.indexOptions, fns...)
	}
}

// WithDriftOptions forwards configuration to the drift monitor.
func WithDriftOptions(fns ...func(o *drift.Options)) Option {
	return func(o *options) {
		o.driftOptions = append(o.driftOptions, fns...)
	}
}

// WithCacheOptions forwards configuration to the embedding cache.
func WithCacheOptions(fns ...func(o *embed.CacheOptions)) Option {
	return func(o *options) {
		o.cacheOptions = append(o.cacheOptions, fns...)
	}
}

// WithRetryOptions forwards configuration to the embedding retry layer.
func WithRetryOptions(fns ...func(o *embed.RetryOptions)) Option {
	return func(o *options) {
		o.retryOptions = append(o.retryOptions, fns...)
	}
}

// WithoutRetry disables the embedding retry layer; backend errors surface
// after a single attempt.
func WithoutRetry() Option {
	return func(o *options) {
		o.retryDisabled = true
	}
}

// WithSnapshotOptions forwards encoding configuration (e.g. compression) to
// snapshot writes.
func WithSnapshotOptions(fns ...func(o *persistence.Options)) Option {
	return func(o *options) {
		o.snapshotOptions = append(o.snapshotOptions, fns...)
	}
}

func applyOptions(optFns []Option) options {
	opts := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		defaultWeights:   model.DefaultWeights,
		fieldWeights:     rank.DefaultFieldWeights,
		defaultTopK:      10,
		recallBudget:     0,
		candidateFactor:  4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}
