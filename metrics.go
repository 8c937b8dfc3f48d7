package matchcore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/talentsift/matchcore/model"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordUpsert is called after each upsert operation.
	// duration is the total time taken, err is nil if successful.
	RecordUpsert(duration time.Duration, err error)

	// RecordUpsertBatch is called after each batch upsert operation.
	// count is the number of records attempted, failed is the number that
	// failed, duration is the total time taken.
	RecordUpsertBatch(count, failed int, duration time.Duration)

	// RecordMatch is called after each match query.
	// recallBudget is the number of partitions probed (0 means exhaustive),
	// duration is the time taken, err is nil if successful.
	RecordMatch(recallBudget int, duration time.Duration, err error)

	// RecordCancelledMatch is called when a match query is abandoned
	// because its context was cancelled.
	RecordCancelledMatch()

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration)

	// RecordDriftWindow is called when a drift window is finalized.
	RecordDriftWindow(snapshot model.DriftSnapshot)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordUpsertBatch(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordMatch(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordCancelledMatch()                     {}
func (NoopMetricsCollector) RecordDelete(time.Duration)                {}
func (NoopMetricsCollector) RecordDriftWindow(model.DriftSnapshot)     {}

// recallBudgetBuckets are the upper bounds of the recall budget histogram.
// Budget 0 (exhaustive scans) lands in the first bucket.
var recallBudgetBuckets = []int{0, 1, 2, 4, 8, 16, 32}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	UpsertCount      atomic.Int64
	UpsertErrors     atomic.Int64
	UpsertTotalNanos atomic.Int64
	BatchCount       atomic.Int64
	BatchItems       atomic.Int64
	BatchFailed      atomic.Int64
	MatchCount       atomic.Int64
	MatchErrors      atomic.Int64
	MatchTotalNanos  atomic.Int64
	CancelledMatches atomic.Int64
	DeleteCount      atomic.Int64
	DriftWindows     atomic.Int64
	DriftAlerts      atomic.Int64

	mu            sync.Mutex
	budgetBuckets [8]int64
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(duration time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordUpsertBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsertBatch(count, failed int, duration time.Duration) {
	b.BatchCount.Add(1)
	b.BatchItems.Add(int64(count))
	b.BatchFailed.Add(int64(failed))
}

// RecordMatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMatch(recallBudget int, duration time.Duration, err error) {
	b.MatchCount.Add(1)
	b.MatchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MatchErrors.Add(1)
	}
	b.mu.Lock()
	b.budgetBuckets[budgetBucket(recallBudget)]++
	b.mu.Unlock()
}

// RecordCancelledMatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCancelledMatch() {
	b.CancelledMatches.Add(1)
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration) {
	b.DeleteCount.Add(1)
}

// RecordDriftWindow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDriftWindow(snapshot model.DriftSnapshot) {
	b.DriftWindows.Add(1)
	if snapshot.DriftDetected {
		b.DriftAlerts.Add(1)
	}
}

func budgetBucket(budget int) int {
	for i, bound := range recallBudgetBuckets {
		if budget <= bound {
			return i
		}
	}
	return len(recallBudgetBuckets)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	b.mu.Lock()
	buckets := b.budgetBuckets
	b.mu.Unlock()
	return BasicMetricsStats{
		UpsertCount:           b.UpsertCount.Load(),
		UpsertErrors:          b.UpsertErrors.Load(),
		UpsertAvgNanos:        avgNanos(b.UpsertCount.Load(), b.UpsertTotalNanos.Load()),
		BatchCount:            b.BatchCount.Load(),
		BatchItems:            b.BatchItems.Load(),
		BatchFailed:           b.BatchFailed.Load(),
		MatchCount:            b.MatchCount.Load(),
		MatchErrors:           b.MatchErrors.Load(),
		MatchAvgNanos:         avgNanos(b.MatchCount.Load(), b.MatchTotalNanos.Load()),
		CancelledMatches:      b.CancelledMatches.Load(),
		DeleteCount:           b.DeleteCount.Load(),
		DriftWindows:          b.DriftWindows.Load(),
		DriftAlerts:           b.DriftAlerts.Load(),
		RecallBudgetHistogram: buckets,
	}
}

func avgNanos(count, total int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	UpsertCount      int64
	UpsertErrors     int64
	UpsertAvgNanos   int64
	BatchCount       int64
	BatchItems       int64
	BatchFailed      int64
	MatchCount       int64
	MatchErrors      int64
	MatchAvgNanos    int64
	CancelledMatches int64
	DeleteCount      int64
	DriftWindows     int64
	DriftAlerts      int64
	// RecallBudgetHistogram counts queries per budget bucket with upper
	// bounds 0, 1, 2, 4, 8, 16, 32 and a final overflow bucket.
	RecallBudgetHistogram [8]int64
}
