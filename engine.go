package matchcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/talentsift/matchcore/blobstore"
	"github.com/talentsift/matchcore/distance"
	"github.com/talentsift/matchcore/drift"
	"github.com/talentsift/matchcore/embed"
	"github.com/talentsift/matchcore/fieldindex"
	"github.com/talentsift/matchcore/index/ivf"
	"github.com/talentsift/matchcore/model"
	"github.com/talentsift/matchcore/persistence"
	"github.com/talentsift/matchcore/rank"
)

// Engine is the matching engine facade: it owns the embedding pipeline, the
// vector index, the structured field index and the drift monitor, and keeps
// them consistent across upserts, deletes and snapshot restores.
//
// All methods are safe for concurrent use. Reads never block behind writes;
// writes serialize against each other.
type Engine struct {
	embedder *embed.CachedGenerator
	index    *ivf.Index
	monitor  *drift.Monitor
	metrics  MetricsCollector
	logger   *Logger
	opts     options

	// seq orders concurrent upserts of the same record id.
	seq atomic.Uint64

	// mu serializes snapshot/restore against mutating operations, so a
	// snapshot always captures a consistent index+fields pair. Mutations
	// take the read side and still run concurrently with each other.
	mu sync.RWMutex

	// fieldsMu guards the id->fields store and the field index together.
	fieldsMu   sync.RWMutex
	fieldsByID map[string]map[string][]string
	fieldRows  *fieldindex.Index
}

// New creates an Engine around the given embedding backend. The engine's
// vector dimensionality is fixed to the backend's.
func New(backend embed.Generator, optFns ...Option) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("matchcore: embedding backend is required")
	}
	opts := applyOptions(optFns)
	if !opts.defaultWeights.Valid() {
		return nil, fmt.Errorf("matchcore: invalid default weights: vector=%g structured=%g",
			opts.defaultWeights.Vector, opts.defaultWeights.Structured)
	}
	if opts.defaultTopK < 1 {
		return nil, ErrInvalidK
	}

	dim := backend.Dimension()

	inner := backend
	if !opts.retryDisabled {
		inner = embed.NewRetryGenerator(inner, opts.retryOptions...)
	}
	embedder := embed.NewCachedGenerator(inner, opts.cacheOptions...)

	ix, err := ivf.New(dim, opts.indexOptions...)
	if err != nil {
		return nil, err
	}

	metrics := opts.metricsCollector
	logger := opts.logger
	driftFns := make([]func(o *drift.Options), 0, len(opts.driftOptions)+1)
	driftFns = append(driftFns, opts.driftOptions...)
	driftFns = append(driftFns, func(o *drift.Options) {
		user := o.OnSnapshot
		o.OnSnapshot = func(s model.DriftSnapshot) {
			metrics.RecordDriftWindow(s)
			logger.LogDrift(context.Background(), s.WindowID, s.PSI, s.DriftDetected)
			if user != nil {
				user(s)
			}
		}
	})
	monitor, err := drift.New(dim, driftFns...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		embedder:   embedder,
		index:      ix,
		monitor:    monitor,
		metrics:    metrics,
		logger:     logger,
		opts:       opts,
		fieldsByID: make(map[string]map[string][]string),
		fieldRows:  fieldindex.New(),
	}, nil
}

// Dimension returns the engine's fixed vector dimensionality.
func (e *Engine) Dimension() int { return e.index.Dimension() }

// Upsert embeds a record and inserts it into the index.
//
// Re-submitting a record whose normalized text is unchanged is a no-op.
// A changed text atomically replaces the stored vector. Concurrent upserts
// of the same id resolve last-writer-wins; the losing call gets a
// DuplicateRaceError.
func (e *Engine) Upsert(ctx context.Context, rec model.Record) error {
	start := time.Now()
	err := e.upsert(ctx, rec)
	e.metrics.RecordUpsert(time.Since(start), err)
	return err
}

func (e *Engine) upsert(ctx context.Context, rec model.Record) error {
	if rec.ID == "" {
		err := errors.New("matchcore: record id is required")
		e.logger.LogUpsert(ctx, rec.ID, "", err)
		return err
	}

	vec, hash, err := e.embedder.EmbedWithHash(ctx, rec.Text)
	if err != nil {
		e.logger.LogUpsert(ctx, rec.ID, "", err)
		return fmt.Errorf("matchcore: embed record %q: %w", rec.ID, err)
	}

	normalized, ok := distance.NormalizeL2Copy(vec)
	if !ok {
		e.logger.LogUpsert(ctx, rec.ID, hash, ErrZeroVector)
		return fmt.Errorf("matchcore: record %q: %w", rec.ID, ErrZeroVector)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	prevHash, existed := e.index.Contains(rec.ID)

	seq := e.seq.Add(1)
	row, err := e.index.Insert(rec.ID, normalized, hash, seq)
	if err != nil {
		e.logger.LogUpsert(ctx, rec.ID, hash, err)
		return err
	}

	e.setFields(rec.ID, row, rec.Fields)
	// Idempotent re-submissions are not fresh samples; feeding them to the
	// drift monitor would skew the window toward repeated records.
	if !existed || prevHash != hash {
		e.monitor.Observe(normalized)
	}
	e.logger.LogUpsert(ctx, rec.ID, hash, nil)
	return nil
}

// setFields replaces the stored structured fields of a record.
func (e *Engine) setFields(id string, row uint32, fields map[string][]string) {
	e.fieldsMu.Lock()
	defer e.fieldsMu.Unlock()

	if old, ok := e.fieldsByID[id]; ok {
		e.fieldRows.Remove(row, old)
	}
	// A concurrent delete may have removed the record between the index
	// commit and here; the freed row must not inherit this record's bits.
	if cur, ok := e.index.Row(id); !ok || cur != row {
		delete(e.fieldsByID, id)
		return
	}
	if len(fields) == 0 {
		delete(e.fieldsByID, id)
		return
	}
	stored := copyFields(fields)
	e.fieldsByID[id] = stored
	e.fieldRows.Add(row, stored)
}

func copyFields(fields map[string][]string) map[string][]string {
	out := make(map[string][]string, len(fields))
	for k, vs := range fields {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// UpsertBatch upserts records sequentially after warming the embedding
// cache as a batch. It returns a per-record error slice aligned with the
// input: one failing record never sinks the rest of the batch. The
// batch-level error is non-nil only when the context was already cancelled.
func (e *Engine) UpsertBatch(ctx context.Context, records []model.Record) ([]error, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}
	// Warm the embedding cache best-effort; a record that fails to embed
	// surfaces its own error from its upsert below.
	_, _ = e.embedder.EmbedBatch(ctx, texts)

	errs := make([]error, len(records))
	failed := 0
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			failed++
			continue
		}
		if err := e.upsert(ctx, rec); err != nil {
			errs[i] = err
			failed++
		}
	}

	e.metrics.RecordUpsertBatch(len(records), failed, time.Since(start))
	e.logger.LogUpsertBatch(ctx, len(records), failed)
	return errs, nil
}

// Delete removes a record. Deleting an absent id is a no-op; the return
// value reports whether the record existed.
func (e *Engine) Delete(ctx context.Context, id string) bool {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	row, existed := e.index.Delete(id)
	if existed {
		e.fieldsMu.Lock()
		if old, ok := e.fieldsByID[id]; ok {
			e.fieldRows.Remove(row, old)
			delete(e.fieldsByID, id)
		}
		e.fieldsMu.Unlock()
	}

	e.metrics.RecordDelete(time.Since(start))
	e.logger.LogDelete(ctx, id, existed)
	return existed
}

// Contains reports whether a record id is indexed.
func (e *Engine) Contains(id string) bool {
	_, ok := e.index.Contains(id)
	return ok
}

// Fields returns a copy of the stored structured fields of a record.
func (e *Engine) Fields(id string) map[string][]string {
	e.fieldsMu.RLock()
	defer e.fieldsMu.RUnlock()
	fields, ok := e.fieldsByID[id]
	if !ok {
		return nil
	}
	return copyFields(fields)
}

// Rebuild reclusters the vector index into partitionCount partitions;
// 0 applies the sqrt(n) default. In-flight queries keep reading the
// pre-rebuild state until the atomic swap.
func (e *Engine) Rebuild(ctx context.Context, partitionCount int) error {
	err := e.index.Rebuild(ctx, partitionCount)
	e.logger.LogRebuild(ctx, e.index.PartitionCount(), e.index.Len(), err)
	return err
}

// MatchQuery describes one match request.
type MatchQuery struct {
	// ID tags results with the originating query, if the caller has one.
	ID string

	// Text is the query content; it is embedded through the same pipeline
	// as records. Ignored when Vector is set.
	Text string
	// Vector bypasses embedding with a pre-computed query vector.
	Vector []float32

	// TopK caps the result count. 0 applies the engine default; values
	// below 1 after defaulting are rejected.
	TopK int
	// SimilarityThreshold excludes candidates whose vector similarity is
	// below it before ranking.
	SimilarityThreshold float64
	// Weights override the engine's default scoring weights when non-nil.
	Weights *model.Weights
	// RequiredFields are the structured requirements scored by the ranker,
	// e.g. {"skills": {"go", "sql"}}.
	RequiredFields map[string][]string
	// FilterByFields restricts the vector search to records carrying every
	// required field value, instead of merely scoring the overlap.
	FilterByFields bool
	// RecallBudget is the number of index partitions probed. 0 applies the
	// engine default; Exhaustive forces an exact full scan.
	RecallBudget int
	// Exhaustive forces an exact scan regardless of RecallBudget.
	Exhaustive bool
	// Explain attaches explanations and confidence bands to results.
	Explain bool
}

// MatchResponse is the outcome of a match query. Results are ordered by
// descending overall score; Status is StatusOK unless the query was
// cancelled or a dependency was unavailable.
type MatchResponse struct {
	QueryID string              `json:"query_id,omitempty"`
	Status  model.QueryStatus   `json:"status"`
	Results []model.MatchResult `json:"results"`
}

func (e *Engine) resolveBudget(q MatchQuery) int {
	if q.Exhaustive {
		return 0
	}
	if q.RecallBudget > 0 {
		return q.RecallBudget
	}
	return e.opts.recallBudget
}

// Match runs a full match query: embed (or take) the query vector, search
// the index, then rank the candidates by combined vector and structured
// score.
//
// Cancellation is not an error: a cancelled query returns StatusCancelled
// with no results. An unavailable embedding backend returns
// StatusPartialUnavailable alongside the underlying error.
func (e *Engine) Match(ctx context.Context, q MatchQuery) (*MatchResponse, error) {
	start := time.Now()
	budget := e.resolveBudget(q)

	resp, err := e.match(ctx, q, budget)
	if resp != nil && resp.Status == model.StatusCancelled {
		e.metrics.RecordCancelledMatch()
	} else {
		e.metrics.RecordMatch(budget, time.Since(start), err)
	}
	status := ""
	if resp != nil {
		status = string(resp.Status)
	}
	results := 0
	if resp != nil {
		results = len(resp.Results)
	}
	e.logger.LogMatch(ctx, q.TopK, budget, results, status, err)
	return resp, err
}

func (e *Engine) match(ctx context.Context, q MatchQuery, budget int) (*MatchResponse, error) {
	topK := q.TopK
	if topK == 0 {
		topK = e.opts.defaultTopK
	}
	if topK < 1 {
		return nil, ErrInvalidK
	}

	weights := e.opts.defaultWeights
	if q.Weights != nil {
		if !q.Weights.Valid() {
			return nil, fmt.Errorf("matchcore: invalid query weights: vector=%g structured=%g",
				q.Weights.Vector, q.Weights.Structured)
		}
		weights = *q.Weights
	}

	vec, resp, err := e.queryVector(ctx, q)
	if resp != nil || err != nil {
		return resp, err
	}

	var allowed *roaring.Bitmap
	if q.FilterByFields {
		e.fieldsMu.RLock()
		fr := e.fieldRows
		e.fieldsMu.RUnlock()
		allowed = fr.Rows(q.RequiredFields)
	}

	fetchK := topK * e.opts.candidateFactor
	if fetchK < topK {
		fetchK = topK
	}

	hits, err := e.index.Search(ctx, vec, fetchK, budget, allowed)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &MatchResponse{QueryID: q.ID, Status: model.StatusCancelled}, nil
		}
		return nil, err
	}

	candidates := make([]rank.Candidate, len(hits))
	e.fieldsMu.RLock()
	for i, h := range hits {
		candidates[i] = rank.Candidate{
			RecordID:         h.RecordID,
			VectorSimilarity: h.Similarity,
			Fields:           e.fieldsByID[h.RecordID],
		}
	}
	e.fieldsMu.RUnlock()

	ranker, err := rank.New(func(o *rank.Options) {
		o.Weights = weights
		o.FieldWeights = e.opts.fieldWeights
		o.SimilarityThreshold = q.SimilarityThreshold
		o.TopK = topK
		o.Explain = q.Explain
	})
	if err != nil {
		return nil, err
	}

	results := ranker.Rank(rank.Query{ID: q.ID, Fields: q.RequiredFields}, candidates)
	return &MatchResponse{QueryID: q.ID, Status: model.StatusOK, Results: results}, nil
}

// queryVector resolves the query vector from q, embedding the text when no
// vector is supplied. A non-nil response short-circuits the query.
func (e *Engine) queryVector(ctx context.Context, q MatchQuery) ([]float32, *MatchResponse, error) {
	if len(q.Vector) > 0 {
		if len(q.Vector) != e.index.Dimension() {
			return nil, nil, &ivf.DimensionMismatchError{
				Expected: e.index.Dimension(),
				Actual:   len(q.Vector),
			}
		}
		return q.Vector, nil, nil
	}
	if q.Text == "" {
		return nil, nil, errors.New("matchcore: query requires text or a vector")
	}

	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &MatchResponse{QueryID: q.ID, Status: model.StatusCancelled}, nil
		}
		return nil, &MatchResponse{QueryID: q.ID, Status: model.StatusPartialUnavailable},
			fmt.Errorf("matchcore: embed query: %w", err)
	}
	return vec, nil, nil
}

// SimilarRecord is one hit of a record-to-record similarity lookup.
type SimilarRecord struct {
	RecordID   string  `json:"record_id"`
	Similarity float64 `json:"similarity"`
}

// SimilarRecords returns the topK records most similar to an already
// indexed record, excluding the record itself.
func (e *Engine) SimilarRecords(ctx context.Context, id string, topK int) ([]SimilarRecord, error) {
	if topK < 1 {
		return nil, ErrInvalidK
	}
	vec, ok := e.index.Vector(id)
	if !ok {
		return nil, fmt.Errorf("matchcore: %q: %w", id, ErrNotFound)
	}

	hits, err := e.index.Search(ctx, vec, topK+1, e.opts.recallBudget, nil)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarRecord, 0, topK)
	for _, h := range hits {
		if h.RecordID == id {
			continue
		}
		out = append(out, SimilarRecord{RecordID: h.RecordID, Similarity: h.Similarity})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// Snapshot writes the engine state (index dump plus structured fields) to w
// in the versioned binary format.
func (e *Engine) Snapshot(w io.Writer) error {
	snap := e.buildSnapshot()
	err := persistence.Write(w, snap, e.opts.snapshotOptions...)
	e.logger.LogSnapshot(context.Background(), "write", len(snap.Index.Entries), err)
	return err
}

// SaveSnapshot writes the engine state to a file, atomically via a
// temp-file rename.
func (e *Engine) SaveSnapshot(path string) error {
	snap := e.buildSnapshot()
	err := persistence.SaveFile(path, snap, e.opts.snapshotOptions...)
	e.logger.LogSnapshot(context.Background(), "save", len(snap.Index.Entries), err)
	return err
}

func (e *Engine) buildSnapshot() *persistence.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	ex := e.index.Export()

	e.fieldsMu.RLock()
	fields := make(map[string]map[string][]string, len(e.fieldsByID))
	for id, fl := range e.fieldsByID {
		fields[id] = copyFields(fl)
	}
	e.fieldsMu.RUnlock()

	return &persistence.Snapshot{Index: ex, Fields: fields, CreatedAt: time.Now()}
}

// Restore replaces the engine state with a snapshot read from r. The load is
// all-or-nothing: on any validation or decode error the engine state is
// untouched and the error wraps ErrCorruptSnapshot or VersionMismatchError.
func (e *Engine) Restore(r io.Reader) error {
	snap, err := persistence.Read(r)
	if err != nil {
		e.logger.LogSnapshot(context.Background(), "restore", 0, err)
		return err
	}
	return e.load(snap)
}

// LoadSnapshot restores the engine state from a snapshot file.
func (e *Engine) LoadSnapshot(path string) error {
	snap, err := persistence.LoadFile(path)
	if err != nil {
		e.logger.LogSnapshot(context.Background(), "load", 0, err)
		return err
	}
	return e.load(snap)
}

func (e *Engine) load(snap *persistence.Snapshot) error {
	if snap.Index.Dimension != e.index.Dimension() {
		err := &ivf.DimensionMismatchError{Expected: e.index.Dimension(), Actual: snap.Index.Dimension}
		e.logger.LogSnapshot(context.Background(), "restore", 0, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Import(snap.Index); err != nil {
		e.logger.LogSnapshot(context.Background(), "restore", 0, err)
		return err
	}

	var maxSeq uint64
	for _, entry := range snap.Index.Entries {
		if entry.Seq > maxSeq {
			maxSeq = entry.Seq
		}
	}
	e.seq.Store(maxSeq)

	e.fieldsMu.Lock()
	e.fieldsByID = make(map[string]map[string][]string, len(snap.Fields))
	e.fieldRows = fieldindex.New()
	for id, fl := range snap.Fields {
		row, ok := e.index.Row(id)
		if !ok {
			continue
		}
		stored := copyFields(fl)
		e.fieldsByID[id] = stored
		e.fieldRows.Add(row, stored)
	}
	e.fieldsMu.Unlock()

	e.logger.LogSnapshot(context.Background(), "restore", len(snap.Index.Entries), nil)
	return nil
}

// BackupTo writes a snapshot blob to a blobstore under the given name.
func (e *Engine) BackupTo(ctx context.Context, store blobstore.Store, name string) error {
	var buf bytes.Buffer
	if err := e.Snapshot(&buf); err != nil {
		return err
	}
	if err := store.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("matchcore: backup %q: %w", name, err)
	}
	return nil
}

// RestoreFrom loads a snapshot blob from a blobstore.
func (e *Engine) RestoreFrom(ctx context.Context, store blobstore.Store, name string) error {
	data, err := store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("matchcore: restore %q: %w", name, err)
	}
	return e.Restore(bytes.NewReader(data))
}

// EngineStats is a point-in-time summary of engine state.
type EngineStats struct {
	Records         int    `json:"records"`
	Dimension       int    `json:"dimension"`
	PartitionCount  int    `json:"partition_count"`
	StateVersion    uint64 `json:"state_version"`
	EmbedCacheSize  int    `json:"embed_cache_size"`
	FieldCategories int    `json:"field_categories"`
	FieldValues     int    `json:"field_values"`
	DriftWindows    int    `json:"drift_windows"`
}

// Stats returns a point-in-time summary of engine state.
func (e *Engine) Stats() EngineStats {
	e.fieldsMu.RLock()
	fr := e.fieldRows
	e.fieldsMu.RUnlock()
	cats, vals := fr.Stats()
	return EngineStats{
		Records:         e.index.Len(),
		Dimension:       e.index.Dimension(),
		PartitionCount:  e.index.PartitionCount(),
		StateVersion:    e.index.Version(),
		EmbedCacheSize:  e.embedder.Len(),
		FieldCategories: cats,
		FieldValues:     vals,
		DriftWindows:    len(e.monitor.Snapshots()),
	}
}

// DriftSnapshots returns the finalized drift windows, oldest first.
func (e *Engine) DriftSnapshots() []model.DriftSnapshot {
	return e.monitor.Snapshots()
}

// RotateDriftWindow finalizes the current drift window early, returning its
// snapshot, or nil when the window is empty.
func (e *Engine) RotateDriftWindow() *model.DriftSnapshot {
	return e.monitor.Rotate()
}
