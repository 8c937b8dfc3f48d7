// Package ivf implements the engine's vector index: cosine search over
// unit-normalized vectors with IVF-style partitioning for sublinear probing.
//
// Reads are lock-free against an immutable copy-on-write state; writes are
// serialized and atomically swap a new state in, so an in-flight search
// always sees either the pre-write or the post-write index, never a partial
// mutation.
package ivf

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/talentsift/matchcore/distance"
	"github.com/talentsift/matchcore/internal/kmeans"
)

// Options contains configuration options for the index.
type Options struct {
	// Dimension is the fixed vector dimensionality, enforced on every
	// insert and search.
	Dimension int
	// ExhaustiveThreshold is the index size below which searches always
	// scan exhaustively; partition probing only pays off past it.
	ExhaustiveThreshold int
	// KMeansMaxIter bounds centroid training during Rebuild.
	KMeansMaxIter int
	// Seed fixes centroid initialization so rebuilds are reproducible.
	Seed int64
}

// DefaultOptions contains the default configuration options for the index.
var DefaultOptions = Options{
	ExhaustiveThreshold: 1000,
	KMeansMaxIter:       25,
	Seed:                1,
}

// entry is one indexed record. Vectors are stored unit-normalized; the
// normalization cost is paid once at insert time rather than per query.
type entry struct {
	id        string
	hash      string
	seq       uint64
	vector    []float32
	partition int
}

// state is the immutable view searches run against.
type state struct {
	rows []*entry // dense; nil entries are tombstones
	free []uint32 // row slots available for reuse
	byID map[string]uint32

	// centroids/partitions are nil until the first successful Rebuild.
	centroids  []float32  // flattened partitionCount*dim
	partitions [][]uint32 // partition -> member rows

	live    int
	version uint64 // monotonic, bumped by every committed write
}

// Result is one search hit.
type Result struct {
	Row        uint32
	RecordID   string
	Similarity float64
}

// Index is the vector index manager.
type Index struct {
	state   atomic.Pointer[state]
	writeMu sync.Mutex // serializes Insert/Delete/Rebuild/Import
	opts    Options
}

// New creates an empty index with the given fixed dimension.
func New(dimension int, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	opts.Dimension = dimension
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension < 1 {
		return nil, fmt.Errorf("invalid dimension: %d", opts.Dimension)
	}

	ix := &Index{opts: opts}
	ix.state.Store(&state{byID: make(map[string]uint32)})
	return ix, nil
}

// Dimension returns the fixed vector dimensionality.
func (ix *Index) Dimension() int { return ix.opts.Dimension }

func (ix *Index) getState() *state { return ix.state.Load() }

// cloneState shallow-copies the containers for copy-on-write. Entries
// themselves are immutable once stored, so sharing them is safe.
func cloneState(st *state) *state {
	ns := &state{
		rows:      slices.Clone(st.rows),
		free:      slices.Clone(st.free),
		byID:      make(map[string]uint32, len(st.byID)),
		centroids: st.centroids,
		live:      st.live,
		version:   st.version,
	}
	for id, row := range st.byID {
		ns.byID[id] = row
	}
	if st.partitions != nil {
		ns.partitions = make([][]uint32, len(st.partitions))
		for i, p := range st.partitions {
			ns.partitions[i] = slices.Clone(p)
		}
	}
	return ns
}

func (ix *Index) checkVector(vec []float32) error {
	if len(vec) != ix.opts.Dimension {
		return &DimensionMismatchError{Expected: ix.opts.Dimension, Actual: len(vec)}
	}
	return nil
}

// Insert adds or replaces the entry for a record.
//
// Semantics:
//   - unchanged content hash: no-op (idempotent re-insert)
//   - changed hash: atomic replacement; no query ever sees both versions
//   - seq older than the stored entry's: the insert lost a concurrent race
//     and is dropped with a *DuplicateRaceError
//
// The returned row id is stable across replacements of the same record.
func (ix *Index) Insert(id string, vec []float32, hash string, seq uint64) (uint32, error) {
	if err := ix.checkVector(vec); err != nil {
		return 0, err
	}
	normalized, ok := distance.NormalizeL2Copy(vec)
	if !ok {
		return 0, fmt.Errorf("record %q: %w", id, ErrZeroVector)
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	st := ix.getState()

	if row, exists := st.byID[id]; exists {
		cur := st.rows[row]
		if seq < cur.seq {
			return 0, &DuplicateRaceError{RecordID: id, LoserSeq: seq, CurrentSeq: cur.seq}
		}
		if cur.hash == hash {
			return row, nil
		}

		ns := cloneState(st)
		ns.removeFromPartition(cur.partition, row)
		e := &entry{id: id, hash: hash, seq: seq, vector: normalized}
		e.partition = ns.assignPartition(normalized, ix.opts.Dimension)
		ns.rows[row] = e
		ns.addToPartition(e.partition, row)
		ns.version++
		ix.state.Store(ns)
		return row, nil
	}

	ns := cloneState(st)
	var row uint32
	if n := len(ns.free); n > 0 {
		row = ns.free[n-1]
		ns.free = ns.free[:n-1]
	} else {
		row = uint32(len(ns.rows))
		ns.rows = append(ns.rows, nil)
	}

	e := &entry{id: id, hash: hash, seq: seq, vector: normalized}
	e.partition = ns.assignPartition(normalized, ix.opts.Dimension)
	ns.rows[row] = e
	ns.byID[id] = row
	ns.addToPartition(e.partition, row)
	ns.live++
	ns.version++
	ix.state.Store(ns)
	return row, nil
}

func (st *state) assignPartition(vec []float32, dim int) int {
	if st.centroids == nil {
		return -1
	}
	p, err := kmeans.AssignPartition(vec, st.centroids, dim, distance.MetricCosine)
	if err != nil {
		return -1
	}
	return p
}

func (st *state) addToPartition(partition int, row uint32) {
	if partition < 0 || partition >= len(st.partitions) {
		return
	}
	st.partitions[partition] = append(st.partitions[partition], row)
}

func (st *state) removeFromPartition(partition int, row uint32) {
	if partition < 0 || partition >= len(st.partitions) {
		return
	}
	members := st.partitions[partition]
	for i, r := range members {
		if r == row {
			st.partitions[partition] = append(members[:i:i], members[i+1:]...)
			return
		}
	}
}

// Delete removes a record. Idempotent: deleting an absent id is not an
// error. The second return reports whether anything was removed.
func (ix *Index) Delete(id string) (uint32, bool) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	st := ix.getState()
	row, exists := st.byID[id]
	if !exists {
		return 0, false
	}

	ns := cloneState(st)
	ns.removeFromPartition(ns.rows[row].partition, row)
	ns.rows[row] = nil
	ns.free = append(ns.free, row)
	delete(ns.byID, id)
	ns.live--
	ns.version++
	ix.state.Store(ns)
	return row, true
}

// Contains reports whether a record id is indexed and, if so, under which
// content hash.
func (ix *Index) Contains(id string) (string, bool) {
	st := ix.getState()
	row, exists := st.byID[id]
	if !exists {
		return "", false
	}
	return st.rows[row].hash, true
}

// Vector returns a copy of the stored (normalized) vector for a record.
func (ix *Index) Vector(id string) ([]float32, bool) {
	st := ix.getState()
	row, exists := st.byID[id]
	if !exists {
		return nil, false
	}
	return slices.Clone(st.rows[row].vector), true
}

// Len returns the number of live entries.
func (ix *Index) Len() int { return ix.getState().live }

// Version returns the monotonic state version, bumped by every committed
// write. It is carried into snapshots.
func (ix *Index) Version() uint64 { return ix.getState().version }

// PartitionCount returns the number of trained partitions (0 before the
// first successful Rebuild).
func (ix *Index) PartitionCount() int { return len(ix.getState().partitions) }

// checkCancelEvery bounds how often the scan loop polls ctx.
const checkCancelEvery = 1024

// Search returns up to k records ordered by descending cosine similarity,
// ties broken by ascending record id.
//
// recallBudget is the number of partitions probed; 0 degenerates to an
// exhaustive scan that guarantees exact top-k. The scan is also exhaustive
// while the index is unpartitioned or smaller than ExhaustiveThreshold.
//
// allowed, when non-nil, restricts the scan to the given rows (structured
// field pre-filter). On context cancellation the search returns ctx.Err()
// and no partial results.
func (ix *Index) Search(ctx context.Context, query []float32, k, recallBudget int, allowed *roaring.Bitmap) ([]Result, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if err := ix.checkVector(query); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil, ErrZeroVector
	}

	st := ix.getState()
	if st.live == 0 {
		return nil, nil
	}

	exhaustive := recallBudget <= 0 ||
		st.centroids == nil ||
		st.live < ix.opts.ExhaustiveThreshold

	results := make([]Result, 0, min(k*4, st.live))
	scanned := 0

	scanRow := func(row uint32) {
		e := st.rows[row]
		if e == nil {
			return
		}
		if allowed != nil && !allowed.Contains(row) {
			return
		}
		results = append(results, Result{
			Row:        row,
			RecordID:   e.id,
			Similarity: distance.CosineSimilarity(normalized, e.vector),
		})
	}

	if exhaustive {
		for row := range st.rows {
			if scanned%checkCancelEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			scanned++
			scanRow(uint32(row))
		}
	} else {
		probe, err := kmeans.NearestCentroids(normalized, st.centroids, ix.opts.Dimension, recallBudget, distance.MetricCosine)
		if err != nil {
			return nil, err
		}
		for _, p := range probe {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for _, row := range st.partitions[p] {
				if scanned%checkCancelEvery == 0 {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
				}
				scanned++
				scanRow(row)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].RecordID < results[j].RecordID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DefaultPartitionCount is the heuristic used when Rebuild is called with
// partitionCount 0: one partition per sqrt(n) vectors.
func DefaultPartitionCount(n int) int {
	if n < 1 {
		return 1
	}
	return int(math.Max(1, math.Round(math.Sqrt(float64(n)))))
}

// Rebuild reclusters all live vectors into partitionCount partitions
// (0 applies DefaultPartitionCount). It holds the write lock for its whole
// duration, blocking subsequent writers, while in-flight reads continue
// against the pre-rebuild state until the final atomic swap.
func (ix *Index) Rebuild(ctx context.Context, partitionCount int) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	st := ix.getState()
	if partitionCount <= 0 {
		partitionCount = DefaultPartitionCount(st.live)
	}

	dim := ix.opts.Dimension
	vectors := make([]float32, 0, st.live*dim)
	rowOf := make([]uint32, 0, st.live)
	for row, e := range st.rows {
		if e == nil {
			continue
		}
		vectors = append(vectors, e.vector...)
		rowOf = append(rowOf, uint32(row))
	}

	centroids, err := kmeans.Train(ctx, vectors, dim, partitionCount, distance.MetricCosine, ix.opts.KMeansMaxIter, ix.opts.Seed)
	if err != nil {
		return fmt.Errorf("rebuild: train centroids: %w", err)
	}

	ns := cloneState(st)
	ns.version++

	if centroids == nil {
		// Too few vectors to cluster; drop partitioning and fall back to
		// exhaustive scans.
		ns.centroids = nil
		ns.partitions = nil
		for _, e := range ns.rows {
			if e != nil {
				e.partition = -1
			}
		}
		ix.state.Store(ns)
		return nil
	}

	partitions := make([][]uint32, partitionCount)
	for i, row := range rowOf {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := kmeans.AssignPartition(vectors[i*dim:(i+1)*dim], centroids, dim, distance.MetricCosine)
		if err != nil {
			return fmt.Errorf("rebuild: assign partition: %w", err)
		}
		// Entries are immutable under readers; rebuild swaps in fresh ones.
		old := ns.rows[row]
		ns.rows[row] = &entry{id: old.id, hash: old.hash, seq: old.seq, vector: old.vector, partition: p}
		partitions[p] = append(partitions[p], row)
	}

	ns.centroids = centroids
	ns.partitions = partitions
	ix.state.Store(ns)
	return nil
}
