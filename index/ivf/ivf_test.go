package ivf

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustIndex(t *testing.T, dim int, optFns ...func(o *Options)) *Index {
	t.Helper()
	ix, err := New(dim, optFns...)
	require.NoError(t, err)
	return ix
}

func TestInsertThenSearchSelf(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 3)

	_, err := ix.Insert("a", []float32{1, 2, 3}, "h1", 1)
	require.NoError(t, err)

	res, err := ix.Search(ctx, []float32{1, 2, 3}, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].RecordID)
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-5)
}

func TestInsert_DimensionMismatch(t *testing.T) {
	ix := mustIndex(t, 4)

	_, err := ix.Insert("a", []float32{1, 2}, "h", 1)
	var dm *DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
	assert.Zero(t, ix.Len())
}

func TestInsert_ZeroVectorRejected(t *testing.T) {
	ix := mustIndex(t, 2)
	_, err := ix.Insert("a", []float32{0, 0}, "h", 1)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestInsert_IdempotentOnUnchangedHash(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	row1, err := ix.Insert("a", []float32{1, 0}, "h1", 1)
	require.NoError(t, err)
	v1 := ix.Version()

	row2, err := ix.Insert("a", []float32{1, 0}, "h1", 2)
	require.NoError(t, err)

	assert.Equal(t, row1, row2)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, v1, ix.Version(), "no-op must not bump state version")

	res, err := ix.Search(ctx, []float32{1, 0}, 10, 0, nil)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestInsert_ReplaceOnChangedHash(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	row1, err := ix.Insert("a", []float32{1, 0}, "h1", 1)
	require.NoError(t, err)
	row2, err := ix.Insert("a", []float32{0, 1}, "h2", 2)
	require.NoError(t, err)

	assert.Equal(t, row1, row2, "replacement keeps the row id")
	assert.Equal(t, 1, ix.Len())

	res, err := ix.Search(ctx, []float32{0, 1}, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-5)
}

func TestInsert_DuplicateRaceLastWriterWins(t *testing.T) {
	ix := mustIndex(t, 2)

	_, err := ix.Insert("a", []float32{1, 0}, "h-new", 10)
	require.NoError(t, err)

	// A slower writer with an older sequence number arrives late.
	_, err = ix.Insert("a", []float32{0, 1}, "h-old", 5)
	var race *DuplicateRaceError
	require.ErrorAs(t, err, &race)
	assert.Equal(t, "a", race.RecordID)
	assert.EqualValues(t, 5, race.LoserSeq)
	assert.EqualValues(t, 10, race.CurrentSeq)

	// The winner's vector survives.
	vec, ok := ix.Vector("a")
	require.True(t, ok)
	assert.InDelta(t, 1.0, float64(vec[0]), 1e-6)
}

func TestDelete_Idempotent(t *testing.T) {
	ix := mustIndex(t, 2)

	_, err := ix.Insert("a", []float32{1, 0}, "h", 1)
	require.NoError(t, err)

	_, existed := ix.Delete("a")
	assert.True(t, existed)
	_, existed = ix.Delete("a")
	assert.False(t, existed)
	_, existed = ix.Delete("never-there")
	assert.False(t, existed)
	assert.Zero(t, ix.Len())
}

func TestSearch_OrderingAndTies(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	// "b" and "z" are duplicates of the query direction: tie on similarity,
	// broken by ascending record id.
	_, err := ix.Insert("z", []float32{2, 0}, "hz", 1)
	require.NoError(t, err)
	_, err = ix.Insert("b", []float32{1, 0}, "hb", 2)
	require.NoError(t, err)
	_, err = ix.Insert("c", []float32{0, 1}, "hc", 3)
	require.NoError(t, err)

	res, err := ix.Search(ctx, []float32{1, 0}, 3, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "b", res[0].RecordID)
	assert.Equal(t, "z", res[1].RecordID)
	assert.Equal(t, "c", res[2].RecordID)
}

func TestSearch_KnownSimilarities(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	_, err := ix.Insert("A", []float32{1, 0}, "ha", 1)
	require.NoError(t, err)
	_, err = ix.Insert("B", []float32{0.9, 0.436}, "hb", 2)
	require.NoError(t, err)
	_, err = ix.Insert("C", []float32{0, 1}, "hc", 3)
	require.NoError(t, err)

	res, err := ix.Search(ctx, []float32{1, 0}, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "A", res[0].RecordID)
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-4)
	assert.Equal(t, "B", res[1].RecordID)
	assert.InDelta(t, 0.9, res[1].Similarity, 1e-2)
}

func TestSearch_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	_, err := ix.Search(ctx, []float32{1, 0}, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = ix.Search(ctx, []float32{1, 0, 0}, 1, 0, nil)
	var dm *DimensionMismatchError
	assert.ErrorAs(t, err, &dm)

	_, err = ix.Search(ctx, []float32{0, 0}, 1, 0, nil)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestSearch_Cancellation(t *testing.T) {
	ix := mustIndex(t, 2)
	_, err := ix.Insert("a", []float32{1, 0}, "h", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ix.Search(ctx, []float32{1, 0}, 1, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res, "cancelled search must not return partial results")
}

func TestSearch_AllowedRowsFilter(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	rowA, err := ix.Insert("a", []float32{1, 0}, "ha", 1)
	require.NoError(t, err)
	_, err = ix.Insert("b", []float32{0.99, 0.1}, "hb", 2)
	require.NoError(t, err)

	allowed := roaring.New()
	allowed.Add(rowA)

	res, err := ix.Search(ctx, []float32{1, 0}, 10, 0, allowed)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].RecordID)
}

func randomUnitVectors(rng *rand.Rand, n, dim int) [][]float32 {
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vecs[i] = v
	}
	return vecs
}

func TestRebuild_FullBudgetMatchesExhaustive(t *testing.T) {
	ctx := context.Background()
	const dim = 8
	ix := mustIndex(t, dim, func(o *Options) {
		o.ExhaustiveThreshold = 10 // force the partitioned path
	})

	rng := rand.New(rand.NewSource(11))
	for i, vec := range randomUnitVectors(rng, 200, dim) {
		_, err := ix.Insert(fmt.Sprintf("rec-%03d", i), vec, fmt.Sprintf("h%d", i), uint64(i))
		require.NoError(t, err)
	}

	require.NoError(t, ix.Rebuild(ctx, 8))
	assert.Equal(t, 8, ix.PartitionCount())

	query := randomUnitVectors(rng, 1, dim)[0]

	exact, err := ix.Search(ctx, query, 10, 0, nil)
	require.NoError(t, err)
	full, err := ix.Search(ctx, query, 10, 8, nil)
	require.NoError(t, err)

	// Probing every partition guarantees exact recall.
	assert.Equal(t, exact, full)

	// A narrow budget returns a subset-quality result but never errors.
	narrow, err := ix.Search(ctx, query, 10, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, narrow)
}

func TestRebuild_DefaultPartitionHeuristic(t *testing.T) {
	ctx := context.Background()
	const dim = 4
	ix := mustIndex(t, dim)

	rng := rand.New(rand.NewSource(3))
	for i, vec := range randomUnitVectors(rng, 100, dim) {
		_, err := ix.Insert(fmt.Sprintf("r%d", i), vec, fmt.Sprintf("h%d", i), uint64(i))
		require.NoError(t, err)
	}

	require.NoError(t, ix.Rebuild(ctx, 0))
	assert.Equal(t, 10, ix.PartitionCount()) // sqrt(100)
}

func TestRebuild_TooFewVectorsFallsBackToExhaustive(t *testing.T) {
	ctx := context.Background()
	ix := mustIndex(t, 2)

	_, err := ix.Insert("a", []float32{1, 0}, "h", 1)
	require.NoError(t, err)

	require.NoError(t, ix.Rebuild(ctx, 16))
	assert.Zero(t, ix.PartitionCount())

	res, err := ix.Search(ctx, []float32{1, 0}, 1, 4, nil)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestInsertAfterRebuildJoinsPartition(t *testing.T) {
	ctx := context.Background()
	const dim = 4
	ix := mustIndex(t, dim, func(o *Options) {
		o.ExhaustiveThreshold = 1
	})

	rng := rand.New(rand.NewSource(5))
	for i, vec := range randomUnitVectors(rng, 50, dim) {
		_, err := ix.Insert(fmt.Sprintf("r%d", i), vec, fmt.Sprintf("h%d", i), uint64(i))
		require.NoError(t, err)
	}
	require.NoError(t, ix.Rebuild(ctx, 4))

	_, err := ix.Insert("late", []float32{1, 0, 0, 0}, "hl", 100)
	require.NoError(t, err)

	// Full-budget search must see the post-rebuild insert.
	res, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 1, 4, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "late", res[0].RecordID)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	const dim = 8
	src := mustIndex(t, dim, func(o *Options) {
		o.ExhaustiveThreshold = 10
	})

	rng := rand.New(rand.NewSource(21))
	for i, vec := range randomUnitVectors(rng, 120, dim) {
		_, err := src.Insert(fmt.Sprintf("rec-%03d", i), vec, fmt.Sprintf("h%d", i), uint64(i))
		require.NoError(t, err)
	}
	require.NoError(t, src.Rebuild(ctx, 6))

	dst := mustIndex(t, dim, func(o *Options) {
		o.ExhaustiveThreshold = 10
	})
	require.NoError(t, dst.Import(src.Export()))

	assert.Equal(t, src.Len(), dst.Len())
	assert.Equal(t, src.Version(), dst.Version())
	assert.Equal(t, src.PartitionCount(), dst.PartitionCount())

	for _, query := range randomUnitVectors(rng, 5, dim) {
		a, err := src.Search(ctx, query, 10, 3, nil)
		require.NoError(t, err)
		b, err := dst.Search(ctx, query, 10, 3, nil)
		require.NoError(t, err)

		require.Len(t, b, len(a))
		for i := range a {
			assert.Equal(t, a[i].RecordID, b[i].RecordID)
			assert.InDelta(t, a[i].Similarity, b[i].Similarity, 1e-6)
		}
	}
}

func TestImport_RejectsBadDumps(t *testing.T) {
	ix := mustIndex(t, 4)

	err := ix.Import(&Export{Dimension: 8})
	var dm *DimensionMismatchError
	assert.ErrorAs(t, err, &dm)

	err = ix.Import(&Export{
		Dimension: 4,
		Entries:   []ExportedEntry{{ID: "a", Vector: []float32{1, 0}}},
	})
	assert.ErrorAs(t, err, &dm)

	err = ix.Import(&Export{
		Dimension: 4,
		Entries: []ExportedEntry{
			{ID: "a", Vector: []float32{1, 0, 0, 0}},
			{ID: "a", Vector: []float32{0, 1, 0, 0}},
		},
	})
	assert.Error(t, err)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	const dim = 4
	ix := mustIndex(t, dim)

	rng := rand.New(rand.NewSource(9))
	for i, vec := range randomUnitVectors(rng, 50, dim) {
		_, err := ix.Insert(fmt.Sprintf("seed-%d", i), vec, fmt.Sprintf("h%d", i), uint64(i))
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, err := ix.Insert(fmt.Sprintf("w-%d", i), []float32{1, float32(i), 0, 0}, fmt.Sprintf("wh%d", i), uint64(1000+i))
			assert.NoError(t, err)
		}
	}()

	// Readers must always observe a consistent state.
	for i := 0; i < 200; i++ {
		res, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 5, 0, nil)
		assert.NoError(t, err)
		assert.NotEmpty(t, res)
	}
	<-done
}
