package drift

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/matchcore/distance"
	"github.com/talentsift/matchcore/model"
)

// sampleAround draws a unit vector near center with gaussian jitter.
func sampleAround(rng *rand.Rand, center []float32, jitter float64) []float32 {
	vec := make([]float32, len(center))
	for i, c := range center {
		vec[i] = c + float32(rng.NormFloat64()*jitter)
	}
	distance.NormalizeL2InPlace(vec)
	return vec
}

func randomUnit(rng *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	distance.NormalizeL2InPlace(vec)
	return vec
}

func TestRotate_FinalizesWindowStats(t *testing.T) {
	m, err := New(2, func(o *Options) {
		o.WindowSize = 100
		o.WindowDuration = 0
	})
	require.NoError(t, err)

	m.Observe([]float32{1, 0})
	m.Observe([]float32{0, 1})

	snap := m.Rotate()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.SampleCount)
	assert.InDelta(t, 0.5, float64(snap.MeanVector[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(snap.MeanVector[1]), 1e-6)
	// E[||x||^2]=1, ||mean||^2=0.5
	assert.InDelta(t, 0.5, snap.Dispersion, 1e-6)
	assert.NotEmpty(t, snap.WindowID)

	// First window is the baseline: no drift verdict on itself.
	assert.False(t, snap.DriftDetected)
	assert.Zero(t, snap.PSI)
	assert.True(t, m.HasBaseline())
}

func TestRotate_EmptyWindowIsNoop(t *testing.T) {
	m, err := New(2)
	require.NoError(t, err)
	assert.Nil(t, m.Rotate())
	assert.Empty(t, m.Snapshots())
}

func TestObserve_IgnoresWrongDimension(t *testing.T) {
	m, err := New(4)
	require.NoError(t, err)

	m.Observe([]float32{1, 0})
	assert.Zero(t, m.PendingSamples())
}

func TestObserve_RotatesOnSampleCount(t *testing.T) {
	m, err := New(2, func(o *Options) {
		o.WindowSize = 3
		o.WindowDuration = 0
	})
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		m.Observe([]float32{1, 0})
	}

	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	for _, s := range snaps {
		assert.Equal(t, 3, s.SampleCount)
	}
	assert.Zero(t, m.PendingSamples())
}

func TestObserve_RotatesOnElapsedTime(t *testing.T) {
	m, err := New(2, func(o *Options) {
		o.WindowSize = 1000
		o.WindowDuration = time.Minute
	})
	require.NoError(t, err)

	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }
	m.cur.startedAt = current

	m.Observe([]float32{1, 0})
	current = current.Add(2 * time.Minute)
	m.Observe([]float32{0, 1})

	snaps := m.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].SampleCount)
	assert.Equal(t, 1, m.PendingSamples())
}

func TestDrift_ShiftedDistributionDetected(t *testing.T) {
	const dim = 16
	const n = 400

	m, err := New(dim, func(o *Options) {
		o.WindowSize = n
		o.WindowDuration = 0
		o.Seed = 42
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	// Centers on opposite sides of the projection axis guarantee the two
	// windows land in disjoint histogram regions.
	base := make([]float32, dim)
	shifted := make([]float32, dim)
	for i, p := range m.projection {
		base[i] = -p
		shifted[i] = p
	}

	// Baseline window around base.
	for i := 0; i < n; i++ {
		m.Observe(sampleAround(rng, base, 0.05))
	}
	// Shifted window around an unrelated center.
	for i := 0; i < n; i++ {
		m.Observe(sampleAround(rng, shifted, 0.05))
	}

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[1].DriftDetected, "PSI=%v", snaps[1].PSI)
	assert.Greater(t, snaps[1].PSI, m.opts.PSIThreshold)
}

func TestDrift_SameDistributionNotDetected(t *testing.T) {
	const dim = 16
	const n = 400

	m, err := New(dim, func(o *Options) {
		o.WindowSize = n
		o.WindowDuration = 0
		o.Seed = 42
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	base := randomUnit(rng, dim)

	for i := 0; i < 2*n; i++ {
		m.Observe(sampleAround(rng, base, 0.05))
	}

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.False(t, snaps[1].DriftDetected, "PSI=%v", snaps[1].PSI)
}

func TestOnSnapshotHook(t *testing.T) {
	var seen []model.DriftSnapshot
	m, err := New(2, func(o *Options) {
		o.WindowSize = 2
		o.WindowDuration = 0
		o.OnSnapshot = func(s model.DriftSnapshot) { seen = append(seen, s) }
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		m.Observe([]float32{1, 0})
	}
	assert.Len(t, seen, 2)
}

func TestSnapshotRetentionCap(t *testing.T) {
	m, err := New(2, func(o *Options) {
		o.WindowSize = 1
		o.WindowDuration = 0
		o.MaxSnapshots = 3
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		m.Observe([]float32{1, 0})
	}
	assert.Len(t, m.Snapshots(), 3)
}
