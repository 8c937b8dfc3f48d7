package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 11.0, Dot([]float32{1, 2, 3}, []float32{3, 1, 2}), 1e-6)
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 0.0, SquaredL2([]float32{1, 2}, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 8.0, SquaredL2([]float32{0, 0}, []float32{2, 2}), 1e-6)
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Magnitude(v), 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))

	src := []float32{0, 5}
	cp, ok := NormalizeL2Copy(src)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 5}, src) // source untouched
	assert.InDelta(t, 1.0, cp[1], 1e-6)
}

func TestCosineSimilarityClamped(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	c := []float32{-1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-6)
	// Opposing vectors clamp to zero rather than going negative.
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-6)
}

func TestProvider(t *testing.T) {
	f, err := Provider(MetricL2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, f([]float32{0, 0}, []float32{1, 1}), 1e-6)

	f, err = Provider(MetricCosine)
	require.NoError(t, err)
	// Closer vectors produce smaller values.
	near := f([]float32{1, 0}, []float32{1, 0})
	far := f([]float32{1, 0}, []float32{0, 1})
	assert.Less(t, near, far)

	_, err = Provider(Metric(99))
	assert.Error(t, err)
}
