// Package drift tracks the statistical shape of the embedding stream over
// rotating windows and flags distributional shift via a population stability
// index (PSI) against a baseline window.
//
// The monitor is advisory only: it emits finalized snapshots and never
// triggers remediation itself.
package drift

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talentsift/matchcore/distance"
	"github.com/talentsift/matchcore/model"
)

// Options configures a Monitor.
type Options struct {
	// Dimension is the embedding dimensionality.
	Dimension int
	// WindowSize rotates the window after this many samples.
	WindowSize int
	// WindowDuration rotates the window after this much elapsed time,
	// whichever of size/duration comes first. <=0 disables time rotation.
	WindowDuration time.Duration
	// Bins is the histogram resolution for the PSI projection.
	Bins int
	// PSIThreshold flags drift when exceeded.
	PSIThreshold float64
	// Seed fixes the random projection so PSI is comparable across restarts.
	Seed int64
	// MaxSnapshots caps retained finalized snapshots (oldest dropped first).
	MaxSnapshots int
	// OnSnapshot, if set, is invoked with every finalized snapshot. Called
	// synchronously under the monitor lock; keep it cheap.
	OnSnapshot func(model.DriftSnapshot)
}

// DefaultOptions are the default drift monitor settings.
var DefaultOptions = Options{
	WindowSize:     512,
	WindowDuration: time.Hour,
	Bins:           10,
	PSIThreshold:   0.2,
	Seed:           1,
	MaxSnapshots:   64,
}

// window accumulates statistics online, so no raw vectors are retained even
// before rotation.
type window struct {
	id        string
	startedAt time.Time
	count     int
	sumVec    []float32
	sumSqNorm float64
	bins      []int
}

// Monitor observes the insertion/query embedding stream.
type Monitor struct {
	mu   sync.Mutex
	opts Options

	// projection is a fixed seeded unit vector; the PSI histogram bins the
	// scalar projection of each observed vector onto it.
	projection []float32

	cur       *window
	baseline  []float64 // baseline bin frequencies
	snapshots []model.DriftSnapshot

	now func() time.Time
}

// New creates a Monitor for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*Monitor, error) {
	opts := DefaultOptions
	opts.Dimension = dimension
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension < 1 {
		return nil, fmt.Errorf("invalid dimension: %d", opts.Dimension)
	}
	if opts.WindowSize < 1 {
		return nil, fmt.Errorf("invalid window size: %d", opts.WindowSize)
	}
	if opts.Bins < 2 {
		return nil, fmt.Errorf("invalid bin count: %d", opts.Bins)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	projection := make([]float32, opts.Dimension)
	for i := range projection {
		projection[i] = float32(rng.NormFloat64())
	}
	distance.NormalizeL2InPlace(projection)

	m := &Monitor{
		opts:       opts,
		projection: projection,
		now:        time.Now,
	}
	m.cur = m.newWindow()
	return m, nil
}

func (m *Monitor) newWindow() *window {
	return &window{
		id:        uuid.NewString(),
		startedAt: m.now(),
		sumVec:    make([]float32, m.opts.Dimension),
		bins:      make([]int, m.opts.Bins),
	}
}

// Observe adds one embedding vector to the current window, rotating first if
// the window is due. Vectors of the wrong dimension are ignored; the index
// rejects them upstream and the monitor must never skew its stats on them.
func (m *Monitor) Observe(vec []float32) {
	if len(vec) != m.opts.Dimension {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotateIfDueLocked()

	w := m.cur
	w.count++
	var sqNorm float64
	for i, v := range vec {
		w.sumVec[i] += v
		sqNorm += float64(v) * float64(v)
	}
	w.sumSqNorm += sqNorm

	// Projections of unit vectors onto a unit projection lie in [-1,1].
	p := float64(distance.Dot(vec, m.projection))
	w.bins[binFor(p, m.opts.Bins)]++

	if w.count >= m.opts.WindowSize {
		m.rotateLocked()
	}
}

func binFor(p float64, bins int) int {
	idx := int((p + 1) / 2 * float64(bins))
	if idx < 0 {
		idx = 0
	}
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}

func (m *Monitor) rotateIfDueLocked() {
	if m.opts.WindowDuration > 0 && m.cur.count > 0 &&
		m.now().Sub(m.cur.startedAt) >= m.opts.WindowDuration {
		m.rotateLocked()
	}
}

// Rotate finalizes the current window into a DriftSnapshot and starts a
// fresh one. Rotating an empty window is a no-op and returns nil.
func (m *Monitor) Rotate() *model.DriftSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *Monitor) rotateLocked() *model.DriftSnapshot {
	w := m.cur
	if w.count == 0 {
		return nil
	}

	n := float64(w.count)
	mean := make([]float32, m.opts.Dimension)
	var meanSqNorm float64
	for i, s := range w.sumVec {
		mv := s / float32(n)
		mean[i] = mv
		meanSqNorm += float64(mv) * float64(mv)
	}

	// Variance trace: E[||x||^2] - ||mean||^2.
	dispersion := w.sumSqNorm/n - meanSqNorm
	if dispersion < 0 {
		dispersion = 0
	}

	freqs := binFrequencies(w.bins, w.count)

	snap := model.DriftSnapshot{
		WindowID:    w.id,
		StartedAt:   w.startedAt,
		FinalizedAt: m.now(),
		MeanVector:  mean,
		Dispersion:  dispersion,
		SampleCount: w.count,
	}

	if m.baseline == nil {
		// First finalized window becomes the baseline; it cannot drift
		// against itself.
		m.baseline = freqs
	} else {
		snap.PSI = psi(m.baseline, freqs)
		snap.DriftDetected = snap.PSI > m.opts.PSIThreshold
	}

	m.snapshots = append(m.snapshots, snap)
	if m.opts.MaxSnapshots > 0 && len(m.snapshots) > m.opts.MaxSnapshots {
		m.snapshots = m.snapshots[len(m.snapshots)-m.opts.MaxSnapshots:]
	}

	if m.opts.OnSnapshot != nil {
		m.opts.OnSnapshot(snap)
	}

	m.cur = m.newWindow()
	return &snap
}

func binFrequencies(bins []int, total int) []float64 {
	freqs := make([]float64, len(bins))
	for i, c := range bins {
		freqs[i] = float64(c) / float64(total)
	}
	return freqs
}

// psi computes the population stability index between two bin-frequency
// distributions, with epsilon smoothing against empty bins.
func psi(baseline, current []float64) float64 {
	const eps = 1e-6
	var sum float64
	for i := range baseline {
		b := baseline[i] + eps
		c := current[i] + eps
		sum += (c - b) * math.Log(c/b)
	}
	return sum
}

// Snapshots returns the retained finalized snapshots, oldest first.
func (m *Monitor) Snapshots() []model.DriftSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DriftSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// HasBaseline reports whether a baseline window has been finalized.
func (m *Monitor) HasBaseline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline != nil
}

// PendingSamples returns the sample count of the not-yet-finalized window.
func (m *Monitor) PendingSamples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.count
}
