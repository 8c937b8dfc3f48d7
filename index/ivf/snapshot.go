package ivf

import (
	"fmt"
	"slices"
)

// ExportedEntry is one record in a consistent dump of the index.
type ExportedEntry struct {
	ID        string
	Hash      string
	Seq       uint64
	Partition int32
	Vector    []float32
}

// Export is a consistent, self-contained dump of the index state, ready for
// the persistence layer to serialize.
type Export struct {
	Dimension int
	Version   uint64
	Centroids []float32
	Entries   []ExportedEntry
}

// Export captures a consistent view of the index. It runs against the
// current immutable state and never blocks writers.
func (ix *Index) Export() *Export {
	st := ix.getState()

	ex := &Export{
		Dimension: ix.opts.Dimension,
		Version:   st.version,
		Centroids: slices.Clone(st.centroids),
		Entries:   make([]ExportedEntry, 0, st.live),
	}
	for _, e := range st.rows {
		if e == nil {
			continue
		}
		ex.Entries = append(ex.Entries, ExportedEntry{
			ID:        e.id,
			Hash:      e.hash,
			Seq:       e.seq,
			Partition: int32(e.partition),
			Vector:    slices.Clone(e.vector),
		})
	}
	return ex
}

// Import replaces the entire index state from a dump. All-or-nothing: on any
// validation failure the existing state is left untouched.
func (ix *Index) Import(ex *Export) error {
	if ex.Dimension != ix.opts.Dimension {
		return &DimensionMismatchError{Expected: ix.opts.Dimension, Actual: ex.Dimension}
	}

	dim := ix.opts.Dimension
	partitionCount := len(ex.Centroids) / max(dim, 1)
	if len(ex.Centroids)%max(dim, 1) != 0 {
		return fmt.Errorf("import: centroid data not a multiple of dimension %d", dim)
	}

	ns := &state{
		rows:    make([]*entry, 0, len(ex.Entries)),
		byID:    make(map[string]uint32, len(ex.Entries)),
		version: ex.Version,
	}
	if partitionCount > 0 {
		ns.centroids = slices.Clone(ex.Centroids)
		ns.partitions = make([][]uint32, partitionCount)
	}

	for _, ee := range ex.Entries {
		if len(ee.Vector) != dim {
			return &DimensionMismatchError{Expected: dim, Actual: len(ee.Vector)}
		}
		if _, dup := ns.byID[ee.ID]; dup {
			return fmt.Errorf("import: duplicate record id %q", ee.ID)
		}
		p := int(ee.Partition)
		if p >= partitionCount {
			return fmt.Errorf("import: record %q references partition %d of %d", ee.ID, p, partitionCount)
		}

		row := uint32(len(ns.rows))
		e := &entry{
			id:        ee.ID,
			hash:      ee.Hash,
			seq:       ee.Seq,
			vector:    slices.Clone(ee.Vector),
			partition: p,
		}
		if partitionCount == 0 {
			e.partition = -1
		}
		ns.rows = append(ns.rows, e)
		ns.byID[ee.ID] = row
		ns.addToPartition(e.partition, row)
		ns.live++
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	ix.state.Store(ns)
	return nil
}

// Row returns the internal row id for a record, valid until the record is
// deleted or the index is re-imported.
func (ix *Index) Row(id string) (uint32, bool) {
	st := ix.getState()
	row, exists := st.byID[id]
	return row, exists
}
