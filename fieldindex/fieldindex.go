// Package fieldindex provides an inverted index over structured field values
// (e.g. skills) backed by roaring bitmaps. The engine uses it to restrict a
// vector search to records carrying required field values before ranking.
package fieldindex

import (
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index maps field category + value to the set of internal row ids carrying
// that value. Values are matched case-insensitively after trimming, mirroring
// the normalization the embedder applies to record text.
type Index struct {
	mu sync.RWMutex

	// field -> value -> rows
	fields map[string]map[string]*roaring.Bitmap
}

// New creates an empty field index.
func New() *Index {
	return &Index{fields: make(map[string]map[string]*roaring.Bitmap)}
}

func normalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Add registers all field values of a row.
func (ix *Index) Add(row uint32, fields map[string][]string) {
	if ix == nil || len(fields) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for field, values := range fields {
		vm, ok := ix.fields[field]
		if !ok {
			vm = make(map[string]*roaring.Bitmap)
			ix.fields[field] = vm
		}
		for _, v := range values {
			key := normalizeValue(v)
			bm, ok := vm[key]
			if !ok {
				bm = roaring.New()
				vm[key] = bm
			}
			bm.Add(row)
		}
	}
}

// Remove unregisters all field values of a row.
func (ix *Index) Remove(row uint32, fields map[string][]string) {
	if ix == nil || len(fields) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for field, values := range fields {
		vm, ok := ix.fields[field]
		if !ok {
			continue
		}
		for _, v := range values {
			key := normalizeValue(v)
			if bm, ok := vm[key]; ok {
				bm.Remove(row)
				if bm.IsEmpty() {
					delete(vm, key)
				}
			}
		}
		if len(vm) == 0 {
			delete(ix.fields, field)
		}
	}
}

// Rows returns the set of rows that carry every required value of every
// required field (AND semantics). A nil result means "no restriction"
// (the required set was empty); an empty bitmap means nothing matches.
func (ix *Index) Rows(required map[string][]string) *roaring.Bitmap {
	if ix == nil || len(required) == 0 {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var acc *roaring.Bitmap
	for field, values := range required {
		vm := ix.fields[field]
		for _, v := range values {
			bm := vm[normalizeValue(v)]
			if bm == nil {
				return roaring.New()
			}
			if acc == nil {
				acc = bm.Clone()
			} else {
				acc.And(bm)
				if acc.IsEmpty() {
					return acc
				}
			}
		}
	}
	return acc
}

// Stats returns the number of distinct field categories and values indexed.
func (ix *Index) Stats() (fields, values int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, vm := range ix.fields {
		values += len(vm)
	}
	return len(ix.fields), values
}
