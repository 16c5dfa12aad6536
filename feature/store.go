package feature

import "fmt"

// Store holds the compressed features for a whole collection, one row per
// image, aligned to the canonical image ordering fixed at processing time.
// The store is immutable at session time and safe for concurrent reads.
type Store struct {
	rows []CompressedFeature
	dim  int // concept-space dimensionality
}

// NewStore creates a store from pre-compressed rows. The row index is the
// image id; the ordering never changes after processing.
func NewStore(rows []CompressedFeature, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid concept dimensionality: %d", dim)
	}

	for i, row := range rows {
		for _, cw := range row {
			if int(cw.Concept) >= dim {
				return nil, fmt.Errorf("image %d references concept %d beyond dimensionality %d", i, cw.Concept, dim)
			}
		}
	}

	return &Store{rows: rows, dim: dim}, nil
}

// Get returns the compressed feature of the given image.
func (s *Store) Get(id int) (CompressedFeature, bool) {
	if id < 0 || id >= len(s.rows) {
		return nil, false
	}
	return s.rows[id], true
}

// N returns the number of images in the collection.
func (s *Store) N() int { return len(s.rows) }

// Dim returns the concept-space dimensionality.
func (s *Store) Dim() int { return s.dim }

// Rows exposes the raw rows for persistence. Callers must not mutate them.
func (s *Store) Rows() []CompressedFeature { return s.rows }
