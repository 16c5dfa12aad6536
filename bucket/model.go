package bucket

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/internal/math32"
)

// Model is a bucket's online relevance model: an incremental weighted
// centroid over the compressed concept space.
//
// The state is a pair of accumulated weighted sums (positives, negatives)
// plus the id sets that produced them. Updates apply label deltas to the
// sums; nothing ever rescans the full label history. Ids already accounted
// for are skipped, so repeating identical feedback leaves the state
// unchanged.
type Model struct {
	dim int

	posSum []float32
	negSum []float32
	posIDs *roaring.Bitmap
	negIDs *roaring.Bitmap

	weights []float32
	best    float64 // highest raw score among labeled positives
}

// NewModel creates an untrained model over a concept space of the given
// dimensionality.
func NewModel(dim int) *Model {
	return &Model{
		dim:    dim,
		posSum: make([]float32, dim),
		negSum: make([]float32, dim),
		posIDs: roaring.New(),
		negIDs: roaring.New(),
	}
}

// Trained reports whether the model has at least one positive example. An
// untrained model scores everything at zero confidence rather than failing.
func (m *Model) Trained() bool {
	return !m.posIDs.IsEmpty()
}

// Update applies a label delta: newly labeled positives and negatives. The
// weight vector and normalization are refreshed afterwards.
func (m *Model) Update(store *feature.Store, positives, negatives []int) {
	for _, id := range positives {
		m.accumulate(store, id, m.posIDs, m.posSum, 1)
	}
	for _, id := range negatives {
		m.accumulate(store, id, m.negIDs, m.negSum, 1)
	}

	m.refresh(store)
}

// RemovePositives retracts previously counted positive examples, e.g. when
// images are transferred out of the bucket.
func (m *Model) RemovePositives(store *feature.Store, ids []int) {
	for _, id := range ids {
		if !m.posIDs.Contains(uint32(id)) {
			continue
		}
		m.posIDs.Remove(uint32(id))

		if feat, ok := store.Get(id); ok {
			for _, cw := range feat {
				m.posSum[cw.Concept] -= cw.Weight
			}
		}
	}

	m.refresh(store)
}

func (m *Model) accumulate(store *feature.Store, id int, ids *roaring.Bitmap, sum []float32, sign float32) {
	if ids.Contains(uint32(id)) {
		return
	}

	feat, ok := store.Get(id)
	if !ok {
		return
	}

	ids.Add(uint32(id))
	for _, cw := range feat {
		sum[cw.Concept] += sign * cw.Weight
	}
}

// refresh recomputes the weight vector from the accumulated sums and the
// normalization constant from the current positives.
func (m *Model) refresh(store *feature.Store) {
	nPos := float64(m.posIDs.GetCardinality())
	if nPos == 0 {
		m.weights = nil
		m.best = 0
		return
	}

	if m.weights == nil {
		m.weights = make([]float32, m.dim)
	}

	copy(m.weights, m.posSum)
	math32.ScaleInPlace(m.weights, float32(1/nPos))

	if nNeg := float64(m.negIDs.GetCardinality()); nNeg > 0 {
		math32.AxpyInPlace(m.weights, float32(-1/nNeg), m.negSum)
	}

	m.best = 0
	it := m.posIDs.Iterator()
	for it.HasNext() {
		id := int(it.Next())
		if feat, ok := store.Get(id); ok {
			if s := feat.Dot(m.weights); s > m.best {
				m.best = s
			}
		}
	}
}

// RawScore returns the unnormalized model response for a feature. Zero is
// the decision boundary; untrained models respond zero everywhere.
func (m *Model) RawScore(feat feature.CompressedFeature) float64 {
	if m.weights == nil {
		return 0
	}
	return feat.Dot(m.weights)
}

// Score returns the model's confidence for a feature in [0,1], the raw score
// normalized by the best labeled positive and clamped.
func (m *Model) Score(feat feature.CompressedFeature) float64 {
	if m.weights == nil || m.best <= 0 {
		return 0
	}

	conf := m.RawScore(feat) / m.best
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// Weights returns the current scoring vector, nil while untrained. Callers
// must not mutate it.
func (m *Model) Weights() []float32 { return m.weights }
