// Package feature implements the compressed concept-feature representation
// used by the interactive learning models.
//
// Raw extractor output is a dense non-negative concept-score vector per
// image. Holding those dense vectors for millions of images is too expensive
// for per-round model updates, so at processing time each vector is reduced
// to its top-scoring concepts and everything else is treated as zero.
package feature

import "sort"

// DefaultBudget is the default number of concepts retained per image.
const DefaultBudget = 50

// ConceptWeight is a single (concept id, weight) pair of a compressed
// feature. Weights are always non-negative.
type ConceptWeight struct {
	Concept uint32
	Weight  float32
}

// CompressedFeature is the sparse per-image representation: the top-scoring
// concepts of the raw vector, sorted by concept id. Concepts not present are
// implicitly zero. Its length never exceeds the configured budget.
type CompressedFeature []ConceptWeight

// Compress reduces a dense concept-score vector to its top-budget entries by
// weight. Ties are broken by the lower concept id so that compression is
// deterministic. Zero and negative scores are never retained.
func Compress(raw []float32, budget int) CompressedFeature {
	if budget <= 0 {
		budget = DefaultBudget
	}

	idx := make([]int, 0, len(raw))
	for i, w := range raw {
		if w > 0 {
			idx = append(idx, i)
		}
	}

	sort.Slice(idx, func(a, b int) bool {
		wa, wb := raw[idx[a]], raw[idx[b]]
		if wa != wb {
			return wa > wb
		}
		return idx[a] < idx[b]
	})

	if len(idx) > budget {
		idx = idx[:budget]
	}

	// Store sorted by concept id for cheap sparse dot products.
	sort.Ints(idx)

	cf := make(CompressedFeature, len(idx))
	for i, c := range idx {
		cf[i] = ConceptWeight{Concept: uint32(c), Weight: raw[c]}
	}

	return cf
}

// Dot computes the dot product of the compressed feature with a dense weight
// vector over the same concept space. Concepts beyond the weight vector's
// length contribute nothing.
func (f CompressedFeature) Dot(weights []float32) float64 {
	var ret float64
	for _, cw := range f {
		if int(cw.Concept) < len(weights) {
			ret += float64(cw.Weight) * float64(weights[cw.Concept])
		}
	}

	return ret
}

// Overlap computes the dot product of two compressed features. Both operands
// are sorted by concept id, so this is a linear merge.
func (f CompressedFeature) Overlap(other CompressedFeature) float64 {
	var ret float64

	i, j := 0, 0
	for i < len(f) && j < len(other) {
		switch {
		case f[i].Concept < other[j].Concept:
			i++
		case f[i].Concept > other[j].Concept:
			j++
		default:
			ret += float64(f[i].Weight) * float64(other[j].Weight)
			i++
			j++
		}
	}

	return ret
}
