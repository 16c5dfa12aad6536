// Package index implements the quantized collection index.
//
// The index holds one code per segment per image and scores the entire
// collection against a query vector through asymmetric table lookups: the
// query is compared to every codebook entry once, then every image is scored
// by summing its segments' table entries. Millions of images reduce to a few
// additions each.
//
// The index is immutable after build; only re-querying happens at session
// time, which makes it safe to share read-only across sessions.
package index

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/imgsieve/quantization"
)

// DefaultNumSegments matches the processing pipeline's default segment
// count.
const DefaultNumSegments = 32

// CollectionIndex is the product-quantized encoding of a whole collection,
// aligned to the canonical image ordering.
type CollectionIndex struct {
	pq    *quantization.ProductQuantizer
	codes []uint16 // flattened n * numSegments
	n     int

	// Per-segment centroid-to-centroid distance matrices, used for
	// image-to-image distance approximation. Built once.
	distMats [][]float32
}

// Build trains codebooks on the given abstract feature vectors and encodes
// every image. numCentroids <= 0 selects min(floor(sqrt(n)), MaxCentroids),
// the heuristic the processing pipeline uses.
//
// An indivisible dimension/segment configuration fails here, at build time.
func Build(vectors [][]float32, numSegments, numCentroids int, seed int64) (*CollectionIndex, error) {
	if len(vectors) == 0 {
		return nil, errors.New("no vectors to index")
	}

	n := len(vectors)
	dim := len(vectors[0])

	if numCentroids <= 0 {
		numCentroids = int(math.Floor(math.Sqrt(float64(n))))
		if numCentroids > quantization.MaxCentroids {
			numCentroids = quantization.MaxCentroids
		}
		if numCentroids < 1 {
			numCentroids = 1
		}
	}

	pq, err := quantization.New(dim, numSegments, numCentroids)
	if err != nil {
		return nil, err
	}

	if err := pq.Train(vectors, seed); err != nil {
		return nil, fmt.Errorf("codebook training: %w", err)
	}

	codes := make([]uint16, n*numSegments)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range vectors {
		i := i
		g.Go(func() error {
			c, err := pq.Encode(vectors[i])
			if err != nil {
				return err
			}
			copy(codes[i*numSegments:(i+1)*numSegments], c)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("encoding collection: %w", err)
	}

	return New(pq, codes, n)
}

// New assembles an index from a trained quantizer and pre-encoded codes,
// the path taken when loading persisted artifacts.
func New(pq *quantization.ProductQuantizer, codes []uint16, n int) (*CollectionIndex, error) {
	if !pq.IsTrained() {
		return nil, quantization.ErrNotTrained
	}

	if len(codes) != n*pq.NumSegments() {
		return nil, fmt.Errorf("code array has %d entries, expected %d", len(codes), n*pq.NumSegments())
	}

	distMats := make([][]float32, pq.NumSegments())
	for m := range distMats {
		mat, err := pq.CentroidDistances(m)
		if err != nil {
			return nil, err
		}
		distMats[m] = mat
	}

	return &CollectionIndex{pq: pq, codes: codes, n: n, distMats: distMats}, nil
}

// Score computes the approximate similarity of every image to the query
// vector (typically a bucket model's weight vector). The result is a dense
// array aligned to the image ordering.
//
// Repeated calls with the same query over an unchanged index return
// identical scores: the computation is pure table lookups over disjoint
// ranges.
func (ci *CollectionIndex) Score(query []float32) ([]float32, error) {
	table, err := ci.pq.BuildSimilarityTable(query)
	if err != nil {
		return nil, err
	}

	scores := make([]float32, ci.n)
	segments := ci.pq.NumSegments()

	workers := runtime.GOMAXPROCS(0)
	chunk := (ci.n + workers - 1) / workers

	var g errgroup.Group

	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= ci.n {
			break
		}
		end := start + chunk
		if end > ci.n {
			end = ci.n
		}

		g.Go(func() error {
			for i := start; i < end; i++ {
				scores[i] = ci.pq.TableLookup(table, ci.codes[i*segments:(i+1)*segments])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return scores, nil
}

// DistancesToSet computes, for every candidate, the approximate distance to
// the nearest member of the given image set. Used for nearest-neighbour
// suggestions from a bucket's members.
func (ci *CollectionIndex) DistancesToSet(members, candidates []int) ([]float32, error) {
	if len(members) == 0 {
		return nil, errors.New("no query images provided")
	}

	for _, id := range members {
		if id < 0 || id >= ci.n {
			return nil, fmt.Errorf("image %d out of range", id)
		}
	}

	segments := ci.pq.NumSegments()
	k := ci.pq.NumCentroids()

	dists := make([]float32, len(candidates))

	for ci2, cand := range candidates {
		if cand < 0 || cand >= ci.n {
			return nil, fmt.Errorf("image %d out of range", cand)
		}

		candCodes := ci.codes[cand*segments : (cand+1)*segments]

		best := float32(math.MaxFloat32)
		for _, m := range members {
			mCodes := ci.codes[m*segments : (m+1)*segments]

			var d float32
			for s := 0; s < segments; s++ {
				d += ci.distMats[s][int(mCodes[s])*k+int(candCodes[s])]
			}

			if d < best {
				best = d
			}
		}

		dists[ci2] = best
	}

	return dists, nil
}

// N returns the number of indexed images.
func (ci *CollectionIndex) N() int { return ci.n }

// Codes exposes the flattened code array for persistence. Callers must not
// mutate it.
func (ci *CollectionIndex) Codes() []uint16 { return ci.codes }

// Quantizer returns the underlying product quantizer.
func (ci *CollectionIndex) Quantizer() *quantization.ProductQuantizer { return ci.pq }
