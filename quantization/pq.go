// Package quantization provides the product quantizer behind the collection
// index.
//
// Each abstract feature vector is split into contiguous segments; every
// segment is quantized independently against its own learned codebook. An
// image is then represented by one codebook id per segment, which turns a
// full-collection similarity query into per-image table lookups.
package quantization

import (
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/imgsieve/internal/kmeans"
	"github.com/hupe1980/imgsieve/internal/math32"
)

// MaxCentroids bounds the per-segment codebook size. Codes are stored as
// uint16, and larger codebooks stop paying off on collections this system
// targets.
const MaxCentroids = 1024

const kmeansMaxIter = 25

// ErrNotTrained is returned when encoding or table construction is requested
// before codebooks exist.
var ErrNotTrained = errors.New("product quantizer not trained")

// ErrIndivisibleDimension indicates that the configured segment count does
// not evenly divide the feature dimensionality. This is a configuration
// error at build time, never a query-time fault.
type ErrIndivisibleDimension struct {
	Dimension   int
	NumSegments int
}

func (e *ErrIndivisibleDimension) Error() string {
	return fmt.Sprintf("dimension %d not divisible by %d segments", e.Dimension, e.NumSegments)
}

// ProductQuantizer quantizes vectors segment-wise against learned codebooks.
// Codebooks are trained once at collection processing time and are immutable
// afterward.
type ProductQuantizer struct {
	numSegments  int         // M: number of segments (sub-quantizers)
	numCentroids int         // K: centroids per segment codebook
	dimension    int         // D: abstract feature dimensionality
	segmentDim   int         // D/M: dimensions per segment
	codebooks    [][]float32 // M codebooks, each flattened K*segmentDim
	trained      bool
}

// New creates a product quantizer for the given dimensionality.
func New(dimension, numSegments, numCentroids int) (*ProductQuantizer, error) {
	if dimension <= 0 || numSegments <= 0 {
		return nil, fmt.Errorf("invalid quantizer shape: dimension=%d segments=%d", dimension, numSegments)
	}

	if dimension%numSegments != 0 {
		return nil, &ErrIndivisibleDimension{Dimension: dimension, NumSegments: numSegments}
	}

	if numCentroids <= 0 || numCentroids > MaxCentroids {
		return nil, fmt.Errorf("numCentroids must be in 1..%d, got %d", MaxCentroids, numCentroids)
	}

	return &ProductQuantizer{
		numSegments:  numSegments,
		numCentroids: numCentroids,
		dimension:    dimension,
		segmentDim:   dimension / numSegments,
		codebooks:    make([][]float32, numSegments),
	}, nil
}

// Train learns one codebook per segment from the given vectors. Segments are
// independent and trained in parallel. A fixed seed makes training
// reproducible.
func (pq *ProductQuantizer) Train(vectors [][]float32, seed int64) error {
	if len(vectors) == 0 {
		return errors.New("no vectors provided for training")
	}

	if len(vectors[0]) != pq.dimension {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", pq.dimension, len(vectors[0]))
	}

	var g errgroup.Group

	for m := 0; m < pq.numSegments; m++ {
		m := m
		g.Go(func() error {
			start := m * pq.segmentDim

			// Flatten this segment's columns for the clusterer.
			sub := make([]float32, len(vectors)*pq.segmentDim)
			for i, vec := range vectors {
				copy(sub[i*pq.segmentDim:(i+1)*pq.segmentDim], vec[start:start+pq.segmentDim])
			}

			rng := rand.New(rand.NewSource(seed + int64(m)))
			pq.codebooks[m] = kmeans.Train(sub, pq.segmentDim, pq.numCentroids, kmeansMaxIter, rng)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	pq.trained = true
	return nil
}

// Encode quantizes a vector into one codebook id per segment.
func (pq *ProductQuantizer) Encode(vec []float32) ([]uint16, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}

	if len(vec) != pq.dimension {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", pq.dimension, len(vec))
	}

	codes := make([]uint16, pq.numSegments)
	for m := 0; m < pq.numSegments; m++ {
		start := m * pq.segmentDim
		codes[m] = uint16(kmeans.Assign(vec[start:start+pq.segmentDim], pq.codebooks[m], pq.segmentDim))
	}

	return codes, nil
}

// BuildSimilarityTable precomputes the dot product of the query with every
// codebook entry in every segment. The returned table is flattened to
// M*K entries, table[m*K + k] being the query segment m against centroid k.
//
// Summing table lookups over an image's codes approximates the dot product
// of the query with the image's full vector without ever reconstructing it.
func (pq *ProductQuantizer) BuildSimilarityTable(query []float32) ([]float32, error) {
	return pq.buildTable(query, math32.Dot)
}

// BuildDistanceTable is the squared-L2 counterpart of BuildSimilarityTable,
// used for nearest-neighbour style queries.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) ([]float32, error) {
	return pq.buildTable(query, math32.SquaredL2)
}

func (pq *ProductQuantizer) buildTable(query []float32, kernel func(a, b []float32) float32) ([]float32, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}

	if len(query) != pq.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", pq.dimension, len(query))
	}

	table := make([]float32, pq.numSegments*pq.numCentroids)
	for m := 0; m < pq.numSegments; m++ {
		start := m * pq.segmentDim
		qseg := query[start : start+pq.segmentDim]

		cb := pq.codebooks[m]
		for k := 0; k < pq.numCentroids; k++ {
			table[m*pq.numCentroids+k] = kernel(qseg, cb[k*pq.segmentDim:(k+1)*pq.segmentDim])
		}
	}

	return table, nil
}

// TableLookup accumulates the per-segment table entries for one image's
// codes. Works for both similarity and distance tables.
func (pq *ProductQuantizer) TableLookup(table []float32, codes []uint16) float32 {
	var acc float32
	for m, c := range codes {
		acc += table[m*pq.numCentroids+int(c)]
	}

	return acc
}

// CentroidDistances computes the K×K squared-L2 distance matrix between the
// codebook entries of one segment, flattened row-major. Summed across
// segments this gives the symmetric image-to-image distance approximation.
func (pq *ProductQuantizer) CentroidDistances(segment int) ([]float32, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}

	if segment < 0 || segment >= pq.numSegments {
		return nil, fmt.Errorf("segment %d out of range [0,%d)", segment, pq.numSegments)
	}

	cb := pq.codebooks[segment]
	mat := make([]float32, pq.numCentroids*pq.numCentroids)

	for a := 0; a < pq.numCentroids; a++ {
		va := cb[a*pq.segmentDim : (a+1)*pq.segmentDim]
		for b := a + 1; b < pq.numCentroids; b++ {
			vb := cb[b*pq.segmentDim : (b+1)*pq.segmentDim]
			d := math32.SquaredL2(va, vb)
			mat[a*pq.numCentroids+b] = d
			mat[b*pq.numCentroids+a] = d
		}
	}

	return mat, nil
}

// NumSegments returns the number of segments (M).
func (pq *ProductQuantizer) NumSegments() int { return pq.numSegments }

// NumCentroids returns the number of centroids per segment (K).
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// Dimension returns the abstract feature dimensionality (D).
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// IsTrained reports whether codebooks exist.
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// Codebooks returns the learned codebooks, one flattened K*segmentDim slice
// per segment. Callers must not mutate them.
func (pq *ProductQuantizer) Codebooks() [][]float32 { return pq.codebooks }

// SetCodebooks installs codebooks directly (loading from disk).
func (pq *ProductQuantizer) SetCodebooks(codebooks [][]float32) error {
	if len(codebooks) != pq.numSegments {
		return fmt.Errorf("expected %d codebooks, got %d", pq.numSegments, len(codebooks))
	}

	for m, cb := range codebooks {
		if len(cb) != pq.numCentroids*pq.segmentDim {
			return fmt.Errorf("codebook %d has %d entries, expected %d", m, len(cb), pq.numCentroids*pq.segmentDim)
		}
	}

	pq.codebooks = codebooks
	pq.trained = true
	return nil
}
