package kmeans

import (
	"math"
	"math/rand"

	"github.com/hupe1980/imgsieve/internal/math32"
)

// Train trains k centroids from the given vectors using Lloyd's algorithm
// with squared L2 assignment. Vectors are flattened (n * dim) and the
// returned centroids are flattened as well (k * dim).
//
// The caller provides the random source so that codebook training is
// reproducible for a fixed seed.
func Train(vectors []float32, dim, k, maxIter int, rng *rand.Rand) []float32 {
	n := len(vectors) / dim

	centroids := make([]float32, k*dim)

	// With fewer vectors than clusters every vector becomes a centroid and
	// the remainder is filled by cycling through the data.
	if n < k {
		for i := 0; i < k; i++ {
			src := (i % n) * dim
			copy(centroids[i*dim:(i+1)*dim], vectors[src:src+dim])
		}
		return centroids
	}

	// Initialize centroids from a random permutation of the data points.
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := Assign(vec, centroids, dim)

			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-initialize empty cluster with a random point
				// (Simple heuristic to avoid empty clusters)
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids
}

// Assign finds the closest centroid for a vector.
func Assign(vec []float32, centroids []float32, dim int) int {
	k := len(centroids) / dim

	best := 0
	minDist := float32(math.MaxFloat32)

	for j := 0; j < k; j++ {
		center := centroids[j*dim : (j+1)*dim]
		d := math32.SquaredL2(vec, center)
		if d < minDist {
			minDist = d
			best = j
		}
	}

	return best
}
