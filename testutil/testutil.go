package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
)

// RNG is a seeded, thread-safe random source for test data.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UniformVectors generates random activation vectors with values in [0, 1).
// A single backing array keeps the rows contiguous.
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := 0; i < num; i++ {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// ClusteredVectors generates vectors in well-separated clusters: images are
// assigned round-robin to clusters and each cluster occupies its own offset
// along every axis. Useful when a test needs images a relevance model can
// actually tell apart.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := 0; i < num; i++ {
		base := float32(i%clusters) * 10
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = base + r.rand.Float32()*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// Collection compresses the given vectors and builds a matching index,
// producing the artifact pair a session consumes. The quantization layout is
// sized for small test collections.
func Collection(vectors [][]float32, budget, segments int) (*feature.Store, *index.CollectionIndex, error) {
	dim := len(vectors[0])

	rows := make([]feature.CompressedFeature, len(vectors))
	for i, v := range vectors {
		rows[i] = feature.Compress(v, budget)
	}

	fs, err := feature.NewStore(rows, dim)
	if err != nil {
		return nil, nil, err
	}

	ci, err := index.Build(vectors, segments, 0, 1)
	if err != nil {
		return nil, nil, err
	}

	return fs, ci, nil
}
