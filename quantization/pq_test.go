package quantization

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func generateRandomVector(rng *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = rng.Float32()
	}
	return vec
}

func trainedQuantizer(t *testing.T, dim, segments, centroids, n int) *ProductQuantizer {
	t.Helper()

	pq, err := New(dim, segments, centroids)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = generateRandomVector(rng, dim)
	}

	if err := pq.Train(vectors, 1); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	return pq
}

func TestNewIndivisibleDimension(t *testing.T) {
	_, err := New(100, 32, 64)

	var indiv *ErrIndivisibleDimension
	if !errors.As(err, &indiv) {
		t.Fatalf("expected ErrIndivisibleDimension, got %v", err)
	}

	if indiv.Dimension != 100 || indiv.NumSegments != 32 {
		t.Errorf("unexpected error fields: %+v", indiv)
	}
}

func TestNewCentroidBounds(t *testing.T) {
	if _, err := New(64, 8, MaxCentroids+1); err == nil {
		t.Error("expected error for too many centroids")
	}

	if _, err := New(64, 8, 0); err == nil {
		t.Error("expected error for zero centroids")
	}
}

func TestEncode(t *testing.T) {
	const (
		dim       = 64
		segments  = 8
		centroids = 16
	)

	pq := trainedQuantizer(t, dim, segments, centroids, 500)

	rng := rand.New(rand.NewSource(2))
	codes, err := pq.Encode(generateRandomVector(rng, dim))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(codes) != segments {
		t.Errorf("expected %d codes, got %d", segments, len(codes))
	}

	for m, c := range codes {
		if int(c) >= centroids {
			t.Errorf("segment %d code %d out of codebook range", m, c)
		}
	}
}

func TestEncodeUntrained(t *testing.T) {
	pq, err := New(64, 8, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := pq.Encode(make([]float32, 64)); !errors.Is(err, ErrNotTrained) {
		t.Errorf("expected ErrNotTrained, got %v", err)
	}
}

func TestSimilarityTableMatchesReconstruction(t *testing.T) {
	const (
		dim       = 32
		segments  = 4
		centroids = 8
	)

	pq := trainedQuantizer(t, dim, segments, centroids, 300)

	rng := rand.New(rand.NewSource(3))
	query := generateRandomVector(rng, dim)
	vec := generateRandomVector(rng, dim)

	codes, err := pq.Encode(vec)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	table, err := pq.BuildSimilarityTable(query)
	if err != nil {
		t.Fatalf("BuildSimilarityTable failed: %v", err)
	}

	got := pq.TableLookup(table, codes)

	// Reconstruct the quantized vector and compute the dot product directly.
	var want float32
	segDim := dim / segments
	for m := 0; m < segments; m++ {
		cb := pq.Codebooks()[m]
		centroid := cb[int(codes[m])*segDim : (int(codes[m])+1)*segDim]
		qseg := query[m*segDim : (m+1)*segDim]
		for i := range qseg {
			want += qseg[i] * centroid[i]
		}
	}

	if diff := got - want; diff > 1e-4 || diff < -1e-4 {
		t.Errorf("table lookup %f differs from reconstruction %f", got, want)
	}
}

func TestTrainDeterministic(t *testing.T) {
	a := trainedQuantizer(t, 32, 4, 8, 300)
	b := trainedQuantizer(t, 32, 4, 8, 300)

	if !reflect.DeepEqual(a.Codebooks(), b.Codebooks()) {
		t.Error("training with the same seed produced different codebooks")
	}
}

func TestCentroidDistances(t *testing.T) {
	pq := trainedQuantizer(t, 32, 4, 8, 300)

	mat, err := pq.CentroidDistances(0)
	if err != nil {
		t.Fatalf("CentroidDistances failed: %v", err)
	}

	k := pq.NumCentroids()
	if len(mat) != k*k {
		t.Fatalf("expected %d entries, got %d", k*k, len(mat))
	}

	for a := 0; a < k; a++ {
		if mat[a*k+a] != 0 {
			t.Errorf("self distance of centroid %d is %f", a, mat[a*k+a])
		}
		for b := 0; b < k; b++ {
			if mat[a*k+b] != mat[b*k+a] {
				t.Errorf("distance matrix asymmetric at (%d,%d)", a, b)
			}
		}
	}

	if _, err := pq.CentroidDistances(99); err == nil {
		t.Error("expected error for out-of-range segment")
	}
}

func TestSetCodebooks(t *testing.T) {
	pq, err := New(32, 4, 8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bad := make([][]float32, 4)
	for i := range bad {
		bad[i] = make([]float32, 3)
	}
	if err := pq.SetCodebooks(bad); err == nil {
		t.Error("expected error for malformed codebooks")
	}

	good := make([][]float32, 4)
	for i := range good {
		good[i] = make([]float32, 8*8)
	}
	if err := pq.SetCodebooks(good); err != nil {
		t.Fatalf("SetCodebooks failed: %v", err)
	}

	if !pq.IsTrained() {
		t.Error("quantizer should be trained after SetCodebooks")
	}
}
