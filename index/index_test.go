package index

import (
	"math/rand"
	"reflect"
	"testing"
)

func testVectors(seed int64, n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(seed))

	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, dim)
		for j := range vectors[i] {
			vectors[i][j] = rng.Float32()
		}
	}

	return vectors
}

func TestBuildAndScore(t *testing.T) {
	const (
		n        = 200
		dim      = 32
		segments = 4
	)

	vectors := testVectors(1, n, dim)

	ci, err := Build(vectors, segments, 8, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if ci.N() != n {
		t.Errorf("N = %d, want %d", ci.N(), n)
	}

	query := make([]float32, dim)
	for i := range query {
		query[i] = 1
	}

	scores, err := ci.Score(query)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if len(scores) != n {
		t.Fatalf("expected %d scores, got %d", n, len(scores))
	}
}

func TestScoreDeterministic(t *testing.T) {
	vectors := testVectors(2, 150, 32)

	ci, err := Build(vectors, 4, 8, 7)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	query := make([]float32, 32)
	for i := range query {
		query[i] = float32(i) * 0.1
	}

	a, err := ci.Score(query)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	b, err := ci.Score(query)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("repeated Score calls with the same query returned different results")
	}
}

func TestBuildIndivisibleDimension(t *testing.T) {
	vectors := testVectors(3, 50, 30)

	if _, err := Build(vectors, 4, 8, 1); err == nil {
		t.Error("expected configuration error for indivisible dimension")
	}
}

func TestScoreFavorsSimilarImages(t *testing.T) {
	const dim = 32

	// Two well-separated clusters; images 0..49 near the origin, 50..99 far.
	rng := rand.New(rand.NewSource(4))
	vectors := make([][]float32, 100)
	for i := range vectors {
		vectors[i] = make([]float32, dim)
		base := float32(0)
		if i >= 50 {
			base = 10
		}
		for j := range vectors[i] {
			vectors[i][j] = base + rng.Float32()
		}
	}

	ci, err := Build(vectors, 4, 8, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// A query pointing at the far cluster must rank its members higher.
	query := make([]float32, dim)
	for i := range query {
		query[i] = 1
	}

	scores, err := ci.Score(query)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	var nearAvg, farAvg float32
	for i := 0; i < 50; i++ {
		nearAvg += scores[i]
	}
	for i := 50; i < 100; i++ {
		farAvg += scores[i]
	}

	if farAvg <= nearAvg {
		t.Errorf("far cluster should outscore near cluster: far=%f near=%f", farAvg, nearAvg)
	}
}

func TestDistancesToSet(t *testing.T) {
	const dim = 32

	rng := rand.New(rand.NewSource(5))
	vectors := make([][]float32, 100)
	for i := range vectors {
		vectors[i] = make([]float32, dim)
		base := float32(0)
		if i >= 50 {
			base = 10
		}
		for j := range vectors[i] {
			vectors[i][j] = base + rng.Float32()
		}
	}

	ci, err := Build(vectors, 4, 8, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Candidates from the same cluster as the members must be closer.
	dists, err := ci.DistancesToSet([]int{0, 1, 2}, []int{10, 60})
	if err != nil {
		t.Fatalf("DistancesToSet failed: %v", err)
	}

	if dists[0] >= dists[1] {
		t.Errorf("same-cluster candidate should be closer: got %f vs %f", dists[0], dists[1])
	}

	if _, err := ci.DistancesToSet(nil, []int{1}); err == nil {
		t.Error("expected error for empty member set")
	}

	if _, err := ci.DistancesToSet([]int{0}, []int{999}); err == nil {
		t.Error("expected error for out-of-range candidate")
	}
}
