package feature

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestCompressBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	raw := make([]float32, 500)
	for i := range raw {
		raw[i] = rng.Float32()
	}

	cf := Compress(raw, 50)

	if len(cf) > 50 {
		t.Errorf("compressed feature has %d entries, budget is 50", len(cf))
	}

	for _, cw := range cf {
		if cw.Weight <= 0 {
			t.Errorf("concept %d has non-positive weight %f", cw.Concept, cw.Weight)
		}
	}

	// Sorted by concept id.
	for i := 1; i < len(cf); i++ {
		if cf[i-1].Concept >= cf[i].Concept {
			t.Fatalf("entries not sorted by concept id at %d", i)
		}
	}
}

func TestCompressIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	raw := make([]float32, 200)
	for i := range raw {
		raw[i] = rng.Float32()
	}

	a := Compress(raw, 20)
	b := Compress(raw, 20)

	if !reflect.DeepEqual(a, b) {
		t.Error("compressing the same raw vector twice produced different results")
	}
}

func TestCompressTieBreak(t *testing.T) {
	// Four equal scores, budget of two: the two lowest concept ids win.
	raw := []float32{0, 0.5, 0.5, 0.5, 0.5}
	cf := Compress(raw, 2)

	want := CompressedFeature{
		{Concept: 1, Weight: 0.5},
		{Concept: 2, Weight: 0.5},
	}

	if !reflect.DeepEqual(cf, want) {
		t.Errorf("tie break: got %v, want %v", cf, want)
	}
}

func TestCompressDropsZeros(t *testing.T) {
	raw := []float32{0, 0, 0.3, 0}
	cf := Compress(raw, 50)

	if len(cf) != 1 || cf[0].Concept != 2 {
		t.Errorf("expected single entry for concept 2, got %v", cf)
	}
}

func TestDot(t *testing.T) {
	cf := CompressedFeature{{Concept: 1, Weight: 2}, {Concept: 3, Weight: 4}}
	weights := []float32{10, 1, 10, 0.5}

	if got := cf.Dot(weights); got != 4 {
		t.Errorf("Dot = %f, want 4", got)
	}

	// Concepts beyond the weight vector contribute nothing.
	short := []float32{0, 1}
	if got := cf.Dot(short); got != 2 {
		t.Errorf("Dot with short weights = %f, want 2", got)
	}
}

func TestOverlap(t *testing.T) {
	a := CompressedFeature{{Concept: 1, Weight: 2}, {Concept: 5, Weight: 3}}
	b := CompressedFeature{{Concept: 1, Weight: 4}, {Concept: 4, Weight: 9}, {Concept: 5, Weight: 1}}

	if got := a.Overlap(b); got != 11 {
		t.Errorf("Overlap = %f, want 11", got)
	}

	if got := a.Overlap(nil); got != 0 {
		t.Errorf("Overlap with empty = %f, want 0", got)
	}
}

func TestStore(t *testing.T) {
	rows := []CompressedFeature{
		{{Concept: 0, Weight: 1}},
		{{Concept: 3, Weight: 2}},
	}

	s, err := NewStore(rows, 4)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if s.N() != 2 || s.Dim() != 4 {
		t.Errorf("unexpected store shape: n=%d dim=%d", s.N(), s.Dim())
	}

	if _, ok := s.Get(1); !ok {
		t.Error("Get(1) should succeed")
	}

	if _, ok := s.Get(2); ok {
		t.Error("Get(2) should fail")
	}

	if _, ok := s.Get(-1); ok {
		t.Error("Get(-1) should fail")
	}
}

func TestStoreRejectsOutOfRangeConcept(t *testing.T) {
	rows := []CompressedFeature{{{Concept: 9, Weight: 1}}}

	if _, err := NewStore(rows, 4); err == nil {
		t.Error("expected error for concept beyond dimensionality")
	}
}
