package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgsieve/feature"
)

// testStore builds a tiny collection over a 6-concept space:
// images 0..3 are "cat-like" (concepts 0,1), 4..7 are "car-like"
// (concepts 3,4), image 8 is mixed, image 9 is empty.
func testStore(t *testing.T) *feature.Store {
	t.Helper()

	rows := []feature.CompressedFeature{
		{{Concept: 0, Weight: 0.9}, {Concept: 1, Weight: 0.7}},
		{{Concept: 0, Weight: 0.8}, {Concept: 1, Weight: 0.8}},
		{{Concept: 0, Weight: 0.7}, {Concept: 1, Weight: 0.9}},
		{{Concept: 0, Weight: 0.6}, {Concept: 1, Weight: 0.5}},
		{{Concept: 3, Weight: 0.9}, {Concept: 4, Weight: 0.7}},
		{{Concept: 3, Weight: 0.8}, {Concept: 4, Weight: 0.8}},
		{{Concept: 3, Weight: 0.7}, {Concept: 4, Weight: 0.9}},
		{{Concept: 3, Weight: 0.6}, {Concept: 4, Weight: 0.5}},
		{{Concept: 1, Weight: 0.5}, {Concept: 3, Weight: 0.5}},
		{},
	}

	s, err := feature.NewStore(rows, 6)
	require.NoError(t, err)
	return s
}

func TestModelUntrainedScoresZero(t *testing.T) {
	store := testStore(t)
	m := NewModel(store.Dim())

	assert.False(t, m.Trained())

	for id := 0; id < store.N(); id++ {
		feat, _ := store.Get(id)
		assert.Zero(t, m.Score(feat))
	}

	// Negatives alone do not make a model.
	m.Update(store, nil, []int{4, 5})
	assert.False(t, m.Trained())

	feat, _ := store.Get(0)
	assert.Zero(t, m.Score(feat))
}

func TestModelMonotoneRanking(t *testing.T) {
	store := testStore(t)
	m := NewModel(store.Dim())

	// Positive-only update on cat-like images.
	m.Update(store, []int{0, 1}, nil)
	require.True(t, m.Trained())

	catFeat, _ := store.Get(2)   // shares both concepts
	mixedFeat, _ := store.Get(8) // shares one concept
	carFeat, _ := store.Get(4)   // shares none

	catScore := m.Score(catFeat)
	mixedScore := m.Score(mixedFeat)
	carScore := m.Score(carFeat)

	assert.GreaterOrEqual(t, catScore, mixedScore)
	assert.GreaterOrEqual(t, mixedScore, carScore)
	assert.Zero(t, carScore)

	// Confidence stays in [0,1].
	for id := 0; id < store.N(); id++ {
		feat, _ := store.Get(id)
		s := m.Score(feat)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestModelUpdateIdempotent(t *testing.T) {
	store := testStore(t)
	m := NewModel(store.Dim())

	m.Update(store, []int{0, 1}, []int{4})
	weights := append([]float32{}, m.Weights()...)

	// Repeating the identical feedback must not change the state.
	m.Update(store, []int{0, 1}, []int{4})
	assert.Equal(t, weights, m.Weights())
}

func TestModelNegativesLowerScores(t *testing.T) {
	store := testStore(t)
	m := NewModel(store.Dim())

	m.Update(store, []int{0, 1}, nil)
	mixedFeat, _ := store.Get(8)
	before := m.Score(mixedFeat)

	// Marking a car-like image negative pushes down concept 3.
	m.Update(store, nil, []int{4})
	after := m.Score(mixedFeat)

	assert.Less(t, after, before)
}

func TestModelRemovePositives(t *testing.T) {
	store := testStore(t)
	m := NewModel(store.Dim())

	m.Update(store, []int{0}, nil)
	only0 := append([]float32{}, m.Weights()...)

	m.Update(store, []int{1}, nil)
	m.RemovePositives(store, []int{1})

	assert.Equal(t, only0, m.Weights())

	// Removing an id that was never counted is a no-op.
	m.RemovePositives(store, []int{7})
	assert.Equal(t, only0, m.Weights())

	m.RemovePositives(store, []int{0})
	assert.False(t, m.Trained())
}

func TestModelUnknownIDsDropped(t *testing.T) {
	store := testStore(t)
	m := NewModel(store.Dim())

	// Unknown image ids must not poison the update.
	m.Update(store, []int{0, 999}, []int{-3})
	assert.True(t, m.Trained())

	feat, _ := store.Get(0)
	assert.Equal(t, 1.0, m.Score(feat))
}
