package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgsieve/bucket"
	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
)

// newTestSession builds a session over a 10-image collection in a 6-concept
// space: images {0,1,2,5,6} are "cat-like" (mass on concepts 0,1), the rest
// are "car-like" (mass on concepts 3,4).
func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()

	catIDs := map[int]bool{0: true, 1: true, 2: true, 5: true, 6: true}

	vectors := make([][]float32, 10)
	rows := make([]feature.CompressedFeature, 10)
	for i := range vectors {
		v := make([]float32, 6)
		jitter := float32(i) * 0.01
		if catIDs[i] {
			v[0] = 0.9 - jitter
			v[1] = 0.8 + jitter
		} else {
			v[3] = 0.9 - jitter
			v[4] = 0.8 + jitter
		}
		vectors[i] = v
		rows[i] = feature.Compress(v, feature.DefaultBudget)
	}

	store, err := feature.NewStore(rows, 6)
	require.NoError(t, err)

	idx, err := index.Build(vectors, 2, 0, 7)
	require.NoError(t, err)

	s, err := New(store, idx, cfg)
	require.NoError(t, err)
	return s
}

// quietConfig keeps the stochastic shares out of the way so ranking
// assertions stay deterministic.
func quietConfig() Config {
	return Config{
		Seed:             42,
		RandomSuggChance: 1e-9,
		ALRatio:          1e-9,
	}
}

func intPtr(v int) *int { return &v }

func TestNewSessionDefaults(t *testing.T) {
	s := newTestSession(t, Config{})

	assert.Equal(t, ModeGrid, s.Mode())
	rows, cols := s.GridSize()
	assert.Equal(t, DefaultGridRows, rows)
	assert.Equal(t, DefaultGridCols, cols)

	info := s.BucketInfo()
	require.Contains(t, info.Buckets, 1)
	require.Contains(t, info.Buckets, bucket.DiscardID)

	assert.Equal(t, "Bucket 1", info.Buckets[1].Name)
	assert.True(t, info.Buckets[1].Active)
	assert.Equal(t, []int{1, bucket.DiscardID}, info.BucketOrdering)
	assert.Equal(t, []int{1, bucket.DiscardID}, info.BannerOrdering)
	assert.Zero(t, info.NActiveAndTrained)
}

func TestCreateAndDeleteBuckets(t *testing.T) {
	s := newTestSession(t, Config{})

	created, err := s.CreateBucket()
	require.NoError(t, err)
	assert.Equal(t, 2, created.BucketID)
	assert.Equal(t, "Bucket 2", created.BucketName)
	assert.True(t, created.IsActive)

	assert.ErrorIs(t, s.DeleteBucket(bucket.DiscardID), ErrDiscardImmutable)

	var notFound *ErrBucketNotFound
	assert.ErrorAs(t, s.DeleteBucket(99), &notFound)
	assert.Equal(t, 99, notFound.ID)

	require.NoError(t, s.DeleteBucket(1))

	// The ordering gap closes and the freed id is not reused.
	info := s.BucketInfo()
	assert.Equal(t, 0, info.Buckets[2].Ordering)
	assert.Equal(t, []int{2, bucket.DiscardID}, info.BucketOrdering)

	assert.ErrorIs(t, s.DeleteBucket(2), ErrLastBucket)

	created, err = s.CreateBucket()
	require.NoError(t, err)
	assert.Equal(t, 3, created.BucketID)
}

func TestActiveBucketCap(t *testing.T) {
	s := newTestSession(t, Config{})

	for i := 0; i < MaxActiveBuckets-1; i++ {
		created, err := s.CreateBucket()
		require.NoError(t, err)
		assert.True(t, created.IsActive)
	}

	// The cap is reached; the next bucket starts inactive.
	created, err := s.CreateBucket()
	require.NoError(t, err)
	assert.False(t, created.IsActive)

	_, err = s.ToggleBucket(created.BucketID)
	assert.ErrorIs(t, err, ErrTooManyActiveBuckets)

	res, err := s.ToggleBucket(1)
	require.NoError(t, err)
	assert.False(t, res.IsActive)

	res, err = s.ToggleBucket(created.BucketID)
	require.NoError(t, err)
	assert.True(t, res.IsActive)
}

func TestRenameAndSwap(t *testing.T) {
	s := newTestSession(t, Config{})

	require.NoError(t, s.RenameBucket(1, "cats"))
	assert.Equal(t, "cats", s.BucketInfo().Buckets[1].Name)

	assert.ErrorIs(t, s.RenameBucket(bucket.DiscardID, "junk"), ErrDiscardImmutable)
	assert.ErrorIs(t, s.RenameBucket(1, ""), bucket.ErrEmptyName)

	created, err := s.CreateBucket()
	require.NoError(t, err)

	require.NoError(t, s.SwapBuckets(1, created.BucketID))
	info := s.BucketInfo()
	assert.Equal(t, []int{created.BucketID, 1, bucket.DiscardID}, info.BucketOrdering)
}

// trainCats labels the cat-like images {2,5} into bucket 1 and returns the
// resulting round.
func trainCats(t *testing.T, s *Session) *RoundResult {
	t.Helper()

	res, err := s.InteractionRound(Feedback{2: intPtr(1), 5: intPtr(1)})
	require.NoError(t, err)
	require.NotNil(t, res.Grid)
	return res
}

func TestEndToEndTriage(t *testing.T) {
	s := newTestSession(t, quietConfig())
	require.NoError(t, s.RenameBucket(1, "cats"))

	res := trainCats(t, s)

	info := s.BucketInfo()
	assert.Equal(t, 2, info.Buckets[1].NumImages)
	assert.Equal(t, 1, info.NActiveAndTrained)

	// The labeled images never come back as candidates.
	var catRanks, carRanks []int
	for pos, sugg := range res.Grid.Images {
		assert.NotContains(t, []int{2, 5}, sugg.Image)

		switch sugg.Image {
		case 0, 1, 6:
			catRanks = append(catRanks, pos)
		default:
			carRanks = append(carRanks, pos)
		}
	}
	require.NotEmpty(t, catRanks)
	require.NotEmpty(t, carRanks)

	// Concept overlap with the labeled positives dominates the ranking.
	for _, cat := range catRanks {
		for _, car := range carRanks {
			assert.Less(t, cat, car)
		}
	}

	// Fast-forward stages exactly 3 candidates, none already in the bucket.
	require.NoError(t, s.FastForward(1, 3))
	staged, err := s.BucketViewData(1, bucket.SortFastForward)
	require.NoError(t, err)

	var stagedIDs []int
	for _, e := range staged {
		if e.IsFastForward {
			stagedIDs = append(stagedIDs, e.ID)
		}
	}
	require.Len(t, stagedIDs, 3)
	assert.NotContains(t, stagedIDs, 2)
	assert.NotContains(t, stagedIDs, 5)

	require.NoError(t, s.FFCommit(1))

	info = s.BucketInfo()
	assert.Equal(t, 5, info.Buckets[1].NumImages)

	// Committed images are out of the candidate pool for good.
	require.NoError(t, s.FastForward(1, 3))
	again, err := s.BucketViewData(1, bucket.SortFastForward)
	require.NoError(t, err)
	for _, e := range again {
		if e.IsFastForward {
			assert.NotContains(t, stagedIDs, e.ID)
		}
	}
}

func TestInactiveBucketExcludedButIntact(t *testing.T) {
	s := newTestSession(t, quietConfig())
	trainCats(t, s)

	res, err := s.ToggleBucket(1)
	require.NoError(t, err)
	assert.False(t, res.IsActive)

	info := s.BucketInfo()
	assert.Zero(t, info.NActiveAndTrained)
	assert.Nil(t, info.Buckets[1].BannerOrdering)
	assert.Equal(t, 2, info.Buckets[1].NumImages)

	// With no active trained bucket the round is pure exploration.
	round, err := s.InteractionRound(nil)
	require.NoError(t, err)
	for _, sugg := range round.Grid.Images {
		assert.Nil(t, sugg.SuggLineThickness)
		assert.Equal(t, -1, sugg.Bucket)
	}

	// Reactivation restores the trained model untouched.
	_, err = s.ToggleBucket(1)
	require.NoError(t, err)
	info = s.BucketInfo()
	assert.Equal(t, 1, info.NActiveAndTrained)
	assert.Equal(t, 2, info.Buckets[1].NumImages)
}

func TestPrecisionFollowsSuggestionJudgments(t *testing.T) {
	s := newTestSession(t, quietConfig())
	res := trainCats(t, s)

	var modelPicks []int
	for _, sugg := range res.Grid.Images {
		if sugg.Bucket == 1 && sugg.SuggLineThickness != nil && !sugg.IsALQuery {
			modelPicks = append(modelPicks, sugg.Image)
		}
	}
	require.GreaterOrEqual(t, len(modelPicks), 2)

	created, err := s.CreateBucket()
	require.NoError(t, err)

	// One suggestion confirmed, one sent to another bucket.
	_, err = s.InteractionRound(Feedback{
		modelPicks[0]: intPtr(1),
		modelPicks[1]: intPtr(created.BucketID),
	})
	require.NoError(t, err)

	info := s.BucketInfo()
	assert.InDelta(t, 0.5, info.Buckets[1].Precision, 1e-9)

	// The reassigned image is a neutral add elsewhere, not a judged
	// suggestion there.
	assert.Equal(t, 1.0, info.Buckets[created.BucketID].Precision)
	assert.Equal(t, 1, info.Buckets[created.BucketID].NumImages)
}

func TestGridSetSize(t *testing.T) {
	s := newTestSession(t, quietConfig())

	res, err := s.GridSetSize("rows", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Grid.Rows)
	assert.LessOrEqual(t, len(res.Grid.Images), 2*DefaultGridCols)

	_, err = s.GridSetSize("rows", 0)
	var sizeErr *ErrInvalidGridSize
	assert.ErrorAs(t, err, &sizeErr)

	_, err = s.GridSetSize("cols", MaxGridCols+1)
	assert.ErrorAs(t, err, &sizeErr)

	_, err = s.GridSetSize("diagonal", 3)
	var dimErr *ErrInvalidGridDim
	assert.ErrorAs(t, err, &dimErr)
}

func TestToggleModeAndTetrisReroute(t *testing.T) {
	s := newTestSession(t, quietConfig())
	trainCats(t, s)

	res, err := s.ToggleMode()
	require.NoError(t, err)
	assert.Equal(t, ModeTetris, res.Mode)
	require.NotNil(t, res.Tetris)
	assert.Nil(t, res.Grid)

	// Spin rounds until the in-flight candidate is a genuine model
	// suggestion from bucket 1.
	sugg := res.Tetris
	for i := 0; i < 50 && (sugg.Bucket != 1 || sugg.SuggLineThickness == nil); i++ {
		res, err = s.InteractionRound(nil)
		require.NoError(t, err)
		require.NotNil(t, res.Tetris)
		sugg = res.Tetris
	}
	require.Equal(t, 1, sugg.Bucket)
	require.NotNil(t, sugg.SuggLineThickness)

	// Deactivating the bucket mid-descent reroutes the image to discard.
	toggled, err := s.ToggleBucket(1)
	require.NoError(t, err)
	require.NotNil(t, toggled.Rerouted)
	assert.Equal(t, sugg.Image, *toggled.Rerouted)

	view, err := s.BucketViewData(bucket.DiscardID, bucket.SortNewestFirst)
	require.NoError(t, err)
	require.NotEmpty(t, view)
	assert.Equal(t, sugg.Image, view[0].ID)

	res, err = s.ToggleMode()
	require.NoError(t, err)
	assert.Equal(t, ModeGrid, res.Mode)
	require.NotNil(t, res.Grid)
}

func TestTetrisRejectsBatchFeedback(t *testing.T) {
	s := newTestSession(t, quietConfig())

	_, err := s.ToggleMode()
	require.NoError(t, err)

	_, err = s.InteractionRound(Feedback{0: intPtr(1), 1: intPtr(1)})
	var arityErr *ErrTetrisFeedbackArity
	require.ErrorAs(t, err, &arityErr)
	assert.Equal(t, 2, arityErr.N)

	// A single pair still goes through.
	_, err = s.InteractionRound(Feedback{0: intPtr(1)})
	require.NoError(t, err)
}
