// Package session orchestrates one analyst's triage of a loaded collection:
// interaction rounds, bucket management, transfers and fast-forwards.
//
// A session binds a read-only feature store and collection index to mutable
// per-bucket state. All operations are request/response round trips; the UI
// withholds the next request until the previous one completes, the mutex
// merely keeps a misbehaving client from corrupting state.
package session

import (
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/hupe1980/imgsieve/bucket"
	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
)

// Visualization modes.
type Mode string

const (
	ModeGrid   Mode = "grid"
	ModeTetris Mode = "tetris"
)

const (
	// DefaultGridRows and DefaultGridCols size the grid at session start.
	DefaultGridRows = 4
	DefaultGridCols = 7

	// MaxGridRows and MaxGridCols bound runtime grid resizing.
	MaxGridRows = 10
	MaxGridCols = 10

	// MaxBuckets caps the buckets per session, MaxActiveBuckets the ones
	// participating in scoring at a time.
	MaxBuckets       = 1000
	MaxActiveBuckets = 7

	// DefaultRandomSuggChance is the share of candidates drawn from the
	// random explorer to keep exploration alive.
	DefaultRandomSuggChance = 0.1

	// DefaultALRatio is the chance per suggestion slot of surfacing an
	// active-learning query instead of a top-confidence pick.
	DefaultALRatio = 0.1
)

// noSuggestion marks an explorer pick in the outstanding-suggestion record:
// no bucket proposed it, so no bucket is judged by the analyst's verdict.
const noSuggestion = -1

// Config carries the session knobs. The zero value selects the defaults.
type Config struct {
	GridRows         int
	GridCols         int
	RandomSuggChance float64
	ALRatio          float64
	Seed             int64
	Logger           *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.GridRows <= 0 {
		c.GridRows = DefaultGridRows
	}
	if c.GridCols <= 0 {
		c.GridCols = DefaultGridCols
	}
	if c.RandomSuggChance <= 0 {
		c.RandomSuggChance = DefaultRandomSuggChance
	}
	if c.ALRatio <= 0 {
		c.ALRatio = DefaultALRatio
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Session is the per-analyst controller over one loaded collection.
type Session struct {
	mu sync.Mutex

	logger *slog.Logger
	store  *feature.Store
	index  *index.CollectionIndex

	mode     Mode
	gridRows int
	gridCols int

	randomSuggChance float64
	alRatio          float64

	buckets      map[int]*bucket.Bucket
	nextBucketID int
	discard      *bucket.DiscardPile
	seen         *bucket.SeenSet
	colors       *bucket.ColorManager
	rng          *rand.Rand

	// outstanding maps the images suggested in the previous round to the
	// bucket that proposed them (noSuggestion for explorer picks).
	outstanding map[int]int

	explorerCache []int

	// pendingFF is the bucket id with an uncommitted fast-forward,
	// noSuggestion when none is staged.
	pendingFF int
}

// New creates a session over a processed collection. The store and the index
// must be aligned to the same canonical image ordering.
func New(store *feature.Store, idx *index.CollectionIndex, cfg Config) (*Session, error) {
	if store.N() != idx.N() {
		return nil, &ErrCollectionMismatch{Features: store.N(), Index: idx.N()}
	}
	if d := idx.Quantizer().Dimension(); d != store.Dim() {
		return nil, &ErrDimensionMismatch{Features: store.Dim(), Index: d}
	}

	cfg.applyDefaults()

	s := &Session{
		logger:           cfg.Logger,
		store:            store,
		index:            idx,
		mode:             ModeGrid,
		gridRows:         cfg.GridRows,
		gridCols:         cfg.GridCols,
		randomSuggChance: cfg.RandomSuggChance,
		alRatio:          cfg.ALRatio,
		buckets:          make(map[int]*bucket.Bucket),
		nextBucketID:     bucket.DiscardID + 1,
		discard:          bucket.NewDiscardPile(),
		seen:             bucket.NewSeenSet(store.N()),
		rng:              rand.New(rand.NewSource(cfg.Seed)),
		outstanding:      make(map[int]int),
		pendingFF:        noSuggestion,
	}
	s.colors = bucket.NewColorManager(s.rng)

	// Every session starts with one bucket next to the discard pile.
	if _, err := s.createBucketLocked(); err != nil {
		return nil, err
	}

	s.logger.Info("session created",
		slog.Int("n_images", store.N()),
		slog.Int("grid_rows", s.gridRows),
		slog.Int("grid_cols", s.gridCols),
	)

	return s, nil
}

// Mode returns the current visualization mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// GridSize returns the current grid dimensions.
func (s *Session) GridSize() (rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gridRows, s.gridCols
}

// CreatedBucket describes the outcome of CreateBucket.
type CreatedBucket struct {
	BucketID   int    `json:"bucket_id"`
	BucketName string `json:"bucket_name"`
	IsActive   bool   `json:"is_now_active"`
}

// CreateBucket adds a new empty bucket with the next free id and a default
// name and color. It starts inactive when the active cap is already reached.
func (s *Session) CreateBucket() (CreatedBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBucketLocked()
}

func (s *Session) createBucketLocked() (CreatedBucket, error) {
	if len(s.buckets) >= MaxBuckets {
		return CreatedBucket{}, ErrTooManyBuckets
	}

	active := len(s.activeBucketsLocked()) < MaxActiveBuckets

	id := s.nextBucketID
	s.nextBucketID++

	name := "Bucket " + strconv.Itoa(id)
	b := bucket.New(id, name, active, len(s.buckets), s.store, s.colors.Assign())
	s.buckets[id] = b

	s.logger.Info("bucket created",
		slog.Int("bucket_id", id),
		slog.String("name", name),
		slog.Bool("active", active),
	)

	return CreatedBucket{BucketID: id, BucketName: name, IsActive: active}, nil
}

// DeleteBucket removes a bucket, dropping its model and membership
// irreversibly. The discard pile and the last remaining bucket cannot be
// deleted.
func (s *Session) DeleteBucket(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == bucket.DiscardID {
		return ErrDiscardImmutable
	}

	b, ok := s.buckets[id]
	if !ok {
		return &ErrBucketNotFound{ID: id}
	}
	if len(s.buckets) == 1 {
		return ErrLastBucket
	}

	deletedOrdering := b.Ordering()
	s.colors.Relinquish(b.Color())
	delete(s.buckets, id)

	// Close the ordering gap the deletion left behind.
	for _, other := range s.buckets {
		if other.Ordering() > deletedOrdering {
			other.SetOrdering(other.Ordering() - 1)
		}
	}

	if s.pendingFF == id {
		s.pendingFF = noSuggestion
	}

	s.logger.Info("bucket deleted", slog.Int("bucket_id", id), slog.String("name", b.Name()))

	return nil
}

// RenameBucket sets a bucket's display name, truncated to the name cap.
func (s *Session) RenameBucket(id int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == bucket.DiscardID {
		return ErrDiscardImmutable
	}

	b, ok := s.buckets[id]
	if !ok {
		return &ErrBucketNotFound{ID: id}
	}

	return b.Rename(name)
}

// SwapBuckets exchanges two buckets' display positions.
func (s *Session) SwapBuckets(id1, id2 int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b1, ok := s.buckets[id1]
	if !ok {
		return &ErrBucketNotFound{ID: id1}
	}
	b2, ok := s.buckets[id2]
	if !ok {
		return &ErrBucketNotFound{ID: id2}
	}

	o1, o2 := b1.Ordering(), b2.Ordering()
	b1.SetOrdering(o2)
	b2.SetOrdering(o1)

	return nil
}

// ToggleResult describes the outcome of ToggleBucket. Rerouted is non-nil
// when the toggle caught a tetris candidate mid-descent and sent it to the
// discard pile.
type ToggleResult struct {
	BucketID int    `json:"bucket_id"`
	Name     string `json:"bucket_name"`
	IsActive bool   `json:"is_now_active"`
	Rerouted *int   `json:"rerouted_image,omitempty"`
}

// ToggleBucket flips a bucket between active and inactive. Inactive buckets
// keep their model and membership but are excluded from scoring and
// candidate assignment. Deactivating the bucket behind the in-flight tetris
// candidate reroutes that image to the discard pile.
func (s *Session) ToggleBucket(id int) (ToggleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[id]
	if !ok {
		return ToggleResult{}, &ErrBucketNotFound{ID: id}
	}

	if !b.Active() && len(s.activeBucketsLocked()) >= MaxActiveBuckets {
		return ToggleResult{}, ErrTooManyActiveBuckets
	}

	b.SetActive(!b.Active())

	res := ToggleResult{BucketID: id, Name: b.Name(), IsActive: b.Active()}

	if !b.Active() && s.mode == ModeTetris {
		if img, ok := s.inFlightFromLocked(id); ok {
			s.discard.Discard([]int{img})
			s.seen.Add(img)
			delete(s.outstanding, img)
			res.Rerouted = &img

			s.logger.Debug("in-flight image rerouted to discard",
				slog.Int("image", img),
				slog.Int("bucket_id", id),
			)
		}
	}

	return res, nil
}

// inFlightFromLocked finds the outstanding tetris candidate proposed by the
// given bucket, if any.
func (s *Session) inFlightFromLocked(bucketID int) (int, bool) {
	for img, from := range s.outstanding {
		if from == bucketID {
			return img, true
		}
	}
	return 0, false
}

// Info aggregates the outward state of all buckets plus the discard pile.
// BucketOrdering lists ids by display position; BannerOrdering keeps only
// the active ones. The discard pile closes both lists.
type Info struct {
	Buckets           map[int]bucket.Info `json:"buckets"`
	BucketOrdering    []int               `json:"bucket_ordering"`
	BannerOrdering    []int               `json:"banner_ordering"`
	NActiveAndTrained int                 `json:"n_active_and_trained"`
}

// BucketInfo compiles the bucket overview for the UI.
func (s *Session) BucketInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Buckets:        make(map[int]bucket.Info, len(s.buckets)+1),
		BucketOrdering: make([]int, 0, len(s.buckets)+1),
		BannerOrdering: make([]int, 0, len(s.buckets)+1),
	}

	banner := 0
	for _, b := range s.orderedBucketsLocked() {
		bi := b.Info()

		if b.Active() {
			pos := banner
			bi.BannerOrdering = &pos
			info.BannerOrdering = append(info.BannerOrdering, b.ID())
			banner++

			if b.Trained() {
				info.NActiveAndTrained++
			}
		}

		info.Buckets[b.ID()] = bi
		info.BucketOrdering = append(info.BucketOrdering, b.ID())
	}

	di := s.discard.Info()
	di.Ordering = len(s.buckets)
	pos := banner
	di.BannerOrdering = &pos

	info.Buckets[bucket.DiscardID] = di
	info.BucketOrdering = append(info.BucketOrdering, bucket.DiscardID)
	info.BannerOrdering = append(info.BannerOrdering, bucket.DiscardID)

	return info
}

// BucketViewData lists a bucket's contents for the bucket view, sorted by
// the given mode.
func (s *Session) BucketViewData(id int, sortBy string) ([]bucket.ViewEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == bucket.DiscardID {
		return s.discard.ViewData(sortBy)
	}

	b, ok := s.buckets[id]
	if !ok {
		return nil, &ErrBucketNotFound{ID: id}
	}

	return b.ViewData(sortBy)
}

// orderedBucketsLocked returns the buckets sorted by display position.
func (s *Session) orderedBucketsLocked() []*bucket.Bucket {
	out := make([]*bucket.Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ordering() < out[j].Ordering()
	})
	return out
}

func (s *Session) activeBucketsLocked() []*bucket.Bucket {
	var out []*bucket.Bucket
	for _, b := range s.orderedBucketsLocked() {
		if b.Active() {
			out = append(out, b)
		}
	}
	return out
}

// activeAndTrainedLocked returns the buckets that take part in suggestion
// generation, in display order.
func (s *Session) activeAndTrainedLocked() []*bucket.Bucket {
	var out []*bucket.Bucket
	for _, b := range s.orderedBucketsLocked() {
		if b.Active() && b.Trained() {
			out = append(out, b)
		}
	}
	return out
}

func (s *Session) trainedBucketsLocked() []*bucket.Bucket {
	var out []*bucket.Bucket
	for _, b := range s.orderedBucketsLocked() {
		if b.Trained() {
			out = append(out, b)
		}
	}
	return out
}
