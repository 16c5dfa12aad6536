package imgsieve

import (
	"context"

	"github.com/hupe1980/imgsieve/bucket"
	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
	"github.com/hupe1980/imgsieve/session"
	"github.com/hupe1980/imgsieve/store"
)

// Re-exported session types so callers of the facade never import the
// session package directly.
type (
	// Feedback maps image ids to the analyst's bucket verdict. A nil entry
	// means "no opinion", bucket 0 sends the image to the discard pile.
	Feedback = session.Feedback

	// RoundResult carries the suggestions of one interaction round.
	RoundResult = session.RoundResult

	// Suggestion is one suggested image with its display hints.
	Suggestion = session.Suggestion

	// GridData is the grid-mode payload of a round.
	GridData = session.GridData

	// Info aggregates the outward state of all buckets.
	Info = session.Info

	// CreatedBucket describes the outcome of CreateBucket.
	CreatedBucket = session.CreatedBucket

	// ToggleResult describes the outcome of ToggleBucket.
	ToggleResult = session.ToggleResult

	// ViewEntry is one row of a bucket's content listing.
	ViewEntry = bucket.ViewEntry

	// Mode is the visualization mode of a session.
	Mode = session.Mode
)

// Visualization modes.
const (
	ModeGrid   = session.ModeGrid
	ModeTetris = session.ModeTetris
)

// Transfer modes for moving images between buckets.
const (
	TransferMove = session.TransferMove
	TransferCopy = session.TransferCopy
)

// DiscardID is the fixed id of the discard pile.
const DiscardID = bucket.DiscardID

// Collection is a processed image collection: the compressed feature store
// and the product-quantized index, aligned to one canonical image ordering.
// A Collection is immutable and safe to share between sessions.
type Collection struct {
	fs       *feature.Store
	ci       *index.CollectionIndex
	manifest *store.Manifest
	opts     options
}

// Open loads a processed collection directory.
func Open(dir string, optFns ...Option) (*Collection, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	fs, ci, manifest, err := store.OpenCollection(dir)
	err = translateError(err)
	opts.logger.LogOpen(context.Background(), dir, safeN(fs), err)
	if err != nil {
		return nil, err
	}

	return &Collection{fs: fs, ci: ci, manifest: manifest, opts: opts}, nil
}

// New wraps an in-memory feature store and collection index, bypassing the
// on-disk artifact format. Both must describe the same images in the same
// order.
func New(fs *feature.Store, ci *index.CollectionIndex, optFns ...Option) (*Collection, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if fs.N() != ci.N() {
		return nil, translateError(&session.ErrCollectionMismatch{Features: fs.N(), Index: ci.N()})
	}
	if d := ci.Quantizer().Dimension(); d != fs.Dim() {
		return nil, translateError(&session.ErrDimensionMismatch{Features: fs.Dim(), Index: d})
	}

	return &Collection{fs: fs, ci: ci, opts: opts}, nil
}

// N returns the number of images in the collection.
func (c *Collection) N() int { return c.fs.N() }

// Dim returns the feature dimensionality.
func (c *Collection) Dim() int { return c.fs.Dim() }

// Manifest returns the processing manifest, or nil for in-memory
// collections.
func (c *Collection) Manifest() *store.Manifest { return c.manifest }

// NewSession starts an interactive triage session over the collection. Each
// session carries independent bucket state; sessions never see each other.
func (c *Collection) NewSession() (*Session, error) {
	sess, err := session.New(c.fs, c.ci, session.Config{
		GridRows:         c.opts.gridRows,
		GridCols:         c.opts.gridCols,
		RandomSuggChance: c.opts.randomSuggChance,
		ALRatio:          c.opts.alRatio,
		Seed:             c.opts.seed,
		Logger:           c.opts.logger.Logger,
	})
	if err != nil {
		return nil, translateError(err)
	}

	return &Session{inner: sess, logger: c.opts.logger}, nil
}

// Session is one analyst's triage of a collection. All methods are safe for
// concurrent use; errors surface as one of the package error kinds.
type Session struct {
	inner  *session.Session
	logger *Logger
}

// InteractionRound applies the analyst's feedback, retrains the affected
// bucket models and returns the next round of suggestions.
func (s *Session) InteractionRound(ctx context.Context, feedback Feedback) (*RoundResult, error) {
	res, err := s.inner.InteractionRound(feedback)
	err = translateError(err)
	s.logger.LogRound(ctx, string(s.inner.Mode()), len(feedback), countSuggestions(res), err)
	return res, err
}

// ToggleMode switches between grid and tetris and returns a fresh round in
// the new mode.
func (s *Session) ToggleMode(ctx context.Context) (*RoundResult, error) {
	res, err := s.inner.ToggleMode()
	err = translateError(err)
	s.logger.LogRound(ctx, string(s.inner.Mode()), 0, countSuggestions(res), err)
	return res, err
}

// GridSetSize resizes one grid dimension ("rows" or "cols") and returns a
// fresh round at the new size.
func (s *Session) GridSetSize(ctx context.Context, dim string, size int) (*RoundResult, error) {
	res, err := s.inner.GridSetSize(dim, size)
	err = translateError(err)
	s.logger.LogRound(ctx, string(s.inner.Mode()), 0, countSuggestions(res), err)
	return res, err
}

// Mode returns the current visualization mode.
func (s *Session) Mode() Mode { return s.inner.Mode() }

// GridSize returns the current grid dimensions.
func (s *Session) GridSize() (rows, cols int) { return s.inner.GridSize() }

// CreateBucket adds a new empty bucket.
func (s *Session) CreateBucket() (CreatedBucket, error) {
	res, err := s.inner.CreateBucket()
	return res, translateError(err)
}

// DeleteBucket removes a bucket irreversibly.
func (s *Session) DeleteBucket(id int) error {
	return translateError(s.inner.DeleteBucket(id))
}

// RenameBucket sets a bucket's display name, truncated to the name cap.
func (s *Session) RenameBucket(id int, name string) error {
	return translateError(s.inner.RenameBucket(id, name))
}

// SwapBuckets exchanges two buckets' display positions.
func (s *Session) SwapBuckets(id1, id2 int) error {
	return translateError(s.inner.SwapBuckets(id1, id2))
}

// ToggleBucket flips a bucket between active and inactive.
func (s *Session) ToggleBucket(id int) (ToggleResult, error) {
	res, err := s.inner.ToggleBucket(id)
	return res, translateError(err)
}

// BucketInfo compiles the bucket overview for the UI.
func (s *Session) BucketInfo() Info {
	return s.inner.BucketInfo()
}

// BucketViewData lists a bucket's contents sorted by the given mode.
func (s *Session) BucketViewData(id int, sortBy string) ([]ViewEntry, error) {
	res, err := s.inner.BucketViewData(id, sortBy)
	return res, translateError(err)
}

// TransferImages moves or copies images between two buckets.
func (s *Session) TransferImages(ctx context.Context, images []int, src, dst int, mode string) error {
	err := translateError(s.inner.TransferImages(images, src, dst, mode))
	s.logger.LogTransfer(ctx, src, dst, mode, len(images), err)
	return err
}

// FastForward stages the n best unseen candidates for the given bucket. The
// stage must be committed or discarded before another one can be opened.
func (s *Session) FastForward(ctx context.Context, bucketID, n int) error {
	err := translateError(s.inner.FastForward(bucketID, n))
	s.logger.LogFastForward(ctx, bucketID, "staged", err)
	return err
}

// FFCommit confirms the staged fast-forward, assigning the surviving
// candidates to the bucket.
func (s *Session) FFCommit(ctx context.Context, bucketID int) error {
	err := translateError(s.inner.FFCommit(bucketID))
	s.logger.LogFastForward(ctx, bucketID, "committed", err)
	return err
}

// FFDiscard abandons the staged fast-forward without assigning anything.
func (s *Session) FFDiscard(ctx context.Context, bucketID int) error {
	err := translateError(s.inner.FFDiscard(bucketID))
	s.logger.LogFastForward(ctx, bucketID, "discarded", err)
	return err
}

func safeN(fs *feature.Store) int {
	if fs == nil {
		return 0
	}
	return fs.N()
}

func countSuggestions(res *RoundResult) int {
	switch {
	case res == nil:
		return 0
	case res.Grid != nil:
		return len(res.Grid.Images)
	case res.Tetris != nil:
		return 1
	default:
		return 0
	}
}
