package session

import (
	"errors"
	"fmt"
)

var (
	// ErrLastBucket rejects deleting the only remaining bucket.
	ErrLastBucket = errors.New("at least one bucket must exist")

	// ErrTooManyBuckets rejects bucket creation beyond the session cap.
	ErrTooManyBuckets = errors.New("maximum number of buckets reached")

	// ErrTooManyActiveBuckets rejects activating a bucket beyond the
	// active cap.
	ErrTooManyActiveBuckets = errors.New("maximum number of active buckets reached")

	// ErrDiscardImmutable rejects renaming or deleting the discard pile.
	ErrDiscardImmutable = errors.New("the discard pile cannot be renamed or deleted")

	// ErrDiscardCopy rejects a copy transfer involving the discard pile: an
	// image cannot be both relevant and discarded.
	ErrDiscardCopy = errors.New("cannot copy images from/to the discard pile, use move")

	// ErrFastForwardPending rejects staging a second fast-forward while one
	// is uncommitted.
	ErrFastForwardPending = errors.New("a fast-forward is already pending")

	// ErrNoFastForwardPending rejects committing or dropping a fast-forward
	// that was never staged.
	ErrNoFastForwardPending = errors.New("no fast-forward is pending for this bucket")

	// ErrBucketNotTrained rejects operations that need a trained model,
	// such as fast-forwarding an unlabeled bucket.
	ErrBucketNotTrained = errors.New("bucket model has no positive examples yet")

	// ErrNoTrainedBuckets rejects a discard-pile fast-forward when no bucket
	// model can decide what to discard.
	ErrNoTrainedBuckets = errors.New("no trained bucket models to pick discards from")
)

// ErrCollectionMismatch reports a feature store and a collection index with
// different image counts: they cannot come from the same processing run.
type ErrCollectionMismatch struct {
	Features int
	Index    int
}

func (e *ErrCollectionMismatch) Error() string {
	return fmt.Sprintf("feature store holds %d images but the index holds %d", e.Features, e.Index)
}

// ErrDimensionMismatch reports a feature store and a collection index built
// over different concept-space dimensionalities.
type ErrDimensionMismatch struct {
	Features int
	Index    int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("feature store dimensionality %d does not match index dimensionality %d", e.Features, e.Index)
}

// ErrBucketNotFound reports a reference to a bucket id this session does not
// have.
type ErrBucketNotFound struct {
	ID int
}

func (e *ErrBucketNotFound) Error() string {
	return fmt.Sprintf("bucket %d not found", e.ID)
}

// ErrInvalidTransferMode reports a transfer mode other than move or copy.
type ErrInvalidTransferMode struct {
	Mode string
}

func (e *ErrInvalidTransferMode) Error() string {
	return fmt.Sprintf("invalid transfer mode %q", e.Mode)
}

// ErrInvalidGridDim reports a grid resize along an unknown axis.
type ErrInvalidGridDim struct {
	Dim string
}

func (e *ErrInvalidGridDim) Error() string {
	return fmt.Sprintf("invalid grid dimension %q, want rows or cols", e.Dim)
}

// ErrInvalidGridSize reports a grid resize outside the allowed range.
type ErrInvalidGridSize struct {
	Dim  string
	Size int
	Max  int
}

func (e *ErrInvalidGridSize) Error() string {
	return fmt.Sprintf("grid %s must be between 1 and %d, got %d", e.Dim, e.Max, e.Size)
}

// ErrTetrisFeedbackArity reports a tetris round carrying more than the one
// in-flight feedback pair.
type ErrTetrisFeedbackArity struct {
	N int
}

func (e *ErrTetrisFeedbackArity) Error() string {
	return fmt.Sprintf("tetris rounds take at most one feedback entry, got %d", e.N)
}

// ErrInvalidFastForwardCount reports a non-positive fast-forward size.
type ErrInvalidFastForwardCount struct {
	N int
}

func (e *ErrInvalidFastForwardCount) Error() string {
	return fmt.Sprintf("fast-forward count must be positive, got %d", e.N)
}
