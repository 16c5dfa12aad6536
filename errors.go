package imgsieve

import (
	"errors"
	"fmt"

	"github.com/hupe1980/imgsieve/bucket"
	"github.com/hupe1980/imgsieve/quantization"
	"github.com/hupe1980/imgsieve/session"
	"github.com/hupe1980/imgsieve/store"
)

var (
	// ErrNotFound marks references to unknown buckets, images or
	// collections.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation marks requests that violate a stated
	// precondition, such as copying into the discard pile or staging a
	// second fast-forward. Nothing is mutated.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConfiguration marks fatal processing-time misconfiguration, such
	// as a feature dimensionality not divisible by the segment count or
	// mismatched collection artifacts.
	ErrConfiguration = errors.New("configuration error")
)

// translateError normalizes package-level errors into the three outward
// kinds while keeping the original error reachable via errors.Is/As.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	var bnf *session.ErrBucketNotFound
	if errors.As(err, &bnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Precondition violations.
	for _, precondition := range []error{
		session.ErrLastBucket,
		session.ErrTooManyBuckets,
		session.ErrTooManyActiveBuckets,
		session.ErrDiscardImmutable,
		session.ErrDiscardCopy,
		session.ErrFastForwardPending,
		session.ErrNoFastForwardPending,
		session.ErrBucketNotTrained,
		session.ErrNoTrainedBuckets,
		bucket.ErrEmptyName,
	} {
		if errors.Is(err, precondition) {
			return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
		}
	}

	var (
		sortErr  *bucket.ErrInvalidSort
		modeErr  *session.ErrInvalidTransferMode
		dimErr   *session.ErrInvalidGridDim
		sizeErr  *session.ErrInvalidGridSize
		ffErr    *session.ErrInvalidFastForwardCount
		arityErr *session.ErrTetrisFeedbackArity
	)
	switch {
	case errors.As(err, &sortErr),
		errors.As(err, &modeErr),
		errors.As(err, &dimErr),
		errors.As(err, &sizeErr),
		errors.As(err, &ffErr),
		errors.As(err, &arityErr):
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	// Processing-time configuration faults.
	var indivisible *quantization.ErrIndivisibleDimension
	if errors.As(err, &indivisible) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	var (
		mismatch *session.ErrCollectionMismatch
		dims     *session.ErrDimensionMismatch
	)
	if errors.As(err, &mismatch) || errors.As(err, &dims) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	for _, artifact := range []error{
		store.ErrInvalidMagic,
		store.ErrInvalidVersion,
		store.ErrInvalidCodec,
		store.ErrChecksum,
		store.ErrCorrupt,
	} {
		if errors.Is(err, artifact) {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	return err
}
