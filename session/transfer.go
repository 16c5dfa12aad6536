package session

import (
	"log/slog"

	"github.com/hupe1980/imgsieve/bucket"
)

// Transfer modes.
const (
	TransferMove = "move"
	TransferCopy = "copy"
)

// TransferImages moves or copies images between two buckets. Copy transfers
// involving the discard pile are rejected before any mutation: an image
// cannot be both relevant and discarded. Unknown image ids are dropped from
// the batch; the rest still applies. Every bucket whose membership changed
// retrains from the delta.
func (s *Session) TransferImages(images []int, src, dst int, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode != TransferMove && mode != TransferCopy {
		return &ErrInvalidTransferMode{Mode: mode}
	}
	if mode == TransferCopy && (src == bucket.DiscardID || dst == bucket.DiscardID) {
		return ErrDiscardCopy
	}

	// Resolve both endpoints before touching anything.
	var srcBucket, dstBucket *bucket.Bucket
	if src != bucket.DiscardID {
		b, ok := s.buckets[src]
		if !ok {
			return &ErrBucketNotFound{ID: src}
		}
		srcBucket = b
	}
	if dst != bucket.DiscardID {
		b, ok := s.buckets[dst]
		if !ok {
			return &ErrBucketNotFound{ID: dst}
		}
		dstBucket = b
	}

	valid, dropped := s.splitKnownImages(images)
	if len(dropped) > 0 {
		s.logger.Warn("dropped transfer entries", slog.Any("images", dropped))
	}

	if mode == TransferMove {
		if srcBucket == nil {
			s.discard.Restore(valid)
		} else {
			srcBucket.Remove(valid)
		}
	}

	if dstBucket == nil {
		s.discard.Discard(valid)
	} else {
		dstBucket.Feedback(nil, valid, nil)
	}

	s.logger.Debug("images transferred",
		slog.Int("n_images", len(valid)),
		slog.Int("src", src),
		slog.Int("dst", dst),
		slog.String("mode", mode),
	)

	return nil
}

// splitKnownImages partitions ids into those the collection holds and the
// rest.
func (s *Session) splitKnownImages(ids []int) (valid, dropped []int) {
	for _, id := range ids {
		if id < 0 || id >= s.store.N() {
			dropped = append(dropped, id)
			continue
		}
		valid = append(valid, id)
	}
	return valid, dropped
}

// FastForward stages the bucket's top-n unlabeled candidates as a pending,
// uncommitted bulk assignment. For the discard pile the n slots are split
// across all trained buckets and filled with their worst-scored candidates.
// Only one fast-forward may be pending per session.
func (s *Session) FastForward(bucketID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return &ErrInvalidFastForwardCount{N: n}
	}
	if s.pendingFF != noSuggestion {
		return ErrFastForwardPending
	}

	if bucketID == bucket.DiscardID {
		if err := s.stageDiscardFastForwardLocked(n); err != nil {
			return err
		}
	} else {
		b, ok := s.buckets[bucketID]
		if !ok {
			return &ErrBucketNotFound{ID: bucketID}
		}
		if !b.Trained() {
			return ErrBucketNotTrained
		}

		scores, err := s.index.Score(b.Model().Weights())
		if err != nil {
			return err
		}

		excl := s.baseExclusionLocked()
		excl.Or(b.MemberSet())

		b.StageFastForward(topByScore(scores, excl, n))
	}

	s.pendingFF = bucketID

	s.logger.Info("fast-forward staged",
		slog.Int("bucket_id", bucketID),
		slog.Int("n", n),
	)

	return nil
}

// stageDiscardFastForwardLocked fills a discard fast-forward with the images
// the trained bucket models agree are least likely to be relevant.
func (s *Session) stageDiscardFastForwardLocked(n int) error {
	trained := s.trainedBucketsLocked()
	if len(trained) == 0 {
		return ErrNoTrainedBuckets
	}

	excl := s.baseExclusionLocked()

	per, extra := n/len(trained), n%len(trained)

	var picks []int
	for i, b := range trained {
		quota := per
		if i < extra {
			quota++
		}
		if quota == 0 {
			continue
		}

		scores, err := s.index.Score(b.Model().Weights())
		if err != nil {
			return err
		}

		bucketExcl := excl.Clone()
		bucketExcl.Or(b.MemberSet())

		for _, id := range bottomByScore(scores, bucketExcl, quota) {
			picks = append(picks, id)
			excl.Add(uint32(id))
		}
	}

	s.discard.StageFastForward(picks)
	return nil
}

// FFCommit finalizes the pending fast-forward: the staged images join the
// bucket as confirmed assignments (retraining its model), explicitly removed
// ones train as negatives, and everything judged counts as seen.
func (s *Session) FFCommit(bucketID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingFF != bucketID {
		return ErrNoFastForwardPending
	}

	var committed int

	if bucketID == bucket.DiscardID {
		ids := s.discard.CommitFastForward()
		s.seen.AddAll(ids)
		committed = len(ids)
	} else {
		b := s.buckets[bucketID]
		rejected := b.RejectedFastForward()
		ids := b.CommitFastForward()
		s.seen.AddAll(ids)
		s.seen.AddAll(rejected)
		committed = len(ids)
	}

	s.pendingFF = noSuggestion

	s.logger.Info("fast-forward committed",
		slog.Int("bucket_id", bucketID),
		slog.Int("n_committed", committed),
	)

	return nil
}

// FFDiscard drops the pending fast-forward without committing, leaving the
// bucket state untouched.
func (s *Session) FFDiscard(bucketID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingFF != bucketID {
		return ErrNoFastForwardPending
	}

	if bucketID == bucket.DiscardID {
		s.discard.DiscardFastForward()
	} else {
		s.buckets[bucketID].DiscardFastForward()
	}

	s.pendingFF = noSuggestion

	return nil
}
