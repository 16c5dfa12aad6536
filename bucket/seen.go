package bucket

import (
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2"
)

// SeenSet tracks the images already shown to the analyst in a session. It is
// shared across all buckets; without central bookkeeping different buckets
// would keep suggesting the same images.
type SeenSet struct {
	seen *roaring.Bitmap
	n    int
}

// NewSeenSet creates an empty seen set over a collection of n images.
func NewSeenSet(n int) *SeenSet {
	return &SeenSet{seen: roaring.New(), n: n}
}

// Add marks a single image as seen.
func (ss *SeenSet) Add(id int) {
	ss.seen.Add(uint32(id))
}

// AddAll marks a batch of images as seen.
func (ss *SeenSet) AddAll(ids []int) {
	for _, id := range ids {
		ss.seen.Add(uint32(id))
	}
}

// Contains reports whether the image was shown before.
func (ss *SeenSet) Contains(id int) bool {
	return ss.seen.Contains(uint32(id))
}

// Len returns the number of seen images.
func (ss *SeenSet) Len() int {
	return int(ss.seen.GetCardinality())
}

// N returns the collection size.
func (ss *SeenSet) N() int { return ss.n }

// Bitmap returns a copy of the underlying bitmap, for use as an exclusion
// mask.
func (ss *SeenSet) Bitmap() *roaring.Bitmap {
	return ss.seen.Clone()
}

// SampleUnseen uniformly samples up to count unseen images, skipping any id
// present in exclude (which may be nil). Returns fewer than count when the
// collection runs out of unseen images.
func (ss *SeenSet) SampleUnseen(count int, exclude *roaring.Bitmap, rng *rand.Rand) []int {
	if count <= 0 {
		return nil
	}

	blocked := ss.seen.Clone()
	if exclude != nil {
		blocked.Or(exclude)
	}

	avail := ss.n - int(blocked.GetCardinality())
	if avail <= 0 {
		return nil
	}

	if count >= avail {
		// Everything unseen qualifies.
		out := make([]int, 0, avail)
		for id := 0; id < ss.n; id++ {
			if !blocked.Contains(uint32(id)) {
				out = append(out, id)
			}
		}
		return out
	}

	// Rejection sampling; the unseen fraction dominates in practice.
	picked := roaring.New()
	out := make([]int, 0, count)
	for len(out) < count {
		id := rng.Intn(ss.n)
		if blocked.Contains(uint32(id)) || picked.Contains(uint32(id)) {
			continue
		}
		picked.Add(uint32(id))
		out = append(out, id)
	}

	return out
}
