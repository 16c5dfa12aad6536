package bucket

import "github.com/RoaringBitmap/roaring/v2"

// DiscardPile holds the images the analyst rejected. From the outside it
// behaves like a bucket with the reserved id 0, but it has no model: its
// fast-forward candidates are the strongest rejects across the trained
// buckets, picked by the session.
type DiscardPile struct {
	pile    []int
	pileSet *roaring.Bitmap

	ffStaged []int
}

// NewDiscardPile creates an empty discard pile.
func NewDiscardPile() *DiscardPile {
	return &DiscardPile{pileSet: roaring.New()}
}

// Discard adds images to the pile.
func (dp *DiscardPile) Discard(ids []int) {
	for _, id := range ids {
		if dp.pileSet.Contains(uint32(id)) {
			continue
		}
		dp.pileSet.Add(uint32(id))
		dp.pile = append(dp.pile, id)
	}
}

// Restore removes images from the pile (or from the staged fast-forward),
// e.g. when the analyst moves them back into a bucket. Unknown ids are
// dropped and reported back.
func (dp *DiscardPile) Restore(ids []int) (restored, dropped []int) {
	for _, id := range ids {
		if dp.pileSet.Contains(uint32(id)) {
			dp.pileSet.Remove(uint32(id))
			if i := indexOf(dp.pile, id); i >= 0 {
				dp.pile = append(dp.pile[:i], dp.pile[i+1:]...)
			}
			restored = append(restored, id)
			continue
		}

		if i := indexOf(dp.ffStaged, id); i >= 0 {
			dp.ffStaged = append(dp.ffStaged[:i], dp.ffStaged[i+1:]...)
			restored = append(restored, id)
			continue
		}

		dropped = append(dropped, id)
	}

	return restored, dropped
}

// Contains reports whether the image is discarded.
func (dp *DiscardPile) Contains(id int) bool {
	return dp.pileSet.Contains(uint32(id))
}

// Len returns the pile size.
func (dp *DiscardPile) Len() int { return len(dp.pile) }

// Members returns the discarded ids in insertion order.
func (dp *DiscardPile) Members() []int {
	out := make([]int, len(dp.pile))
	copy(out, dp.pile)
	return out
}

// MemberSet returns a copy of the pile bitmap.
func (dp *DiscardPile) MemberSet() *roaring.Bitmap {
	return dp.pileSet.Clone()
}

// Info describes the discard pile as a pseudo-bucket. Ordering and banner
// ordering are filled in by the session.
func (dp *DiscardPile) Info() Info {
	return Info{
		ID:         DiscardID,
		Name:       "Discard pile",
		Color:      DiscardColor,
		Active:     true,
		NumImages:  len(dp.pile),
		Archetypes: []int{},
		Precision:  1,
	}
}

// StageFastForward records a pending discard fast-forward.
func (dp *DiscardPile) StageFastForward(ids []int) {
	dp.ffStaged = append([]int{}, ids...)
}

// StagedFastForward returns the staged candidate ids.
func (dp *DiscardPile) StagedFastForward() []int {
	out := make([]int, len(dp.ffStaged))
	copy(out, dp.ffStaged)
	return out
}

// HasStagedFastForward reports whether a fast-forward is pending.
func (dp *DiscardPile) HasStagedFastForward() bool {
	return len(dp.ffStaged) > 0
}

// CommitFastForward moves the staged images into the pile and returns them.
func (dp *DiscardPile) CommitFastForward() []int {
	committed := dp.ffStaged
	dp.Discard(committed)
	dp.ffStaged = nil
	return committed
}

// DiscardFastForward drops the staged assignment.
func (dp *DiscardPile) DiscardFastForward() {
	dp.ffStaged = nil
}

// ViewData lists the pile for display. There is no model behind the pile, so
// confidence sorting falls back to newest first.
func (dp *DiscardPile) ViewData(sortBy string) ([]ViewEntry, error) {
	entry := func(id int, ff bool) ViewEntry {
		return ViewEntry{ID: id, ConfidenceColor: NeutralColor, IsFastForward: ff}
	}

	switch sortBy {
	case SortConfidence, SortNewestFirst:
		out := make([]ViewEntry, 0, len(dp.pile))
		for i := len(dp.pile) - 1; i >= 0; i-- {
			out = append(out, entry(dp.pile[i], false))
		}
		return out, nil

	case SortOldestFirst:
		out := make([]ViewEntry, 0, len(dp.pile))
		for _, id := range dp.pile {
			out = append(out, entry(id, false))
		}
		return out, nil

	case SortFastForward:
		out := make([]ViewEntry, 0, len(dp.pile)+len(dp.ffStaged))
		for _, id := range dp.ffStaged {
			out = append(out, entry(id, true))
		}
		for _, id := range dp.pile {
			out = append(out, entry(id, false))
		}
		return out, nil

	default:
		return nil, &ErrInvalidSort{Mode: sortBy}
	}
}
