// Package bucket implements analyst-defined relevance categories and their
// online models.
//
// Every bucket owns one Model trained from the analyst's labels. The discard
// pile (bucket id 0) looks like a bucket from the outside but has no model
// of its own; see DiscardPile.
package bucket

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/imgsieve/feature"
)

const (
	// MaxNameLength is the display-name cap; longer names are truncated.
	MaxNameLength = 16

	// NumArchetypes is the number of representative exemplars reported per
	// bucket.
	NumArchetypes = 3
)

// DiscardID is the reserved id of the discard pile.
const DiscardID = 0

// Sort modes for bucket views.
const (
	SortConfidence  = "confidence"
	SortNewestFirst = "newest_first"
	SortOldestFirst = "oldest_first"
	SortFastForward = "fast_forward"
)

// ErrEmptyName is returned when a bucket rename carries no name at all.
var ErrEmptyName = errors.New("bucket name must not be empty")

// ErrInvalidSort is returned for an unknown bucket-view sort mode.
type ErrInvalidSort struct {
	Mode string
}

func (e *ErrInvalidSort) Error() string {
	return fmt.Sprintf("invalid sort mode %q", e.Mode)
}

// Info is the outward description of a bucket.
type Info struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Color          string  `json:"color"`
	Active         bool    `json:"active"`
	NumImages      int     `json:"n_images"`
	Ordering       int     `json:"ordering"`
	BannerOrdering *int    `json:"banner_ordering"`
	Archetypes     []int   `json:"archetypes"`
	Precision      float64 `json:"precision"`
}

// ViewEntry is one image row of a bucket view.
type ViewEntry struct {
	ID              int     `json:"id"`
	Confidence      float64 `json:"confidence"`
	ConfidenceColor string  `json:"confidence_color"`
	IsFastForward   bool    `json:"is_fast_forward"`
}

// Bucket is one analyst-defined category: identity, display attributes,
// ordered membership and the trained model state.
type Bucket struct {
	id       int
	name     string
	color    string
	ordering int
	active   bool

	store *feature.Store

	members   []int // insertion order = recency
	memberSet *roaring.Bitmap
	confs     []float64 // aligned to members

	model *Model

	// Suggestion bookkeeping feeding the precision estimate.
	nGoodSuggs   int
	nJudgedSuggs int

	outstandingAL *roaring.Bitmap

	// Staged (uncommitted) fast-forward.
	ffStaged []int
	ffConfs  []float64
	ffBad    []int
}

// New creates an empty bucket.
func New(id int, name string, active bool, ordering int, store *feature.Store, color string) *Bucket {
	return &Bucket{
		id:            id,
		name:          truncateName(name),
		color:         color,
		ordering:      ordering,
		active:        active,
		store:         store,
		memberSet:     roaring.New(),
		model:         NewModel(store.Dim()),
		outstandingAL: roaring.New(),
	}
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		runes = runes[:MaxNameLength]
	}
	return string(runes)
}

// ID returns the bucket id.
func (b *Bucket) ID() int { return b.id }

// Name returns the display name.
func (b *Bucket) Name() string { return b.name }

// Color returns the bucket color.
func (b *Bucket) Color() string { return b.color }

// Active reports whether the bucket takes part in scoring and candidate
// assignment.
func (b *Bucket) Active() bool { return b.active }

// SetActive toggles the bucket. Inactive buckets keep their model and
// membership untouched.
func (b *Bucket) SetActive(active bool) { b.active = active }

// Ordering returns the display position.
func (b *Bucket) Ordering() int { return b.ordering }

// SetOrdering updates the display position.
func (b *Bucket) SetOrdering(o int) { b.ordering = o }

// Trained reports whether the bucket's model has positive examples.
func (b *Bucket) Trained() bool { return b.model.Trained() }

// Model returns the bucket's relevance model.
func (b *Bucket) Model() *Model { return b.model }

// Len returns the number of member images.
func (b *Bucket) Len() int { return len(b.members) }

// Contains reports whether the image is a member.
func (b *Bucket) Contains(id int) bool {
	return b.memberSet.Contains(uint32(id))
}

// Members returns the member ids in insertion order.
func (b *Bucket) Members() []int {
	out := make([]int, len(b.members))
	copy(out, b.members)
	return out
}

// MemberSet returns a copy of the membership bitmap.
func (b *Bucket) MemberSet() *roaring.Bitmap {
	return b.memberSet.Clone()
}

// Rename sets a new display name, truncated to MaxNameLength characters.
func (b *Bucket) Rename(name string) error {
	if name == "" {
		return ErrEmptyName
	}

	b.name = truncateName(name)
	return nil
}

// Info compiles the outward bucket description. Banner ordering is filled in
// by the session, which knows the active set.
func (b *Bucket) Info() Info {
	return Info{
		ID:         b.id,
		Name:       b.name,
		Color:      b.color,
		Active:     b.active,
		NumImages:  len(b.members),
		Ordering:   b.ordering,
		Archetypes: b.Archetypes(),
		Precision:  b.Precision(),
	}
}

// Precision estimates how well the bucket's suggestions match the analyst's
// judgments so far.
func (b *Bucket) Precision() float64 {
	if b.nJudgedSuggs == 0 {
		return 1
	}
	return float64(b.nGoodSuggs) / float64(b.nJudgedSuggs)
}

// SetALQueries records the outstanding active-learning queries issued for
// this bucket in the current round.
func (b *Bucket) SetALQueries(ids []int) {
	b.outstandingAL.Clear()
	for _, id := range ids {
		b.outstandingAL.Add(uint32(id))
	}
}

// Feedback incorporates one round of labels split by how the image reached
// the bucket:
//
//   - good: suggested for this bucket and confirmed by the analyst
//   - neutral: assigned here without having been suggested
//   - bad: suggested here but sent elsewhere (or discarded)
//
// Responses to outstanding active-learning queries are re-binned first: a
// confirmed AL query is a neutral assignment, a rejected one trains as a
// negative without hurting the precision estimate.
func (b *Bucket) Feedback(good, neutral, bad []int) {
	if len(good) == 0 && len(neutral) == 0 && len(bad) == 0 {
		return
	}

	if !b.outstandingAL.IsEmpty() {
		good, neutral, bad = b.rebinALResponses(good, neutral, bad)
		b.outstandingAL.Clear()
	}

	b.nGoodSuggs += len(good)
	b.nJudgedSuggs += len(good) + len(bad)

	var added []int
	for _, id := range append(append([]int{}, good...), neutral...) {
		if b.memberSet.Contains(uint32(id)) {
			continue
		}
		b.memberSet.Add(uint32(id))
		b.members = append(b.members, id)
		added = append(added, id)
	}

	b.model.Update(b.store, added, bad)
	b.refreshConfidences()
}

func (b *Bucket) rebinALResponses(good, neutral, bad []int) (g, n, bd []int) {
	n = neutral

	for _, id := range good {
		if b.outstandingAL.Contains(uint32(id)) {
			n = append(n, id)
		} else {
			g = append(g, id)
		}
	}

	var alNegatives []int
	for _, id := range bad {
		if b.outstandingAL.Contains(uint32(id)) {
			alNegatives = append(alNegatives, id)
		} else {
			bd = append(bd, id)
		}
	}

	// AL rejections still train the model as negatives; routing them through
	// bad would also penalize precision, which a deliberate uncertainty
	// probe must not do.
	if len(alNegatives) > 0 {
		b.model.Update(b.store, nil, alNegatives)
	}

	return g, n, bd
}

// Remove takes images out of the bucket, retracting their training
// contribution. Images found only in the staged fast-forward are moved to
// its rejected list. Unknown ids are dropped and reported back; the rest of
// the batch still applies.
func (b *Bucket) Remove(ids []int) (removed, dropped []int) {
	for _, id := range ids {
		if b.memberSet.Contains(uint32(id)) {
			b.memberSet.Remove(uint32(id))
			for i, m := range b.members {
				if m == id {
					b.members = append(b.members[:i], b.members[i+1:]...)
					b.confs = append(b.confs[:i], b.confs[i+1:]...)
					break
				}
			}
			removed = append(removed, id)
			continue
		}

		if i := indexOf(b.ffStaged, id); i >= 0 {
			b.ffStaged = append(b.ffStaged[:i], b.ffStaged[i+1:]...)
			b.ffConfs = append(b.ffConfs[:i], b.ffConfs[i+1:]...)
			b.ffBad = append(b.ffBad, id)
			continue
		}

		dropped = append(dropped, id)
	}

	if len(removed) > 0 {
		b.model.RemovePositives(b.store, removed)
		b.refreshConfidences()
	}

	return removed, dropped
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Confidence scores one image against the bucket's model.
func (b *Bucket) Confidence(id int) float64 {
	feat, ok := b.store.Get(id)
	if !ok {
		return 0
	}
	return b.model.Score(feat)
}

func (b *Bucket) refreshConfidences() {
	b.confs = make([]float64, len(b.members))
	for i, id := range b.members {
		b.confs[i] = b.Confidence(id)
	}
}

// Archetypes returns the bucket's most representative labeled members:
// the highest-confidence ones, capped at NumArchetypes.
func (b *Bucket) Archetypes() []int {
	if len(b.members) <= NumArchetypes {
		return b.Members()
	}

	order := make([]int, len(b.members))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return b.confs[order[x]] > b.confs[order[y]]
	})

	out := make([]int, NumArchetypes)
	for i := 0; i < NumArchetypes; i++ {
		out[i] = b.members[order[i]]
	}
	return out
}

// StageFastForward records a pending, uncommitted bulk assignment. Any
// previously staged fast-forward is replaced.
func (b *Bucket) StageFastForward(ids []int) {
	b.ffStaged = append([]int{}, ids...)
	b.ffConfs = make([]float64, len(ids))
	for i, id := range ids {
		b.ffConfs[i] = b.Confidence(id)
	}
	b.ffBad = nil
}

// StagedFastForward returns the currently staged candidate ids.
func (b *Bucket) StagedFastForward() []int {
	out := make([]int, len(b.ffStaged))
	copy(out, b.ffStaged)
	return out
}

// RejectedFastForward returns the ids the analyst explicitly removed from the
// staged fast-forward.
func (b *Bucket) RejectedFastForward() []int {
	out := make([]int, len(b.ffBad))
	copy(out, b.ffBad)
	return out
}

// HasStagedFastForward reports whether a fast-forward is pending.
func (b *Bucket) HasStagedFastForward() bool {
	return len(b.ffStaged) > 0 || len(b.ffBad) > 0
}

// CommitFastForward finalizes the staged assignment: remaining staged images
// join the bucket as confirmed suggestions, explicitly removed ones train as
// negatives. Returns the committed ids.
func (b *Bucket) CommitFastForward() []int {
	committed := b.ffStaged

	b.Feedback(committed, nil, b.ffBad)

	b.ffStaged = nil
	b.ffConfs = nil
	b.ffBad = nil

	return committed
}

// DiscardFastForward drops the staged assignment without touching bucket
// state.
func (b *Bucket) DiscardFastForward() {
	b.ffStaged = nil
	b.ffConfs = nil
	b.ffBad = nil
}

// ViewData produces the bucket's contents for display, sorted by the given
// mode. The fast_forward mode lists staged entries first, flagged, then the
// members by descending confidence.
func (b *Bucket) ViewData(sortBy string) ([]ViewEntry, error) {
	entry := func(i int) ViewEntry {
		return ViewEntry{
			ID:              b.members[i],
			Confidence:      b.confs[i],
			ConfidenceColor: ConfidenceColor(b.color, b.confs[i]),
		}
	}

	switch sortBy {
	case SortConfidence, SortFastForward:
		order := make([]int, len(b.members))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(x, y int) bool {
			return b.confs[order[x]] > b.confs[order[y]]
		})

		var out []ViewEntry

		if sortBy == SortFastForward {
			ffOrder := make([]int, len(b.ffStaged))
			for i := range ffOrder {
				ffOrder[i] = i
			}
			sort.SliceStable(ffOrder, func(x, y int) bool {
				return b.ffConfs[ffOrder[x]] > b.ffConfs[ffOrder[y]]
			})

			for _, i := range ffOrder {
				out = append(out, ViewEntry{
					ID:              b.ffStaged[i],
					Confidence:      b.ffConfs[i],
					ConfidenceColor: ConfidenceColor(b.color, b.ffConfs[i]),
					IsFastForward:   true,
				})
			}
		}

		for _, i := range order {
			out = append(out, entry(i))
		}
		return out, nil

	case SortNewestFirst:
		out := make([]ViewEntry, 0, len(b.members))
		for i := len(b.members) - 1; i >= 0; i-- {
			out = append(out, entry(i))
		}
		return out, nil

	case SortOldestFirst:
		out := make([]ViewEntry, 0, len(b.members))
		for i := range b.members {
			out = append(out, entry(i))
		}
		return out, nil

	default:
		return nil, &ErrInvalidSort{Mode: sortBy}
	}
}
