package session

import (
	"log/slog"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/imgsieve/bucket"
)

// suggLineThicknessBase scales the suggestion border: base + confidence*base.
const suggLineThicknessBase = 4.0

// Feedback maps image ids to the bucket the analyst assigned them to. A nil
// value means no opinion; the entry is skipped.
type Feedback map[int]*int

// Suggestion is one candidate image surfaced to the analyst. Bucket is the
// bucket the image is associated with for display (-1 when none),
// SuggLineThickness is nil for pure-exploration picks without a model behind
// them.
type Suggestion struct {
	Image             int      `json:"image"`
	Bucket            int      `json:"bucket"`
	Confidence        float64  `json:"confidence"`
	ConfidenceColor   string   `json:"confidence_color"`
	SuggLineThickness *float64 `json:"sugg_line_thickness"`
	IsALQuery         bool     `json:"is_al_query"`
}

// GridData is the grid-mode round payload: the candidate images plus a
// feedback template pre-initialized to "no opinion" for every candidate.
type GridData struct {
	Rows     int          `json:"n_rows"`
	Cols     int          `json:"n_cols"`
	Images   []Suggestion `json:"grid_images"`
	Feedback Feedback     `json:"feedback"`
}

// RoundResult is the outcome of one interaction round. Exactly one of Grid
// and Tetris is set, matching Mode. A nil Tetris suggestion means the
// collection is exhausted.
type RoundResult struct {
	Mode   Mode        `json:"mode"`
	Grid   *GridData   `json:"grid,omitempty"`
	Tetris *Suggestion `json:"tetris,omitempty"`
}

// InteractionRound applies the analyst's feedback from the previous round and
// produces the next candidate set for the current mode. Tetris rounds judge
// at most the single in-flight image.
func (s *Session) InteractionRound(feedback Feedback) (*RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeTetris && len(feedback) > 1 {
		return nil, &ErrTetrisFeedbackArity{N: len(feedback)}
	}

	s.applyFeedbackLocked(feedback)

	return s.roundLocked(true)
}

// ToggleMode switches between grid and tetris and returns the new mode's
// initial candidate set.
func (s *Session) ToggleMode() (*RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeGrid {
		s.mode = ModeTetris
	} else {
		s.mode = ModeGrid
	}

	s.logger.Debug("mode toggled", slog.String("mode", string(s.mode)))

	return s.roundLocked(true)
}

// GridSetSize resizes the grid along one axis and re-runs a feedback-less
// round to fill the new layout. The explorer keeps its previous picks so a
// resize does not churn the random share.
func (s *Session) GridSetSize(dim string, size int) (*RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch dim {
	case "rows":
		if size < 1 || size > MaxGridRows {
			return nil, &ErrInvalidGridSize{Dim: dim, Size: size, Max: MaxGridRows}
		}
		s.gridRows = size
	case "cols":
		if size < 1 || size > MaxGridCols {
			return nil, &ErrInvalidGridSize{Dim: dim, Size: size, Max: MaxGridCols}
		}
		s.gridCols = size
	default:
		return nil, &ErrInvalidGridDim{Dim: dim}
	}

	return s.roundLocked(false)
}

// applyFeedbackLocked splits the flat feedback bucket-wise into good/neutral/
// bad bins, hands the bins to the buckets for training, discards what the
// analyst discarded and records everything judged as seen. Entries naming
// unknown images or buckets are dropped; the rest of the batch still applies.
func (s *Session) applyFeedbackLocked(feedback Feedback) {
	if len(feedback) == 0 {
		return
	}

	type bins struct {
		good, neutral, bad []int
	}
	perBucket := make(map[int]*bins)
	binsFor := func(id int) *bins {
		b, ok := perBucket[id]
		if !ok {
			b = &bins{}
			perBucket[id] = b
		}
		return b
	}

	var discarded, judged, dropped []int

	images := make([]int, 0, len(feedback))
	for img := range feedback {
		images = append(images, img)
	}
	sort.Ints(images)

	for _, img := range images {
		assignedTo := feedback[img]
		if assignedTo == nil {
			continue
		}
		assigned := *assignedTo

		if img < 0 || img >= s.store.N() {
			dropped = append(dropped, img)
			continue
		}

		suggested, wasSuggested := s.outstanding[img]
		if !wasSuggested {
			suggested = noSuggestion
		}

		if assigned == bucket.DiscardID {
			discarded = append(discarded, img)
			if suggested != noSuggestion {
				b := binsFor(suggested)
				b.bad = append(b.bad, img)
			}
		} else {
			if _, ok := s.buckets[assigned]; !ok {
				dropped = append(dropped, img)
				continue
			}

			switch {
			case suggested == noSuggestion:
				b := binsFor(assigned)
				b.neutral = append(b.neutral, img)
			case suggested == assigned:
				b := binsFor(assigned)
				b.good = append(b.good, img)
			default:
				a := binsFor(assigned)
				a.neutral = append(a.neutral, img)
				b := binsFor(suggested)
				b.bad = append(b.bad, img)
			}
		}

		judged = append(judged, img)
		delete(s.outstanding, img)
	}

	for _, b := range s.orderedBucketsLocked() {
		if bn, ok := perBucket[b.ID()]; ok {
			b.Feedback(bn.good, bn.neutral, bn.bad)
		}
	}

	s.discard.Discard(discarded)
	s.seen.AddAll(judged)

	if len(dropped) > 0 {
		s.logger.Warn("dropped feedback entries", slog.Any("images", dropped))
	}
}

// suggRequest asks for n suggestions from one bucket, or from the random
// explorer when bucketID is noSuggestion.
type suggRequest struct {
	bucketID int
	n        int
}

// roundLocked produces the candidate set for the current mode.
func (s *Session) roundLocked(refreshExplorer bool) (*RoundResult, error) {
	trained := s.activeAndTrainedLocked()

	if s.mode == ModeTetris {
		req := suggRequest{bucketID: noSuggestion, n: 1}
		if len(trained) > 0 && s.rng.Float64() >= s.randomSuggChance {
			req.bucketID = trained[s.rng.Intn(len(trained))].ID()
		}

		suggs, err := s.suggestLocked([]suggRequest{req}, refreshExplorer)
		if err != nil {
			return nil, err
		}

		res := &RoundResult{Mode: ModeTetris}
		if len(suggs) > 0 {
			res.Tetris = &suggs[0]
		}
		return res, nil
	}

	nSuggs := s.gridRows * s.gridCols

	nRandom := nSuggs
	if len(trained) > 0 {
		nRandom = int(math.Round(float64(nSuggs) * s.randomSuggChance))
	}
	nModel := nSuggs - nRandom

	var reqs []suggRequest
	if nModel > 0 && len(trained) > 0 {
		per, extra := nModel/len(trained), nModel%len(trained)
		for i, b := range trained {
			n := per
			if i < extra {
				n++
			}
			if n > 0 {
				reqs = append(reqs, suggRequest{bucketID: b.ID(), n: n})
			}
		}
	}
	if nRandom > 0 {
		reqs = append(reqs, suggRequest{bucketID: noSuggestion, n: nRandom})
	}

	suggs, err := s.suggestLocked(reqs, refreshExplorer)
	if err != nil {
		return nil, err
	}

	grid := &GridData{
		Rows:     s.gridRows,
		Cols:     s.gridCols,
		Images:   suggs,
		Feedback: make(Feedback, len(suggs)),
	}
	for _, sg := range suggs {
		grid.Feedback[sg.Image] = nil
	}

	return &RoundResult{Mode: ModeGrid, Grid: grid}, nil
}

// suggestLocked serves the per-bucket suggestion requests in order, backing
// any shortfall with the random explorer, and records the outstanding
// suggestions for the next feedback round.
func (s *Session) suggestLocked(reqs []suggRequest, refreshExplorer bool) ([]Suggestion, error) {
	roundExcl := s.baseExclusionLocked()
	outstanding := make(map[int]int)

	var (
		suggs   []Suggestion
		nRandom int
	)

	for _, req := range reqs {
		if req.bucketID == noSuggestion {
			nRandom += req.n
			continue
		}

		b := s.buckets[req.bucketID]

		scores, err := s.index.Score(b.Model().Weights())
		if err != nil {
			return nil, err
		}

		excl := roundExcl.Clone()
		excl.Or(b.MemberSet())

		// Roll per slot whether it becomes an active-learning query.
		nAL := 0
		for i := 0; i < req.n; i++ {
			if s.rng.Float64() < s.alRatio {
				nAL++
			}
		}

		alPicks := mostUncertain(scores, excl, nAL)
		for _, id := range alPicks {
			excl.Add(uint32(id))
		}
		b.SetALQueries(alPicks)

		topPicks := topByScore(scores, excl, req.n-nAL)

		for _, id := range topPicks {
			suggs = append(suggs, s.suggestionFor(b, id, false))
			roundExcl.Add(uint32(id))
			outstanding[id] = b.ID()
		}
		for _, id := range alPicks {
			suggs = append(suggs, s.suggestionFor(b, id, true))
			roundExcl.Add(uint32(id))
			outstanding[id] = b.ID()
		}

		if got := len(topPicks) + len(alPicks); got < req.n {
			nRandom += req.n - got
		}
	}

	for _, id := range s.exploreLocked(nRandom, refreshExplorer, roundExcl) {
		suggs = append(suggs, s.explorerSuggestionLocked(id))
		outstanding[id] = noSuggestion
	}

	s.outstanding = outstanding

	return suggs, nil
}

// suggestionFor renders one model pick with its confidence styling.
func (s *Session) suggestionFor(b *bucket.Bucket, id int, isAL bool) Suggestion {
	conf := b.Confidence(id)
	thickness := suggLineThicknessBase + conf*suggLineThicknessBase

	return Suggestion{
		Image:             id,
		Bucket:            b.ID(),
		Confidence:        conf,
		ConfidenceColor:   bucket.ConfidenceColor(b.Color(), conf),
		SuggLineThickness: &thickness,
		IsALQuery:         isAL,
	}
}

// explorerSuggestionLocked renders an explorer pick. When an active trained
// bucket scores the image above zero, the pick carries that bucket as a
// display hint; the hint never counts toward precision.
func (s *Session) explorerSuggestionLocked(id int) Suggestion {
	sugg := Suggestion{
		Image:           id,
		Bucket:          noSuggestion,
		ConfidenceColor: bucket.NeutralColor,
	}

	for _, b := range s.activeAndTrainedLocked() {
		if conf := b.Confidence(id); conf > sugg.Confidence {
			sugg.Confidence = conf
			sugg.Bucket = b.ID()
			sugg.ConfidenceColor = bucket.ConfidenceColor(b.Color(), conf)
		}
	}

	return sugg
}

// exploreLocked samples unseen images uniformly. With refresh false the
// previous picks are kept where still valid, topping up only the shortfall.
func (s *Session) exploreLocked(n int, refresh bool, excl *roaring.Bitmap) []int {
	if n <= 0 {
		return nil
	}

	var picks []int

	if !refresh {
		for _, id := range s.explorerCache {
			if len(picks) == n {
				break
			}
			if excl.Contains(uint32(id)) {
				continue
			}
			picks = append(picks, id)
			excl.Add(uint32(id))
		}
	}

	if len(picks) < n {
		fresh := s.seen.SampleUnseen(n-len(picks), excl, s.rng)
		for _, id := range fresh {
			excl.Add(uint32(id))
		}
		picks = append(picks, fresh...)
	}

	s.explorerCache = picks
	return picks
}

// baseExclusionLocked is the exclusion mask every suggestion draw starts
// from: seen images, the discard pile and anything staged in a pending
// fast-forward.
func (s *Session) baseExclusionLocked() *roaring.Bitmap {
	excl := s.seen.Bitmap()
	excl.Or(s.discard.MemberSet())

	for _, id := range s.discard.StagedFastForward() {
		excl.Add(uint32(id))
	}
	for _, b := range s.buckets {
		for _, id := range b.StagedFastForward() {
			excl.Add(uint32(id))
		}
	}

	return excl
}

// topByScore returns the n allowed images with the highest scores, ties
// broken by lower id for determinism.
func topByScore(scores []float32, excl *roaring.Bitmap, n int) []int {
	return selectByScore(scores, excl, n, func(a, b int) bool {
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return a < b
	})
}

// bottomByScore returns the n allowed images with the lowest scores.
func bottomByScore(scores []float32, excl *roaring.Bitmap, n int) []int {
	return selectByScore(scores, excl, n, func(a, b int) bool {
		if scores[a] != scores[b] {
			return scores[a] < scores[b]
		}
		return a < b
	})
}

// mostUncertain returns the n allowed images whose scores sit closest to the
// decision boundary at zero.
func mostUncertain(scores []float32, excl *roaring.Bitmap, n int) []int {
	abs := func(v float32) float32 {
		if v < 0 {
			return -v
		}
		return v
	}
	return selectByScore(scores, excl, n, func(a, b int) bool {
		if da, db := abs(scores[a]), abs(scores[b]); da != db {
			return da < db
		}
		return a < b
	})
}

func selectByScore(scores []float32, excl *roaring.Bitmap, n int, less func(a, b int) bool) []int {
	if n <= 0 {
		return nil
	}

	ids := make([]int, 0, len(scores))
	for id := range scores {
		if !excl.Contains(uint32(id)) {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return less(ids[i], ids[j]) })

	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
