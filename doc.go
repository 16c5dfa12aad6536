// Package imgsieve provides an interactive-learning engine for triaging
// large image collections into analyst-defined buckets.
//
// The engine consumes a processed collection — a compressed feature store
// plus a product-quantized collection index, both produced once by the
// processing pipeline — and serves interactive sessions on top of it. Each
// round the analyst labels a handful of images, every affected bucket model
// retrains from the delta, and the index re-scores the whole collection to
// surface likely matches for the next round.
//
// # Quick Start
//
// Open a processed collection and start a session:
//
//	coll, err := imgsieve.Open("./collections/birds",
//	    imgsieve.WithLogger(imgsieve.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess, err := coll.NewSession()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Run interaction rounds; keys are image ids, values the assigned bucket
// (nil = no opinion, bucket 0 = discard):
//
//	one := 1
//	round, err := sess.InteractionRound(ctx, imgsieve.Feedback{42: &one})
//	for _, sugg := range round.Grid.Images {
//	    fmt.Println(sugg.Image, sugg.Confidence, sugg.ConfidenceColor)
//	}
//
// Bulk-assign the model's best candidates, then confirm:
//
//	_ = sess.FastForward(ctx, 1, 25)
//	_ = sess.FFCommit(ctx, 1)
//
// # Error Kinds
//
// All operations report one of three outward kinds, testable with
// errors.Is: ErrNotFound (unknown bucket or image), ErrInvalidOperation
// (violated precondition, nothing mutated) and ErrConfiguration (fatal
// processing-time faults). Unknown ids inside a batch are dropped from the
// batch rather than failing it.
package imgsieve
