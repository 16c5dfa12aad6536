// Package kmeans implements k-means clustering for quantization training.
//
// Used internally by the product quantizer to learn per-segment codebooks
// from the abstract feature vectors at collection processing time.
package kmeans
