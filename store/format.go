// Package store reads and writes the persisted collection artifacts the
// session layer consumes: the compressed feature store and the collection
// index directory. Both are produced once by the processing pipeline and are
// strictly read-only at session time.
package store

import "errors"

const (
	// MagicFeatures identifies feature-store files (ASCII "ISF1").
	MagicFeatures = 0x49534631
	// MagicCodebooks identifies codebook files (ASCII "ISC1").
	MagicCodebooks = 0x49534331
	// MagicCodes identifies code-array files (ASCII "ISQ1").
	MagicCodes = 0x49535131

	// Version is the current artifact format version (v1.0.0).
	Version = 0x00010000
)

// Compression codecs recorded in the file header.
const (
	codecNone uint8 = 0
	codecZstd uint8 = 1
	codecLZ4  uint8 = 2
)

// Artifact file names inside a collection directory.
const (
	FeaturesFile  = "features.isf"
	IndexDir      = "index"
	CodebooksFile = "codebooks.bin"
	CodesFile     = "codes.bin"
	ManifestFile  = "manifest.json"
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported format version")
	ErrInvalidCodec   = errors.New("unknown compression codec")
	ErrChecksum       = errors.New("payload checksum mismatch")
	ErrCorrupt        = errors.New("corrupt artifact")
)

// fileHeader is the fixed-size header at the start of every artifact file.
// The payload that follows is the body serialized little-endian and
// compressed with the named codec; Checksum is the CRC32 (IEEE) of the
// payload bytes as stored.
type fileHeader struct {
	Magic            uint32
	Version          uint32
	Codec            uint8
	Padding          [3]byte
	Count            uint64 // images (features, codes) or segments (codebooks)
	Dim              uint32 // concept-space dimensionality
	UncompressedSize uint64
	Checksum         uint32
}

// Manifest describes a processed collection directory. It is written by the
// processing pipeline next to the binary artifacts and validated at open.
type Manifest struct {
	FormatVersion uint32 `json:"format_version"`
	Codec         string `json:"codec"`
	NImages       int    `json:"n_images"`
	Dimension     int    `json:"dimension"`
	FeatureBudget int    `json:"feature_budget"`
	NumSegments   int    `json:"num_segments"`
	NumCentroids  int    `json:"num_centroids"`
	CreatedAt     string `json:"created_at"`
}
