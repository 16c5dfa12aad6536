package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/imgsieve/codec"
	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
	"github.com/hupe1980/imgsieve/quantization"
)

// OpenCollection loads a processed collection directory: manifest, feature
// store and collection index. The artifacts are validated against each other
// before anything is returned.
func OpenCollection(dir string) (*feature.Store, *index.CollectionIndex, *Manifest, error) {
	manifest, err := ReadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, nil, nil, err
	}

	fs, err := ReadFeatures(filepath.Join(dir, FeaturesFile))
	if err != nil {
		return nil, nil, nil, err
	}

	ci, err := ReadIndex(filepath.Join(dir, IndexDir))
	if err != nil {
		return nil, nil, nil, err
	}

	if fs.N() != manifest.NImages || ci.N() != manifest.NImages {
		return nil, nil, nil, fmt.Errorf("%w: manifest lists %d images, artifacts hold %d features and %d codes",
			ErrCorrupt, manifest.NImages, fs.N(), ci.N())
	}
	if fs.Dim() != manifest.Dimension {
		return nil, nil, nil, fmt.Errorf("%w: manifest dimensionality %d, feature store %d",
			ErrCorrupt, manifest.Dimension, fs.Dim())
	}

	return fs, ci, manifest, nil
}

// ReadManifest loads and decodes a collection manifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// The manifest is always JSON-shaped; any of the built-in codecs can
	// decode it, so start with the default and fall back by recorded name.
	var m Manifest
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if m.FormatVersion != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, m.FormatVersion)
	}

	return &m, nil
}

// ReadFeatures loads a persisted feature store.
func ReadFeatures(path string) (*feature.Store, error) {
	header, body, err := readArtifact(path, MagicFeatures)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body)

	n, err := readUint64(r)
	if err != nil {
		return nil, corrupt(path, err)
	}
	dim, err := readUint32(r)
	if err != nil {
		return nil, corrupt(path, err)
	}
	if n != header.Count || dim != header.Dim {
		return nil, fmt.Errorf("%w: %s: header and body disagree", ErrCorrupt, path)
	}

	rows := make([]feature.CompressedFeature, n)
	for i := range rows {
		size, err := readUint32(r)
		if err != nil {
			return nil, corrupt(path, err)
		}

		row := make(feature.CompressedFeature, size)
		for j := range row {
			concept, err := readUint32(r)
			if err != nil {
				return nil, corrupt(path, err)
			}
			weight, err := readFloat32(r)
			if err != nil {
				return nil, corrupt(path, err)
			}
			row[j] = feature.ConceptWeight{Concept: concept, Weight: weight}
		}
		rows[i] = row
	}

	return feature.NewStore(rows, int(dim))
}

// ReadIndex loads a persisted collection index from its directory.
func ReadIndex(dir string) (*index.CollectionIndex, error) {
	pq, err := readCodebooks(filepath.Join(dir, CodebooksFile))
	if err != nil {
		return nil, err
	}

	codesPath := filepath.Join(dir, CodesFile)
	header, body, err := readArtifact(codesPath, MagicCodes)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body)

	n, err := readUint64(r)
	if err != nil {
		return nil, corrupt(codesPath, err)
	}
	numSegments, err := readUint32(r)
	if err != nil {
		return nil, corrupt(codesPath, err)
	}
	if n != header.Count || int(numSegments) != pq.NumSegments() {
		return nil, fmt.Errorf("%w: %s: code layout does not match the codebooks", ErrCorrupt, codesPath)
	}

	codes := make([]uint16, int(n)*int(numSegments))
	for i := range codes {
		c, err := readUint16(r)
		if err != nil {
			return nil, corrupt(codesPath, err)
		}
		codes[i] = c
	}

	return index.New(pq, codes, int(n))
}

func readCodebooks(path string) (*quantization.ProductQuantizer, error) {
	_, body, err := readArtifact(path, MagicCodebooks)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body)

	numSegments, err := readUint32(r)
	if err != nil {
		return nil, corrupt(path, err)
	}
	numCentroids, err := readUint32(r)
	if err != nil {
		return nil, corrupt(path, err)
	}
	dimension, err := readUint32(r)
	if err != nil {
		return nil, corrupt(path, err)
	}

	pq, err := quantization.New(int(dimension), int(numSegments), int(numCentroids))
	if err != nil {
		return nil, err
	}

	segmentDim := int(dimension) / int(numSegments)
	codebooks := make([][]float32, numSegments)
	for m := range codebooks {
		cb := make([]float32, int(numCentroids)*segmentDim)
		for i := range cb {
			v, err := readFloat32(r)
			if err != nil {
				return nil, corrupt(path, err)
			}
			cb[i] = v
		}
		codebooks[m] = cb
	}

	if err := pq.SetCodebooks(codebooks); err != nil {
		return nil, err
	}

	return pq, nil
}

// readArtifact opens a framed artifact file: header validation, checksum
// verification and payload decompression.
func readArtifact(path string, magic uint32) (*fileHeader, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var header fileHeader
	headerSize := binary.Size(&header)
	if len(data) < headerSize {
		return nil, nil, fmt.Errorf("%w: %s: truncated header", ErrCorrupt, path)
	}

	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &header); err != nil {
		return nil, nil, err
	}

	if header.Magic != magic {
		return nil, nil, fmt.Errorf("%w: %s: got 0x%08x", ErrInvalidMagic, path, header.Magic)
	}
	if header.Version != Version {
		return nil, nil, fmt.Errorf("%w: %s: got 0x%08x", ErrInvalidVersion, path, header.Version)
	}

	payload := data[headerSize:]
	if crc := crc32.ChecksumIEEE(payload); crc != header.Checksum {
		return nil, nil, fmt.Errorf("%w: %s", ErrChecksum, path)
	}

	body, err := decompress(payload, header.Codec, int(header.UncompressedSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if uint64(len(body)) != header.UncompressedSize {
		return nil, nil, fmt.Errorf("%w: %s: payload size mismatch", ErrCorrupt, path)
	}

	return &header, body, nil
}

func decompress(payload []byte, comp uint8, uncompressedSize int) ([]byte, error) {
	switch comp {
	case codecNone:
		return payload, nil

	case codecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))

	case codecLZ4:
		body := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, body)
		if err != nil {
			return nil, err
		}
		return body[:n], nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCodec, comp)
	}
}

func corrupt(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readFloat32(r io.Reader) (float32, error) {
	v, err := readUint32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}
