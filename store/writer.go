package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/imgsieve/codec"
	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
)

// WriteCollection persists a processed collection into dir: the feature
// store, the index directory and the manifest tying them together.
func WriteCollection(dir string, fs *feature.Store, ci *index.CollectionIndex, budget int) error {
	if fs.N() != ci.N() {
		return fmt.Errorf("%w: %d features for %d indexed images", ErrCorrupt, fs.N(), ci.N())
	}

	if err := os.MkdirAll(filepath.Join(dir, IndexDir), 0o755); err != nil {
		return err
	}

	if err := WriteFeatures(filepath.Join(dir, FeaturesFile), fs); err != nil {
		return err
	}
	if err := WriteIndex(filepath.Join(dir, IndexDir), ci); err != nil {
		return err
	}

	manifest := Manifest{
		FormatVersion: Version,
		Codec:         codec.Default.Name(),
		NImages:       fs.N(),
		Dimension:     fs.Dim(),
		FeatureBudget: budget,
		NumSegments:   ci.Quantizer().NumSegments(),
		NumCentroids:  ci.Quantizer().NumCentroids(),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := codec.Default.Marshal(manifest)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}

// WriteFeatures persists a feature store as a zstd-compressed artifact.
func WriteFeatures(path string, fs *feature.Store) error {
	var body bytes.Buffer

	writeUint64(&body, uint64(fs.N()))
	writeUint32(&body, uint32(fs.Dim()))

	for _, row := range fs.Rows() {
		writeUint32(&body, uint32(len(row)))
		for _, cw := range row {
			writeUint32(&body, cw.Concept)
			writeFloat32(&body, cw.Weight)
		}
	}

	return writeArtifact(path, MagicFeatures, uint64(fs.N()), uint32(fs.Dim()), codecZstd, body.Bytes())
}

// WriteIndex persists a collection index as two lz4-compressed artifacts:
// the trained codebooks and the per-image code array.
func WriteIndex(dir string, ci *index.CollectionIndex) error {
	pq := ci.Quantizer()

	var books bytes.Buffer
	writeUint32(&books, uint32(pq.NumSegments()))
	writeUint32(&books, uint32(pq.NumCentroids()))
	writeUint32(&books, uint32(pq.Dimension()))
	for _, cb := range pq.Codebooks() {
		for _, v := range cb {
			writeFloat32(&books, v)
		}
	}

	path := filepath.Join(dir, CodebooksFile)
	if err := writeArtifact(path, MagicCodebooks, uint64(pq.NumSegments()), uint32(pq.Dimension()), codecLZ4, books.Bytes()); err != nil {
		return err
	}

	var codes bytes.Buffer
	writeUint64(&codes, uint64(ci.N()))
	writeUint32(&codes, uint32(pq.NumSegments()))
	for _, c := range ci.Codes() {
		writeUint16(&codes, c)
	}

	path = filepath.Join(dir, CodesFile)
	return writeArtifact(path, MagicCodes, uint64(ci.N()), uint32(pq.Dimension()), codecLZ4, codes.Bytes())
}

// writeArtifact compresses the body, frames it with a header and writes the
// file atomically via a temp-file rename.
func writeArtifact(path string, magic uint32, count uint64, dim uint32, comp uint8, body []byte) error {
	payload, comp, err := compress(body, comp)
	if err != nil {
		return err
	}

	header := fileHeader{
		Magic:            magic,
		Version:          Version,
		Codec:            comp,
		Count:            count,
		Dim:              dim,
		UncompressedSize: uint64(len(body)),
		Checksum:         crc32.ChecksumIEEE(payload),
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, &header); err != nil {
		return err
	}
	if _, err := out.Write(payload); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// compress applies the requested codec, falling back to uncompressed storage
// when compression does not help.
func compress(body []byte, comp uint8) ([]byte, uint8, error) {
	switch comp {
	case codecZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, 0, err
		}
		payload := enc.EncodeAll(body, nil)
		if cerr := enc.Close(); cerr != nil {
			return nil, 0, cerr
		}
		if len(payload) >= len(body) {
			return body, codecNone, nil
		}
		return payload, codecZstd, nil

	case codecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(body)))
		var c lz4.Compressor
		n, err := c.CompressBlock(body, buf)
		if err != nil {
			return nil, 0, err
		}
		// n == 0 means incompressible.
		if n == 0 || n >= len(body) {
			return body, codecNone, nil
		}
		return buf[:n], codecLZ4, nil

	case codecNone:
		return body, codecNone, nil

	default:
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidCodec, comp)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeFloat32(buf *bytes.Buffer, v float32) {
	writeUint32(buf, math.Float32bits(v))
}
