// Package compress implements the compression algorithms of spec.md §4.6
// (none/lz4/zstd/deflate) plus the compressibility analyzer used before a
// bulk transfer decides whether to compress at all.
//
// lz4 and zstd are wired to real third-party codecs (this core's teacher
// repo carries no general-purpose compression library of its own -- see
// SPEC_FULL.md §4.6 and DESIGN.md); deflate uses the standard library's
// compress/flate, which is already the canonical Go implementation.
package compress

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/minorsecond/AXTerm-sub008/internal/axdp"
)

// ErrNoBenefit is returned by Compress when the compressed output would not
// be smaller than the input.
var ErrNoBenefit = errors.New("compress: no benefit")

// ErrSizeMismatch is returned by Decompress when the claimed original
// length exceeds the caller's cap, or the produced size differs from the
// claim -- the anti-zip-bomb guarantee of spec.md §4.6.
var ErrSizeMismatch = errors.New("compress: size mismatch")

// DefaultMessageCap is the per-message absolute decompression cap.
const DefaultMessageCap = 8 * 1024

// DefaultFileTransferCap is the file-transfer decompression cap.
const DefaultFileTransferCap = 100 * 1024 * 1024

// Compress encodes input with algo. It returns ErrNoBenefit if the
// resulting size is not smaller than len(input).
func Compress(algo axdp.CompressionAlgo, input []byte) ([]byte, error) {
	var out []byte

	var err error

	switch algo {
	case axdp.CompressionNone:
		return input, nil

	case axdp.CompressionLZ4:
		out, err = compressLZ4(input)

	case axdp.CompressionZstd:
		out, err = compressZstd(input)

	case axdp.CompressionDeflate:
		out, err = compressDeflate(input)

	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", algo)
	}

	if err != nil {
		return nil, err
	}

	if len(out) >= len(input) {
		return nil, ErrNoBenefit
	}

	return out, nil
}

// Decompress decodes data encoded with algo, enforcing that originalLen
// (the claimed decompressed size) does not exceed maxLen, and that the
// produced output is exactly originalLen bytes -- otherwise ErrSizeMismatch,
// without ever allocating a buffer sized by an unchecked claim.
func Decompress(algo axdp.CompressionAlgo, data []byte, originalLen int, maxLen int) ([]byte, error) {
	if originalLen > maxLen {
		return nil, ErrSizeMismatch
	}

	var out []byte

	var err error

	switch algo {
	case axdp.CompressionNone:
		out, err = data, nil

	case axdp.CompressionLZ4:
		out, err = decompressLZ4(data, originalLen)

	case axdp.CompressionZstd:
		out, err = decompressZstd(data, originalLen)

	case axdp.CompressionDeflate:
		out, err = decompressDeflate(data, originalLen)

	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", algo)
	}

	if err != nil {
		return nil, ErrSizeMismatch
	}

	if len(out) != originalLen {
		return nil, ErrSizeMismatch
	}

	return out, nil
}

func compressLZ4(input []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)
	if _, err := w.Write(input); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressLZ4(data []byte, originalLen int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))

	// Never allocate beyond the caller-checked cap: read at most
	// originalLen+1 bytes, so a claim that lies about its own size is
	// caught by the length check in Decompress rather than by an
	// unbounded read.
	out := make([]byte, originalLen+1)

	n, err := io.ReadFull(r, out)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return out[:n], nil
}

// zstdFallbackUnavailable lets tests/builds simulate the "zstd unavailable"
// path of spec.md §4.6, where compression falls back to lz4.
var zstdFallbackUnavailable bool

func compressZstd(input []byte) ([]byte, error) {
	if zstdFallbackUnavailable {
		return compressLZ4(input)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(input, nil), nil
}

func decompressZstd(data []byte, originalLen int) ([]byte, error) {
	if zstdFallbackUnavailable {
		return decompressLZ4(data, originalLen)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	// Stream through io.ReadFull, same as the lz4/deflate paths, so a
	// stream claiming to be small but decompressing to far more than
	// originalLen is caught by the length check instead of being fully
	// materialized first.
	out := make([]byte, originalLen+1)

	n, err := io.ReadFull(dec, out)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return out[:n], nil
}

func compressDeflate(input []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(input); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressDeflate(data []byte, originalLen int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out := make([]byte, originalLen+1)

	n, err := io.ReadFull(r, out)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return out[:n], nil
}
