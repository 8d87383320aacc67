package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/minorsecond/AXTerm-sub008/internal/axdp"
)

func repeatedBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 4)
	}

	return out
}

func TestCompressDecompressLZ4RoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	compressed, err := Compress(axdp.CompressionLZ4, input)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(input))

	out, err := Decompress(axdp.CompressionLZ4, compressed, len(input), len(input))
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestCompressDecompressDeflateRoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("deflate me please "), 300)

	compressed, err := Compress(axdp.CompressionDeflate, input)
	require.NoError(t, err)

	out, err := Decompress(axdp.CompressionDeflate, compressed, len(input), len(input))
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestCompressDecompressZstdRoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("zstandard compression test payload "), 400)

	compressed, err := Compress(axdp.CompressionZstd, input)
	require.NoError(t, err)

	out, err := Decompress(axdp.CompressionZstd, compressed, len(input), len(input))
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestCompressNoneIsPassthrough(t *testing.T) {
	input := []byte("unchanged")

	out, err := Compress(axdp.CompressionNone, input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

// Property 10: Compress refuses to emit when it provides no benefit.
func TestCompressRefusesNoBenefit(t *testing.T) {
	// Random/high-entropy data typically doesn't compress with lz4.
	r := rand.New(rand.NewSource(1))
	input := make([]byte, 64)
	r.Read(input)

	_, err := Compress(axdp.CompressionLZ4, input)
	if err != nil {
		assert.ErrorIs(t, err, ErrNoBenefit)
	}
}

// S7 / property 9: decompress enforces the cap without over-allocating.
func TestDecompressCapEnforced(t *testing.T) {
	input := repeatedBytes(10_000)

	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)
	_, err := w.Write(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := Decompress(axdp.CompressionLZ4, buf.Bytes(), 10_000, 4096)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDecompressRejectsClaimMismatch(t *testing.T) {
	input := bytes.Repeat([]byte("mismatch "), 100)

	compressed, err := Compress(axdp.CompressionLZ4, input)
	require.NoError(t, err)

	_, err = Decompress(axdp.CompressionLZ4, compressed, len(input)+50, DefaultFileTransferCap)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAnalyzePrecompressedExtension(t *testing.T) {
	a := Analyze(bytes.Repeat([]byte{0}, 1000), "photo.png")
	assert.False(t, a.IsCompressible)
	assert.Equal(t, CategoryImage, a.Category)
}

func TestAnalyzeTooSmall(t *testing.T) {
	a := Analyze([]byte("short"), "data.bin")
	assert.False(t, a.IsCompressible)
}

func TestAnalyzeHighEntropyNotRecommended(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	sample := make([]byte, 2000)
	r.Read(sample)

	a := Analyze(sample, "data.bin")
	assert.False(t, a.IsCompressible)
}

func TestAnalyzeTextIsCompressible(t *testing.T) {
	sample := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 100)

	a := Analyze(sample, "notes.txt")
	assert.True(t, a.IsCompressible)
	assert.Equal(t, CategoryText, a.Category)
	assert.Greater(t, a.EstimatedRatio, 0.0)
	assert.Less(t, a.EstimatedRatio, 1.0)
}

func TestAnalyzeMagicBytesPNG(t *testing.T) {
	sample := append([]byte{0x89, 0x50, 0x4E, 0x47}, bytes.Repeat([]byte{0xFF}, 200)...)

	a := Analyze(sample, "")
	assert.Equal(t, CategoryImage, a.Category)
}

func TestPropertyDecompressCapNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOfN(rapid.Byte(), 0, 2000).Draw(t, "input")
		maxLen := rapid.IntRange(0, 1000).Draw(t, "maxLen")

		compressed, err := Compress(axdp.CompressionLZ4, input)
		if err != nil {
			return // ErrNoBenefit for this input; nothing to decompress.
		}

		_, decErr := Decompress(axdp.CompressionLZ4, compressed, len(input), maxLen)
		if len(input) > maxLen {
			assert.ErrorIs(t, decErr, ErrSizeMismatch)
		}
	})
}
