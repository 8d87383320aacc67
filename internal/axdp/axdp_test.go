package axdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// S4 -- AXDP round-trip.
func TestScenarioChatRoundTrip(t *testing.T) {
	m := Message{
		Type:      MessageChat,
		SessionID: 0x01020304,
		MessageID: 0x0A0B0C0D,
		Payload:   []byte("hi"),
	}

	encoded := Encode(m)

	assert.Equal(t, []byte{'A', 'X', 'T', '1'}, encoded[:4])
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x01}, encoded[4:8])
	assert.Equal(t, []byte{0x02, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04}, encoded[8:15])
	assert.Equal(t, []byte{0x03, 0x00, 0x04, 0x0A, 0x0B, 0x0C, 0x0D}, encoded[15:22])
	assert.Equal(t, []byte{0x06, 0x00, 0x02, 0x68, 0x69}, encoded[22:27])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m.Type, decoded.Type)
	assert.Equal(t, m.SessionID, decoded.SessionID)
	assert.Equal(t, m.MessageID, decoded.MessageID)
	assert.Equal(t, m.Payload, decoded.Payload)
	assert.Empty(t, decoded.UnknownTLVs)
}

func TestDecodeForwardCompatibility(t *testing.T) {
	m := Message{Type: MessagePing, SessionID: 1, MessageID: 2}
	encoded := Encode(m)
	encoded = append(encoded, 0x50, 0x00, 0x02, 0xAA, 0xBB) // unknown type 0x50

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.UnknownTLVs, 1)
	assert.Equal(t, byte(0x50), decoded.UnknownTLVs[0].Type)
	assert.Equal(t, []byte{0xAA, 0xBB}, decoded.UnknownTLVs[0].Value)
}

func TestDecodeFailsWithoutMagic(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeFailsWithoutMessageType(t *testing.T) {
	data := append([]byte{}, Magic[:]...)
	data = appendTLV(data, tlvSessionID, u32(1))

	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeTruncatedPrefixNeverPanics(t *testing.T) {
	m := Message{Type: MessageFileChunk, SessionID: 7, MessageID: 9, Payload: []byte("chunk-data")}
	full := Encode(m)

	for n := 0; n <= len(full); n++ {
		assert.NotPanics(t, func() {
			_, _ = Decode(full[:n])
		})
	}
}

func TestCRC32KnownVectors(t *testing.T) {
	assert.Equal(t, uint32(0), CRC32([]byte("")))
	assert.Equal(t, uint32(0xE8B7BE43), CRC32([]byte("a")))
	assert.Equal(t, uint32(0xCBF43926), CRC32([]byte("123456789")))
}

func TestCapabilityRoundTrip(t *testing.T) {
	c := Capability{
		ProtoMin:           1,
		ProtoMax:           2,
		Features:           FeatureSACK | FeatureCompression,
		CompressionAlgos:   []CompressionAlgo{CompressionLZ4, CompressionZstd},
		MaxDecompressedLen: 8192,
		MaxChunkLen:        256,
	}

	decoded, err := DecodeCapability(EncodeCapability(c))
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestNegotiate(t *testing.T) {
	local := Capability{
		ProtoMin: 1, ProtoMax: 2,
		Features:           FeatureSACK | FeatureCompression | FeatureResume,
		CompressionAlgos:   []CompressionAlgo{CompressionLZ4, CompressionZstd},
		MaxDecompressedLen: 4096,
		MaxChunkLen:        128,
	}
	remote := Capability{
		ProtoMin: 2, ProtoMax: 3,
		Features:           FeatureSACK | FeatureCompression,
		CompressionAlgos:   []CompressionAlgo{CompressionZstd, CompressionDeflate},
		MaxDecompressedLen: 16384,
		MaxChunkLen:        64,
	}

	n := Negotiate(local, remote)
	assert.Equal(t, uint8(2), n.ProtoMin)
	assert.Equal(t, uint8(2), n.ProtoMax)
	assert.Equal(t, FeatureSACK|FeatureCompression, n.Features)
	assert.Equal(t, []CompressionAlgo{CompressionZstd}, n.CompressionAlgos)
	assert.Equal(t, uint32(4096), n.MaxDecompressedLen)
	assert.Equal(t, uint16(64), n.MaxChunkLen)
	assert.True(t, n.CompressionEnabled())
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Hour)
	key := NewStationKey("n0call", 1)
	now := time.Unix(1000, 0)

	c.Store(key, DefaultLocalCapability(), now)

	_, ok := c.Get(key, now.Add(30*time.Minute))
	assert.True(t, ok)

	_, ok = c.Get(key, now.Add(2*time.Hour))
	assert.False(t, ok)
}

// Property 5: decode(encode(M)) == M for well-formed messages.
func TestPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := Message{
			Type:      MessageType(rapid.IntRange(1, 7).Draw(t, "type")),
			SessionID: rapid.Uint32().Draw(t, "sessionId"),
			MessageID: rapid.Uint32().Draw(t, "messageId"),
		}

		if rapid.Bool().Draw(t, "hasPayload") {
			m.Payload = rapid.SliceOf(rapid.Byte()).Draw(t, "payload")
		}

		encoded := Encode(m)
		decoded, err := Decode(encoded)
		require.NoError(t, err)

		assert.Equal(t, m.Type, decoded.Type)
		assert.Equal(t, m.SessionID, decoded.SessionID)
		assert.Equal(t, m.MessageID, decoded.MessageID)
		assert.Equal(t, m.Payload, decoded.Payload)
		assert.Empty(t, decoded.UnknownTLVs)
	})
}

// Property 6: decode(encode(M) ++ unknown_tlv) preserves exactly one
// unknown TLV.
func TestPropertyForwardCompatibility(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := Message{
			Type:      MessageChat,
			SessionID: rapid.Uint32().Draw(t, "sessionId"),
			MessageID: rapid.Uint32().Draw(t, "messageId"),
		}

		unknownType := byte(rapid.IntRange(0x10, 0x1F).Draw(t, "unknownType"))
		unknownValue := rapid.SliceOfN(rapid.Byte(), 0, 20).Draw(t, "unknownValue")

		encoded := Encode(m)
		encoded = appendTLV(encoded, unknownType, unknownValue)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Len(t, decoded.UnknownTLVs, 1)
		assert.Equal(t, unknownType, decoded.UnknownTLVs[0].Type)
		assert.Equal(t, unknownValue, decoded.UnknownTLVs[0].Value)
	})
}

// Property 7: feeding a strict prefix of encode(M) to Decode never panics
// and returns either an error or a partial message.
func TestPropertyTruncationNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := Message{
			Type:      MessageChat,
			SessionID: rapid.Uint32().Draw(t, "sessionId"),
			MessageID: rapid.Uint32().Draw(t, "messageId"),
			Payload:   rapid.SliceOf(rapid.Byte()).Draw(t, "payload"),
		}

		full := Encode(m)
		n := rapid.IntRange(0, len(full)).Draw(t, "prefixLen")

		assert.NotPanics(t, func() {
			_, _ = Decode(full[:n])
		})
	})
}
