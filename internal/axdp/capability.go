package axdp

import (
	"encoding/binary"
	"fmt"
)

// CompressionAlgo enumerates the compression algorithms of spec.md §3.
type CompressionAlgo byte

const (
	CompressionNone    CompressionAlgo = 0
	CompressionLZ4     CompressionAlgo = 1
	CompressionZstd    CompressionAlgo = 2
	CompressionDeflate CompressionAlgo = 3
)

// Feature is a bit in the AXDPCapability features bitset.
type Feature uint32

const (
	FeatureSACK               Feature = 1 << 0
	FeatureResume             Feature = 1 << 1
	FeatureCompression        Feature = 1 << 2
	FeatureExtendedMetadata   Feature = 1 << 3
)

// Capability describes what a station supports, per spec.md §3.
type Capability struct {
	ProtoMin           uint8
	ProtoMax           uint8
	Features           Feature
	CompressionAlgos   []CompressionAlgo
	MaxDecompressedLen uint32
	MaxChunkLen        uint16
}

// HasFeature reports whether f is set.
func (c Capability) HasFeature(f Feature) bool {
	return c.Features&f != 0
}

// DefaultLocalCapability returns the local defaults of spec.md §6.
func DefaultLocalCapability() Capability {
	return Capability{
		ProtoMin:           1,
		ProtoMax:           1,
		Features:           FeatureSACK | FeatureResume | FeatureCompression,
		CompressionAlgos:   []CompressionAlgo{CompressionLZ4},
		MaxDecompressedLen: 4096,
		MaxChunkLen:        128,
	}
}

// Capability sub-TLV types within the parent 0x20 container, spec.md §6.
const (
	capTLVProtoMin           = 0x01
	capTLVProtoMax           = 0x02
	capTLVFeatures           = 0x03
	capTLVCompressionAlgos   = 0x04
	capTLVMaxDecompressedLen = 0x05
	capTLVMaxChunkLen        = 0x06
)

// CapabilityTLVType is the parent TLV type (0x20) that wraps capability
// sub-TLVs.
const CapabilityTLVType = 0x20

// EncodeCapability renders a Capability as the value bytes of a single 0x20
// TLV (caller wraps with the type/length header via appendTLV-equivalent,
// typically by embedding it as Metadata or a dedicated message field).
func EncodeCapability(c Capability) []byte {
	var out []byte

	out = appendTLV(out, capTLVProtoMin, []byte{c.ProtoMin})
	out = appendTLV(out, capTLVProtoMax, []byte{c.ProtoMax})
	out = appendTLV(out, capTLVFeatures, u32(uint32(c.Features)))

	algos := make([]byte, len(c.CompressionAlgos))
	for i, a := range c.CompressionAlgos {
		algos[i] = byte(a)
	}

	out = appendTLV(out, capTLVCompressionAlgos, algos)
	out = appendTLV(out, capTLVMaxDecompressedLen, u32(c.MaxDecompressedLen))
	out = appendTLV(out, capTLVMaxChunkLen, u16(c.MaxChunkLen))

	return out
}

// DecodeCapability parses the value bytes of a 0x20 TLV back into a
// Capability.
func DecodeCapability(data []byte) (Capability, error) {
	var c Capability

	offset := 0
	for offset < len(data) {
		if offset+3 > len(data) {
			return c, fmt.Errorf("%w: truncated capability sub-tlv header", ErrDecode)
		}

		t := data[offset]
		length := binary.BigEndian.Uint16(data[offset+1 : offset+3])
		valueStart := offset + 3
		valueEnd := valueStart + int(length)

		if valueEnd > len(data) {
			return c, fmt.Errorf("%w: truncated capability sub-tlv value", ErrDecode)
		}

		value := data[valueStart:valueEnd]

		switch t {
		case capTLVProtoMin:
			if len(value) == 1 {
				c.ProtoMin = value[0]
			}
		case capTLVProtoMax:
			if len(value) == 1 {
				c.ProtoMax = value[0]
			}
		case capTLVFeatures:
			if len(value) == 4 {
				c.Features = Feature(binary.BigEndian.Uint32(value))
			}
		case capTLVCompressionAlgos:
			for _, b := range value {
				c.CompressionAlgos = append(c.CompressionAlgos, CompressionAlgo(b))
			}
		case capTLVMaxDecompressedLen:
			if len(value) == 4 {
				c.MaxDecompressedLen = binary.BigEndian.Uint32(value)
			}
		case capTLVMaxChunkLen:
			if len(value) == 2 {
				c.MaxChunkLen = binary.BigEndian.Uint16(value)
			}
		}

		offset = valueEnd
	}

	return c, nil
}

// Negotiate computes the negotiated capability between the local station
// and a remote peer's advertised capability, per spec.md §4.5.
func Negotiate(local, remote Capability) Capability {
	n := Capability{
		ProtoMax: minU8(local.ProtoMax, remote.ProtoMax),
		ProtoMin: maxU8(local.ProtoMin, remote.ProtoMin),
		Features: local.Features & remote.Features,
	}

	remoteAlgos := make(map[CompressionAlgo]bool, len(remote.CompressionAlgos))
	for _, a := range remote.CompressionAlgos {
		remoteAlgos[a] = true
	}

	for _, a := range local.CompressionAlgos {
		if remoteAlgos[a] {
			n.CompressionAlgos = append(n.CompressionAlgos, a)
		}
	}

	n.MaxDecompressedLen = minU32(local.MaxDecompressedLen, remote.MaxDecompressedLen)
	n.MaxChunkLen = minU16(local.MaxChunkLen, remote.MaxChunkLen)

	return n
}

// CompressionEnabled reports whether compression may be used with a peer
// per spec.md §4.5: the negotiated capability must advertise the
// compression feature and at least one common algorithm.
func (c Capability) CompressionEnabled() bool {
	return c.HasFeature(FeatureCompression) && len(c.CompressionAlgos) > 0
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}

	return b
}

func maxU8(a, b uint8) uint8 {
	if a > b {
		return a
	}

	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}

	return b
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}

	return b
}
