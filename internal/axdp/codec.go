package axdp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the 4-byte AXDP header.
var Magic = [4]byte{'A', 'X', 'T', '1'}

// Core TLV types, spec.md §6.
const (
	tlvMessageType  = 0x01
	tlvSessionID    = 0x02
	tlvMessageID    = 0x03
	tlvChunkIndex   = 0x04
	tlvTotalChunks  = 0x05
	tlvPayload      = 0x06
	tlvPayloadCRC32 = 0x07
	tlvSackBitmap   = 0x08
	tlvMetadata     = 0x09
)

// ErrDecode is the sentinel wrapped by AXDP decode failures.
var ErrDecode = errors.New("axdp: decode error")

// Encode serializes a Message: magic, then required TLVs (messageType,
// sessionId, messageId), then optional TLVs present on the message in
// canonical order (chunkIndex, totalChunks, payload, payloadCRC32,
// sackBitmap, metadata), then any preserved unknown TLVs.
func Encode(m Message) []byte {
	var out []byte

	out = append(out, Magic[:]...)

	out = appendTLV(out, tlvMessageType, []byte{byte(m.Type)})
	out = appendTLV(out, tlvSessionID, u32(m.SessionID))
	out = appendTLV(out, tlvMessageID, u32(m.MessageID))

	if m.ChunkIndex != nil {
		out = appendTLV(out, tlvChunkIndex, u32(*m.ChunkIndex))
	}

	if m.TotalChunks != nil {
		out = appendTLV(out, tlvTotalChunks, u32(*m.TotalChunks))
	}

	if m.Payload != nil {
		out = appendTLV(out, tlvPayload, m.Payload)
	}

	if m.PayloadCRC32 != nil {
		out = appendTLV(out, tlvPayloadCRC32, u32(*m.PayloadCRC32))
	}

	if m.SackBitmap != nil {
		out = appendTLV(out, tlvSackBitmap, m.SackBitmap)
	}

	if m.Metadata != nil {
		out = appendTLV(out, tlvMetadata, m.Metadata)
	}

	for _, u := range m.UnknownTLVs {
		out = appendTLV(out, u.Type, u.Value)
	}

	return out
}

func appendTLV(out []byte, t byte, value []byte) []byte {
	out = append(out, t)
	out = append(out, u16(uint16(len(value)))...)
	out = append(out, value...)

	return out
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)

	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)

	return b
}

// Decode is the mirror of Encode. It verifies the magic, then iterates
// TLVs, preserving unrecognized types in UnknownTLVs and accumulating the
// recognized ones onto the message. Decoding fails only when: the magic is
// missing, there are no TLVs at all, or no messageType TLV was seen. A
// malformed length stops parsing but still returns the message accumulated
// so far, provided messageType had already been observed.
func Decode(data []byte) (Message, error) {
	if len(data) < 4 {
		return Message{}, fmt.Errorf("%w: too short for magic", ErrDecode)
	}

	if [4]byte(data[:4]) != Magic {
		return Message{}, fmt.Errorf("%w: bad magic", ErrDecode)
	}

	rest := data[4:]

	if len(rest) == 0 {
		return Message{}, fmt.Errorf("%w: no TLVs", ErrDecode)
	}

	var m Message

	haveType := false
	offset := 0

	for offset < len(rest) {
		if offset+3 > len(rest) {
			break // truncated TLV header
		}

		tlvType := rest[offset]
		length := binary.BigEndian.Uint16(rest[offset+1 : offset+3])
		valueStart := offset + 3
		valueEnd := valueStart + int(length)

		if valueEnd > len(rest) {
			break // truncated value
		}

		value := rest[valueStart:valueEnd]
		applyTLV(&m, tlvType, value, &haveType)

		offset = valueEnd
	}

	if !haveType {
		return Message{}, fmt.Errorf("%w: missing messageType", ErrDecode)
	}

	return m, nil
}

func applyTLV(m *Message, t byte, value []byte, haveType *bool) {
	switch t {
	case tlvMessageType:
		if len(value) == 1 {
			m.Type = MessageType(value[0])
			*haveType = true
		}

	case tlvSessionID:
		if len(value) == 4 {
			m.SessionID = binary.BigEndian.Uint32(value)
		}

	case tlvMessageID:
		if len(value) == 4 {
			m.MessageID = binary.BigEndian.Uint32(value)
		}

	case tlvChunkIndex:
		if len(value) == 4 {
			v := binary.BigEndian.Uint32(value)
			m.ChunkIndex = &v
		}

	case tlvTotalChunks:
		if len(value) == 4 {
			v := binary.BigEndian.Uint32(value)
			m.TotalChunks = &v
		}

	case tlvPayload:
		m.Payload = append([]byte{}, value...)

	case tlvPayloadCRC32:
		if len(value) == 4 {
			v := binary.BigEndian.Uint32(value)
			m.PayloadCRC32 = &v
		}

	case tlvSackBitmap:
		m.SackBitmap = append([]byte{}, value...)

	case tlvMetadata:
		m.Metadata = append([]byte{}, value...)

	default:
		m.UnknownTLVs = append(m.UnknownTLVs, UnknownTLV{Type: t, Value: append([]byte{}, value...)})
	}
}
