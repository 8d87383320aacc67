package ax25

import "fmt"

// Encode serializes a Frame to its wire bytes: destination (end-bit 0),
// source (end-bit 1 iff no digipeaters, else 0), each digipeater (end-bit 1
// on the last), control, PID (UI/I only), then info (UI/I only).
func Encode(f Frame) ([]byte, error) {
	if len(f.Digipeaters) > MaxDigipeaters {
		return nil, decodeErrorf("too many digipeaters: %d > %d", len(f.Digipeaters), MaxDigipeaters)
	}

	out := make([]byte, 0, 2*addressLen+len(f.Digipeaters)*addressLen+2+len(f.Info))

	destBytes := f.Dest.Encode(true, false)
	out = append(out, destBytes[:]...)

	srcEnd := len(f.Digipeaters) == 0
	srcBytes := f.Src.Encode(false, srcEnd)
	out = append(out, srcBytes[:]...)

	for i, digi := range f.Digipeaters {
		last := i == len(f.Digipeaters)-1
		digiBytes := digi.Encode(false, last)
		out = append(out, digiBytes[:]...)
	}

	out = append(out, f.Control)

	class := f.Class()
	carriesPID := class == ClassI || (class == ClassU && f.Control == ControlUI)

	if carriesPID {
		pid := byte(PIDNoLayer3)
		if f.PID != nil {
			pid = *f.PID
		}

		out = append(out, pid)
		out = append(out, f.Info...)
	}

	return out, nil
}

// Decode is the mirror of Encode: it classifies the frame by control-byte
// bit pattern and extracts addressing, N(S)/N(R), PID, and info as
// applicable. Malformed address fields return an ErrDecode-wrapped error
// rather than panicking.
func Decode(data []byte) (Frame, error) {
	if len(data) < 2*addressLen+1 {
		return Frame{}, decodeErrorf("frame too short: %d bytes", len(data))
	}

	var f Frame

	offset := 0

	var destRaw [addressLen]byte

	copy(destRaw[:], data[offset:offset+addressLen])

	dest, _, err := DecodeAddress(destRaw)
	if err != nil {
		return Frame{}, fmt.Errorf("decoding destination: %w", err)
	}

	f.Dest = dest
	// Bit 7 of the destination and source SSID bytes is the C/R bit, not
	// the has-been-repeated flag, so it is not reported as one.
	f.Dest.HasBeenRepeated = false
	offset += addressLen

	var srcRaw [addressLen]byte

	copy(srcRaw[:], data[offset:offset+addressLen])

	src, srcEnd, err := DecodeAddress(srcRaw)
	if err != nil {
		return Frame{}, fmt.Errorf("decoding source: %w", err)
	}

	f.Src = src
	f.Src.HasBeenRepeated = false
	offset += addressLen

	end := srcEnd

	for !end {
		if offset+addressLen > len(data) {
			return Frame{}, decodeErrorf("truncated digipeater address")
		}

		if len(f.Digipeaters) >= MaxDigipeaters {
			return Frame{}, decodeErrorf("too many digipeaters in path")
		}

		var digiRaw [addressLen]byte

		copy(digiRaw[:], data[offset:offset+addressLen])

		digi, digiEnd, err := DecodeAddress(digiRaw)
		if err != nil {
			return Frame{}, fmt.Errorf("decoding digipeater: %w", err)
		}

		f.Digipeaters = append(f.Digipeaters, digi)
		offset += addressLen
		end = digiEnd
	}

	if offset >= len(data) {
		return Frame{}, decodeErrorf("missing control byte")
	}

	f.Control = data[offset]
	offset++

	class := f.Class()
	carriesPID := class == ClassI || (class == ClassU && f.Control == ControlUI)

	if carriesPID {
		if offset >= len(data) {
			return Frame{}, decodeErrorf("missing PID byte")
		}

		pid := data[offset]
		f.PID = &pid
		offset++

		f.Info = append([]byte(nil), data[offset:]...)
	}

	return f, nil
}
