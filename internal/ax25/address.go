// Package ax25 implements the AX.25 link-layer frame format: addresses,
// frame classification (U/S/I), and byte-level encode/decode.
//
// Grounded on doismellburning/samoyed's src/ax25_pad.go and src/ax25_pad2.go,
// with the cgo/C-struct layer replaced by plain Go types.
package ax25

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDecode is the sentinel wrapped by every address/frame decode failure.
var ErrDecode = errors.New("ax25: decode error")

// MaxDigipeaters is the largest number of digipeaters permitted in a path.
const MaxDigipeaters = 8

const addressLen = 7

// Address is an AX.25 station address: a callsign, an SSID (0-15), and a
// has-been-repeated flag used only for digipeater addresses.
type Address struct {
	Callsign        string
	SSID            uint8
	HasBeenRepeated bool
}

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDecode}, args...)...)
}

// NewAddress validates and constructs an Address.
func NewAddress(callsign string, ssid uint8) (Address, error) {
	callsign = strings.ToUpper(strings.TrimSpace(callsign))

	if len(callsign) < 1 || len(callsign) > 6 {
		return Address{}, decodeErrorf("callsign %q must be 1-6 characters", callsign)
	}

	for _, r := range callsign {
		isAlnum := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return Address{}, decodeErrorf("callsign %q has non-alphanumeric character %q", callsign, r)
		}
	}

	if ssid > 15 {
		return Address{}, decodeErrorf("ssid %d out of range 0-15", ssid)
	}

	return Address{Callsign: callsign, SSID: ssid}, nil
}

// Encode packs the address into its 7-byte wire form: the callsign
// left-padded with spaces and shifted left by one bit, followed by an SSID
// byte carrying command/response, reserved bits, the H-bit, and the
// end-of-address bit.
//
// cr is the command/response bit (bit 7 of the SSID byte) and end is the
// end-of-address bit (bit 0); both are caller-supplied because their value
// depends on the address's position within the frame, not the address
// itself.
func (a Address) Encode(cr bool, end bool) [addressLen]byte {
	var out [addressLen]byte

	padded := a.Callsign
	for len(padded) < 6 {
		padded += " "
	}

	for i := 0; i < 6; i++ {
		out[i] = padded[i] << 1
	}

	ssidByte := byte(0x60) // reserved bits (5,6) are 1 per spec.
	ssidByte |= (a.SSID & 0x0F) << 1

	if cr {
		ssidByte |= 0x80
	}

	if a.HasBeenRepeated {
		ssidByte |= 0x80 // H-bit shares bit 7 position in digipeater context.
	}

	if end {
		ssidByte |= 0x01
	}

	out[6] = ssidByte

	return out
}

// DecodeAddress is the mirror of Encode. It returns whether this was the
// last address in the path (end-of-address bit set) alongside the Address.
func DecodeAddress(raw [addressLen]byte) (addr Address, end bool, err error) {
	var sb strings.Builder

	for i := 0; i < 6; i++ {
		c := raw[i] >> 1

		isAlnum := (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' '
		if !isAlnum {
			return Address{}, false, decodeErrorf("invalid character 0x%02x in callsign field", c)
		}

		sb.WriteByte(c)
	}

	callsign := strings.TrimRight(sb.String(), " ")
	if callsign == "" {
		return Address{}, false, decodeErrorf("empty callsign")
	}

	ssidByte := raw[6]

	addr = Address{
		Callsign:        callsign,
		SSID:            (ssidByte >> 1) & 0x0F,
		HasBeenRepeated: ssidByte&0x80 != 0,
	}
	end = ssidByte&0x01 != 0

	return addr, end, nil
}

// ParseAddress is the inverse of String: it parses "CALL", "CALL-SSID", or
// "CALL-SSID*" (trailing "*" marking a digipeater that has repeated the
// frame) back into an Address.
func ParseAddress(s string) (Address, error) {
	repeated := false

	if strings.HasSuffix(s, "*") {
		repeated = true
		s = s[:len(s)-1]
	}

	callsign := s
	ssid := uint8(0)

	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		callsign = s[:idx]

		n, err := strconv.Atoi(s[idx+1:])
		if err != nil || n < 0 || n > 15 {
			return Address{}, decodeErrorf("invalid ssid in address %q", s)
		}

		ssid = uint8(n)
	}

	addr, err := NewAddress(callsign, ssid)
	if err != nil {
		return Address{}, err
	}

	addr.HasBeenRepeated = repeated

	return addr, nil
}

// String renders the address in the conventional CALL-SSID form, with a
// trailing "*" if it has been repeated.
func (a Address) String() string {
	s := a.Callsign
	if a.SSID != 0 {
		s += fmt.Sprintf("-%d", a.SSID)
	}

	if a.HasBeenRepeated {
		s += "*"
	}

	return s
}
