package ax25

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustAddr(t *testing.T, call string, ssid uint8) Address {
	t.Helper()

	a, err := NewAddress(call, ssid)
	require.NoError(t, err)

	return a
}

func TestAddressEncodeDecodeRoundTrip(t *testing.T) {
	a := mustAddr(t, "n0call", 7)
	encoded := a.Encode(true, true)

	decoded, end, err := DecodeAddress(encoded)
	require.NoError(t, err)
	assert.True(t, end)
	assert.Equal(t, "N0CALL", decoded.Callsign)
	assert.Equal(t, uint8(7), decoded.SSID)
}

func TestAddressRejectsBadCallsign(t *testing.T) {
	_, err := NewAddress("TOOLONGCALL", 0)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = NewAddress("BAD!", 0)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestAddressRejectsBadSSID(t *testing.T) {
	_, err := NewAddress("N0CALL", 16)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFrameClassification(t *testing.T) {
	assert.Equal(t, ClassU, classifyControl(ControlSABM))
	assert.Equal(t, ClassU, classifyControl(ControlUA))
	assert.Equal(t, ClassU, classifyControl(ControlUI))
	assert.Equal(t, ClassS, classifyControl(ControlS(SFrameRR, 0, false)))
	assert.Equal(t, ClassI, classifyControl(ControlI(0, 0, false)))
}

func TestCodecUIFrameRoundTrip(t *testing.T) {
	pid := byte(PIDNoLayer3)
	f := Frame{
		Dest: mustAddr(t, "APRS", 0),
		Src:  mustAddr(t, "N0CALL", 1),
		Digipeaters: []Address{
			mustAddr(t, "WIDE1", 1),
			mustAddr(t, "WIDE2", 2),
		},
		Control: ControlUI,
		PID:     &pid,
		Info:    []byte("hello world"),
	}

	encoded, err := Encode(f)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, f.Dest, decoded.Dest)
	assert.Equal(t, f.Src, decoded.Src)
	require.Len(t, decoded.Digipeaters, 2)
	assert.Equal(t, "WIDE1", decoded.Digipeaters[0].Callsign)
	assert.Equal(t, "WIDE2", decoded.Digipeaters[1].Callsign)
	assert.Equal(t, ClassU, decoded.Class())
	assert.Equal(t, f.Info, decoded.Info)
}

func TestCodecIFrameRoundTrip(t *testing.T) {
	f := Frame{
		Dest:    mustAddr(t, "N0CALL", 0),
		Src:     mustAddr(t, "N1CALL", 0),
		Control: ControlI(3, 5, true),
		Info:    []byte("payload"),
	}

	encoded, err := Encode(f)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, ClassI, decoded.Class())
	assert.Equal(t, byte(3), decoded.NS())
	assert.Equal(t, byte(5), decoded.NR())
	assert.True(t, decoded.PollFinal())
	assert.Equal(t, f.Info, decoded.Info)
}

func TestCodecSFrameHasNoPIDOrInfo(t *testing.T) {
	f := Frame{
		Dest:    mustAddr(t, "N0CALL", 0),
		Src:     mustAddr(t, "N1CALL", 0),
		Control: ControlS(SFrameREJ, 2, false),
	}

	encoded, err := Encode(f)
	require.NoError(t, err)
	assert.Len(t, encoded, 2*7+1)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, ClassS, decoded.Class())
	assert.Equal(t, SFrameREJ, decoded.SType())
	assert.Nil(t, decoded.PID)
}

func TestDecodeRejectsTooFewBytes(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEncodeRejectsTooManyDigipeaters(t *testing.T) {
	f := Frame{
		Dest:    mustAddr(t, "N0CALL", 0),
		Src:     mustAddr(t, "N1CALL", 0),
		Control: ControlUI,
	}

	for i := 0; i < MaxDigipeaters+1; i++ {
		f.Digipeaters = append(f.Digipeaters, mustAddr(t, "WIDE1", 1))
	}

	_, err := Encode(f)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestPropertySFrameControlRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sType := SFrameType(rapid.IntRange(0, 3).Draw(t, "type"))
		nr := byte(rapid.IntRange(0, 7).Draw(t, "nr"))
		pf := rapid.Bool().Draw(t, "pf")

		c := ControlS(sType, nr, pf)

		frame := Frame{Control: c}
		assert.Equal(t, ClassS, frame.Class())
		assert.Equal(t, sType, frame.SType())
		assert.Equal(t, nr, frame.NR())
		assert.Equal(t, pf, frame.PollFinal())
	})
}

func TestPropertyIFrameControlRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ns := byte(rapid.IntRange(0, 7).Draw(t, "ns"))
		nr := byte(rapid.IntRange(0, 7).Draw(t, "nr"))
		pf := rapid.Bool().Draw(t, "pf")

		c := ControlI(ns, nr, pf)

		frame := Frame{Control: c}
		assert.Equal(t, ClassI, frame.Class())
		assert.Equal(t, ns, frame.NS())
		assert.Equal(t, nr, frame.NR())
	})
}
