package kisslink

import "github.com/minorsecond/AXTerm-sub008/internal/kiss"

// InitSequence returns the fire-and-forget KISS parameter frames sent to
// a TNC at link-up: TXDELAY, Persistence, SlotTime, TXtail, and
// FullDuplex, in that order, grounded on the command set documented in
// doismellburning-samoyed/src/kissnet.go's protocol comment block.
func InitSequence(channel byte) [][]byte {
	return [][]byte{
		kiss.EncodeCommand(channel, kiss.CmdTXDelay, []byte{defaultTXDelay}),
		kiss.EncodeCommand(channel, kiss.CmdPersistence, []byte{defaultPersistence}),
		kiss.EncodeCommand(channel, kiss.CmdSlotTime, []byte{defaultSlotTime}),
		kiss.EncodeCommand(channel, kiss.CmdTXTail, []byte{defaultTXTail}),
		kiss.EncodeCommand(channel, kiss.CmdFullDuplex, []byte{0}),
	}
}

// MobilinkdInitSequence returns the vendor-specific gain and modem-type
// SetHardware frames used by Mobilinkd TNCs, sent after InitSequence.
func MobilinkdInitSequence(channel byte, rxGain, modemType byte) [][]byte {
	return [][]byte{
		kiss.EncodeCommand(channel, kiss.CmdSetHardware, []byte{mobilinkdSubRXGain, rxGain}),
		kiss.EncodeCommand(channel, kiss.CmdSetHardware, []byte{mobilinkdSubModemType, modemType}),
	}
}

// Defaults matching the values direwolf and most TNCs ship with.
const (
	defaultTXDelay     = 50
	defaultPersistence = 63
	defaultSlotTime    = 10
	defaultTXTail      = 5
)

// Mobilinkd SetHardware sub-commands (vendor-specific, documented in
// Mobilinkd's TNC3 KISS extension).
const (
	mobilinkdSubRXGain    = 0x01
	mobilinkdSubModemType = 0x02
)
