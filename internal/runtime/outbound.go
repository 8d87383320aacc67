package runtime

import (
	"fmt"
	"time"

	"github.com/minorsecond/AXTerm-sub008/internal/ax25"
	"github.com/minorsecond/AXTerm-sub008/internal/ax25session"
	"github.com/minorsecond/AXTerm-sub008/internal/txsched"
)

// drainOutbound dequeues every scheduler entry currently eligible under its
// destination's token bucket, encodes it as an AX.25 frame, and hands it to
// the link. Every kisslink.Link already KISS-frames its own Send payload
// (see kisslink/tcp.go and friends), so drainOutbound's job stops at
// producing well-formed AX.25 bytes -- it must not KISS-encode a second
// time on top of that.
func (a *Actor) drainOutbound(now time.Time) {
	for {
		entry := a.sched.Dequeue(now)
		if entry == nil {
			return
		}

		frame, err := buildAX25Frame(a.self, entry.Frame)
		if err != nil {
			a.sched.MarkFailed(entry, err.Error())
			a.logger.Warn("dropping unsendable frame", "dst", entry.Frame.Dst, "err", err)

			continue
		}

		encoded, err := ax25.Encode(frame)
		if err != nil {
			a.sched.MarkFailed(entry, err.Error())
			a.logger.Warn("dropping unencodable frame", "dst", entry.Frame.Dst, "err", err)

			continue
		}

		if err := a.link.Send(encoded); err != nil {
			a.sched.MarkFailed(entry, err.Error())
			a.logger.Warn("link send failed", "dst", entry.Frame.Dst, "err", err)

			continue
		}

		entry.State.Status = txsched.FrameSent
		entry.State.SentAt = now
	}
}

// buildAX25Frame turns a scheduled OutboundFrame back into a wire-ready
// ax25.Frame, reconstructing the control byte from the action kind that
// produced it (enqueueControlFrame always sets Control/NS/NR; a Control of
// nil defaults to a UI frame for anything enqueued outside the session
// FSM).
func buildAX25Frame(self ax25.Address, of txsched.OutboundFrame) (ax25.Frame, error) {
	dst, err := ax25.ParseAddress(of.Dst)
	if err != nil {
		return ax25.Frame{}, fmt.Errorf("runtime: outbound destination %q: %w", of.Dst, err)
	}

	src := self

	if of.Src != "" {
		src, err = ax25.ParseAddress(of.Src)
		if err != nil {
			return ax25.Frame{}, fmt.Errorf("runtime: outbound source %q: %w", of.Src, err)
		}
	}

	digis := make([]ax25.Address, 0, len(of.Path))

	for _, p := range of.Path {
		addr, err := ax25.ParseAddress(p)
		if err != nil {
			return ax25.Frame{}, fmt.Errorf("runtime: outbound digipeater %q: %w", p, err)
		}

		digis = append(digis, addr)
	}

	control := byte(ax25.ControlUI)
	if of.Control != nil {
		control = *of.Control
	}

	f := ax25.Frame{
		Dest:        dst,
		Src:         src,
		Digipeaters: digis,
		Control:     control,
		Info:        of.Payload,
	}

	if framePID(control) {
		pid := byte(ax25.PIDNoLayer3)
		f.PID = &pid
	}

	return f, nil
}

// framePID reports whether control's frame class carries a PID byte: every
// I-frame, and a U-frame only when it's UI.
func framePID(control byte) bool {
	f := ax25.Frame{Control: control}
	return f.Class() == ax25.ClassI || control == ax25.ControlUI
}

// controlByteFor derives the AX.25 control byte and a short frame-type tag
// an ax25session.Action implies, per the action kind the FSM returned it
// as.
func controlByteFor(action ax25session.Action) (byte, string) {
	switch action.Kind {
	case ax25session.ActionSendSABM:
		return ax25.ControlSABM, "SABM"
	case ax25session.ActionSendUA:
		return ax25.ControlUA, "UA"
	case ax25session.ActionSendDM:
		return ax25.ControlDM, "DM"
	case ax25session.ActionSendDISC:
		return ax25.ControlDISC, "DISC"
	case ax25session.ActionSendRR:
		return ax25.ControlS(ax25.SFrameRR, byte(action.NR), false), "RR"
	case ax25session.ActionSendRNR:
		return ax25.ControlS(ax25.SFrameRNR, byte(action.NR), false), "RNR"
	case ax25session.ActionSendREJ:
		return ax25.ControlS(ax25.SFrameREJ, byte(action.NR), false), "REJ"
	case ax25session.ActionSendI:
		return ax25.ControlI(byte(action.NS), byte(action.NR), false), "I"
	default:
		return ax25.ControlUI, "UI"
	}
}
