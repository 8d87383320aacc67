package runtime

import "github.com/minorsecond/AXTerm-sub008/internal/txsched"

// unackedFrame is one I-frame sent but not yet acknowledged by the peer.
// ax25session.Session forgets a frame's body the instant Step returns it as
// an action, so the runtime is the only place that can re-issue it on
// t1Timeout or REJ -- the per-session ring buffer of spec.md §9.
type unackedFrame struct {
	ns    int
	path  []string
	entry *txsched.TxQueueEntry
}

// retransmitRing holds every I-frame outstanding for one session, oldest
// first. Frames are always pushed in N(S) order, so the oldest entries are
// exactly the ones a peer's advancing N(R) acknowledges first.
type retransmitRing struct {
	frames []unackedFrame
}

func newRetransmitRing() *retransmitRing {
	return &retransmitRing{}
}

// push records a newly-sent I-frame.
func (r *retransmitRing) push(ns int, path []string, entry *txsched.TxQueueEntry) {
	r.frames = append(r.frames, unackedFrame{ns: ns, path: path, entry: entry})
}

// ackThrough reports which frames the peer has now acknowledged, given the
// session's outstanding count right after applying the ack: the ring must
// shrink to exactly that many frames, and it can only have shrunk from the
// front, since sends and acks both only move forward.
func (r *retransmitRing) ackThrough(outstanding int) []unackedFrame {
	if outstanding < 0 {
		outstanding = 0
	}

	if outstanding >= len(r.frames) {
		return nil
	}

	cut := len(r.frames) - outstanding
	acked := append([]unackedFrame(nil), r.frames[:cut]...)
	r.frames = append([]unackedFrame(nil), r.frames[cut:]...)

	return acked
}

// all returns every frame still outstanding, oldest first.
func (r *retransmitRing) all() []unackedFrame {
	return r.frames
}

// clear drops every outstanding frame, e.g. once a session gives up and
// moves to the error state.
func (r *retransmitRing) clear() []unackedFrame {
	frames := r.frames
	r.frames = nil

	return frames
}
