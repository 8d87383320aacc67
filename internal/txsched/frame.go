// Package txsched implements the TX scheduler of spec.md §4.8: a priority
// queue with per-destination token-bucket pacing and frame-state tracking,
// plus the ETX/ETT path suggester of spec.md §4.9.
package txsched

import "time"

// Priority classes, per spec.md §3.
type Priority int

const (
	PriorityBulk        Priority = 10
	PriorityNormal      Priority = 50
	PriorityInteractive Priority = 100
)

// FrameStatus is the TxFrameState lifecycle of spec.md §3.
type FrameStatus int

const (
	FrameQueued FrameStatus = iota
	FrameSending
	FrameSent
	FrameAwaitingAck
	FrameAcked
	FrameFailed
	FrameCancelled
)

// OutboundFrame is an immutable descriptor of a frame to transmit, per
// spec.md §3.
type OutboundFrame struct {
	ID          string
	Channel     byte
	Src         string
	Dst         string
	Path        []string
	Payload     []byte
	Priority    Priority
	FrameType   string
	Control     *byte
	NS          *int
	NR          *int
	SessionID   string
	AXDPMessageID uint32
}

// TxFrameState is the mutable tracking record for one OutboundFrame, owned
// exclusively by the scheduler.
type TxFrameState struct {
	Status      FrameStatus
	Attempts    int
	QueuedAt    time.Time
	SentAt      time.Time
	AckedAt     time.Time
	Error       string
}

// TxQueueEntry pairs a frame with its state and a monotonic enqueue order,
// giving FIFO ordering within a priority class.
type TxQueueEntry struct {
	Frame        OutboundFrame
	State        TxFrameState
	EnqueueOrder uint64
}

// PathSignature derives a canonical path signature string (the digipeater
// path joined with ">"; the destination is not included) used as half the
// PathStats key, per spec.md §3.
func PathSignature(path []string) string {
	if len(path) == 0 {
		return ""
	}

	sig := path[0]
	for _, p := range path[1:] {
		sig += ">" + p
	}

	return sig
}
