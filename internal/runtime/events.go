// Package runtime wires the AX.25 session, AXDP capability cache, bulk
// transfer manager, and TX scheduler into the single "transmission actor"
// goroutine of spec.md §5: one consumer serially driving all link-layer
// state from an ordered event channel, grounded on
// doismellburning-samoyed/src/dlq.go's dlq_wake_up_chan single-consumer
// pattern (there, waking a receive-processing thread; here, generalized
// from "receive packets" to any runtime event).
package runtime

import (
	"time"

	"github.com/minorsecond/AXTerm-sub008/internal/axdp"
	"github.com/minorsecond/AXTerm-sub008/internal/kisslink"
)

// EventKind tags an Event's payload.
type EventKind int

const (
	EventLinkReceived EventKind = iota
	EventLinkStateChanged
	EventLinkError
	EventSendText
	EventSendFile
	EventT1Tick
	EventT3Tick
	EventCancelTransfer
)

// Event is one item on the actor's ordered input channel.
type Event struct {
	Kind EventKind

	RawFrame []byte // EventLinkReceived
	State    kisslink.State
	ErrorMsg string

	Destination string // EventSendText / EventSendFile
	Text        string
	FilePath    string

	TransferID string // EventCancelTransfer

	At time.Time
}

// Snapshot is a point-in-time view of runtime state published to UI
// observers over a separate broadcast channel, per spec.md §5.
type Snapshot struct {
	At              time.Time
	LinkState       kisslink.State
	QueueDepth      int
	ActiveTransfers int
	RemoteCaps      map[string]axdp.Capability
}
