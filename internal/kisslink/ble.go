package kisslink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minorsecond/AXTerm-sub008/internal/kiss"
)

// BLECentral is the narrow boundary this package needs from a platform's
// Bluetooth LE stack. There is no CoreBluetooth/BlueZ binding in the
// example pack, so the spec's out-of-scope note on platform BLE is
// honored by naming this interface instead of implementing a binding;
// callers supply a concrete BLECentral for their platform.
type BLECentral interface {
	Connect(ctx context.Context, deviceID string) error
	Disconnect() error
	MTU() int
	Write(data []byte) error
	SetNotifyHandler(func(data []byte))
}

// BLELink talks KISS over a BLECentral, chunking outbound writes to the
// negotiated MTU. When Open fails to connect it computes an exponential
// backoff capped at 30s (the same doubling ax25session.Timers.Backoff
// applies to T1) and reports it in the Error callback; it does not
// reconnect on its own.
type BLELink struct {
	deviceID string
	central  BLECentral

	mu    sync.Mutex
	state State
	retry int

	disp     *dispatcher
	deframer *kiss.Deframer
}

const bleMaxBackoff = 30 * time.Second

// NewBLELink returns a Link driving central to deviceID.
func NewBLELink(deviceID string, central BLECentral, delegate Delegate) *BLELink {
	return &BLELink{
		deviceID: deviceID,
		central:  central,
		state:    StateDisconnected,
		disp:     newDispatcher(delegate),
		deframer: kiss.NewDeframer(),
	}
}

func (l *BLELink) Open(ctx context.Context) error {
	l.setState(StateConnecting)

	if err := l.central.Connect(ctx, l.deviceID); err != nil {
		l.mu.Lock()
		l.retry++
		backoff := l.backoffLocked()
		l.mu.Unlock()

		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: ble connect %s: %v (retry in %s)", l.deviceID, err, backoff))

		return err
	}

	l.mu.Lock()
	l.retry = 0
	l.mu.Unlock()

	l.central.SetNotifyHandler(l.onNotify)
	l.setState(StateConnected)

	return nil
}

func (l *BLELink) backoffLocked() time.Duration {
	d := time.Second << uint(l.retry)
	if d > bleMaxBackoff || d <= 0 {
		d = bleMaxBackoff
	}

	return d
}

func (l *BLELink) onNotify(data []byte) {
	for _, f := range l.deframer.Feed(data) {
		if f.Err != nil {
			l.disp.errorf("kisslink: ble kiss decode error")
			continue
		}

		l.disp.didReceive(f.Payload)
	}
}

func (l *BLELink) Send(data []byte) error {
	if l.State() != StateConnected {
		return fmt.Errorf("kisslink: ble link not open")
	}

	framed := kiss.Encode(0, data)
	mtu := l.central.MTU()

	if mtu <= 0 {
		return l.central.Write(framed)
	}

	for len(framed) > 0 {
		n := mtu
		if n > len(framed) {
			n = len(framed)
		}

		if err := l.central.Write(framed[:n]); err != nil {
			l.setState(StateFailed)
			l.disp.errorf(fmt.Sprintf("kisslink: ble write: %v", err))

			return err
		}

		framed = framed[n:]
	}

	return nil
}

func (l *BLELink) Close() error {
	err := l.central.Disconnect()
	l.setState(StateDisconnected)

	return err
}

func (l *BLELink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *BLELink) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.disp.stateChanged(s)
}
