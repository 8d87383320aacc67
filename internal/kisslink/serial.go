package kisslink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/term"

	"github.com/minorsecond/AXTerm-sub008/internal/kiss"
)

// supportedBauds mirrors the fixed set serial_port_open accepted, falling
// back to 4800 for anything else, per
// doismellburning-samoyed/src/serial_port.go.
var supportedBauds = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// SerialLink talks KISS over a serial device, grounded on
// doismellburning-samoyed/src/serial_port.go's open/write/get1/close
// pattern. Speeds come from supportedBauds; any other baud falls back to
// 4800.
type SerialLink struct {
	device  string
	baud    int
	rtsKeys bool

	mu    sync.Mutex
	fd    *term.Term
	state State

	disp     *dispatcher
	deframer *kiss.Deframer
	cancel   context.CancelFunc
}

// NewSerialLink returns a Link over device at baud (0 leaves the port's
// current speed alone, matching the teacher's behavior).
func NewSerialLink(device string, baud int, delegate Delegate) *SerialLink {
	return &SerialLink{
		device:   device,
		baud:     baud,
		state:    StateDisconnected,
		disp:     newDispatcher(delegate),
		deframer: kiss.NewDeframer(),
	}
}

// SetRTSKeying enables or disables asserting RTS around each Send, for TNCs
// that rely on the host to key the transmitter rather than keying it
// themselves from the KISS data stream. Grounded on
// doismellburning-samoyed/src/ptt.go's ptt_set_rts.
func (l *SerialLink) SetRTSKeying(enabled bool) {
	l.mu.Lock()
	l.rtsKeys = enabled
	l.mu.Unlock()
}

func (l *SerialLink) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateConnected || l.state == StateConnecting {
		l.mu.Unlock()
		return fmt.Errorf("kisslink: serial link already %s", l.state)
	}

	l.state = StateConnecting
	l.mu.Unlock()
	l.disp.stateChanged(StateConnecting)

	fd, err := term.Open(l.device, term.RawMode)
	if err != nil {
		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: open serial port %s: %v", l.device, err))

		return err
	}

	switch {
	case l.baud == 0:
		// Leave it alone.
	case supportedBauds[l.baud]:
		_ = fd.SetSpeed(l.baud)
	default:
		l.disp.errorf(fmt.Sprintf("kisslink: unsupported baud %d, using 4800", l.baud))
		_ = fd.SetSpeed(4800)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.fd = fd
	l.cancel = cancel
	l.mu.Unlock()

	l.setState(StateConnected)

	go l.readLoop(readCtx, fd)

	return nil
}

func (l *SerialLink) readLoop(ctx context.Context, fd *term.Term) {
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := fd.Read(buf)
		if n == 1 {
			for _, f := range l.deframer.Feed(buf[:1]) {
				if f.Err != nil {
					l.disp.errorf("kisslink: serial kiss decode error")
					continue
				}

				l.disp.didReceive(f.Payload)
			}
		}

		if err != nil {
			if err == io.EOF {
				return
			}

			l.setState(StateFailed)
			l.disp.errorf(fmt.Sprintf("kisslink: serial read: %v", err))

			return
		}
	}
}

func (l *SerialLink) Send(data []byte) error {
	l.mu.Lock()
	fd := l.fd
	rtsKeys := l.rtsKeys
	l.mu.Unlock()

	if fd == nil {
		return fmt.Errorf("kisslink: serial link not open")
	}

	if rtsKeys {
		if err := setRTS(int(fd.Fd()), true); err != nil {
			l.disp.errorf(fmt.Sprintf("kisslink: RTS key on: %v", err))
		}
		defer func() {
			if err := setRTS(int(fd.Fd()), false); err != nil {
				l.disp.errorf(fmt.Sprintf("kisslink: RTS key off: %v", err))
			}
		}()
	}

	framed := kiss.Encode(0, data)

	written, err := fd.Write(framed)
	if err != nil || written != len(framed) {
		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: serial write: %v", err))

		if err == nil {
			err = fmt.Errorf("kisslink: serial short write %d/%d", written, len(framed))
		}
	}

	return err
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	fd := l.fd
	cancel := l.cancel
	l.fd = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	l.setState(StateDisconnected)

	if fd == nil {
		return nil
	}

	return fd.Close()
}

func (l *SerialLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *SerialLink) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.disp.stateChanged(s)
}
