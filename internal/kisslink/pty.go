package kisslink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"

	"github.com/minorsecond/AXTerm-sub008/internal/kiss"
)

// PTYLink exposes a pseudo-terminal acting as a virtual KISS TNC: client
// applications that only know how to open a serial device can attach to
// the slave side. Grounded on doismellburning-samoyed/src/kiss.go's
// kisspt_open_pt, which used github.com/creack/pty for the same purpose.
type PTYLink struct {
	mu        sync.Mutex
	state     State
	master    *os.File
	slaveName string

	disp     *dispatcher
	deframer *kiss.Deframer
	cancel   context.CancelFunc
}

// NewPTYLink returns a Link that creates its pty on Open.
func NewPTYLink(delegate Delegate) *PTYLink {
	return &PTYLink{
		state:    StateDisconnected,
		disp:     newDispatcher(delegate),
		deframer: kiss.NewDeframer(),
	}
}

func (l *PTYLink) Open(ctx context.Context) error {
	l.setState(StateConnecting)

	master, slave, err := pty.Open()
	if err != nil {
		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: open pty: %v", err))

		return err
	}

	slaveName := slave.Name()
	_ = slave.Close() // the client opens SlaveName() itself

	readCtx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.master = master
	l.slaveName = slaveName
	l.cancel = cancel
	l.mu.Unlock()

	l.setState(StateConnected)

	go l.readLoop(readCtx, master)

	return nil
}

// SlaveName returns the path the client application should open as its
// serial device, e.g. /dev/pts/4. Valid only after Open succeeds.
func (l *PTYLink) SlaveName() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.slaveName
}

func (l *PTYLink) readLoop(ctx context.Context, master *os.File) {
	buf := make([]byte, 1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := master.Read(buf)
		if n > 0 {
			for _, f := range l.deframer.Feed(buf[:n]) {
				if f.Err != nil {
					l.disp.errorf("kisslink: pty kiss decode error")
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
			l.disp.errorf(fmt.Sprintf("kisslink: pty read: %v", err))

			return
		}
	}
}

func (l *PTYLink) Send(data []byte) error {
	l.mu.Lock()
	master := l.master
	l.mu.Unlock()

	if master == nil {
		return fmt.Errorf("kisslink: pty link not open")
	}

	framed := kiss.Encode(0, data)

	_, err := master.Write(framed)
	if err != nil {
		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: pty write: %v", err))
	}

	return err
}

func (l *PTYLink) Close() error {
	l.mu.Lock()
	master := l.master
	cancel := l.cancel
	l.master = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	l.setState(StateDisconnected)

	if master == nil {
		return nil
	}

	return master.Close()
}

func (l *PTYLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *PTYLink) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.disp.stateChanged(s)
}
