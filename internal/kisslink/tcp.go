package kisslink

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/minorsecond/AXTerm-sub008/internal/kiss"
)

// TCPLink connects to a KISS-over-TCP TNC such as direwolf's kissnet
// server, grounded on doismellburning-samoyed/src/kissnet.go.
type TCPLink struct {
	addr string

	mu    sync.Mutex
	conn  net.Conn
	state State

	disp  *dispatcher
	deframer *kiss.Deframer

	cancel context.CancelFunc
}

// NewTCPLink returns a Link dialing addr (host:port) on Open.
func NewTCPLink(addr string, delegate Delegate) *TCPLink {
	return &TCPLink{
		addr:     addr,
		state:    StateDisconnected,
		disp:     newDispatcher(delegate),
		deframer: kiss.NewDeframer(),
	}
}

func (l *TCPLink) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateConnected || l.state == StateConnecting {
		l.mu.Unlock()
		return fmt.Errorf("kisslink: tcp link already %s", l.state)
	}

	l.state = StateConnecting
	l.mu.Unlock()
	l.disp.stateChanged(StateConnecting)

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: dial %s: %v", l.addr, err))
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.conn = conn
	l.cancel = cancel
	l.mu.Unlock()

	l.setState(StateConnected)

	go l.readLoop(readCtx, conn)

	return nil
}

func (l *TCPLink) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			for _, f := range l.deframer.Feed(buf[:n]) {
				if f.Err != nil {
					l.disp.errorf("kisslink: tcp kiss decode error")
					continue
				}

				l.disp.didReceive(f.Payload)
			}
		}

		if err != nil {
			l.setState(StateFailed)
			l.disp.errorf(fmt.Sprintf("kisslink: tcp read: %v", err))

			return
		}
	}
}

func (l *TCPLink) Send(data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("kisslink: tcp link not open")
	}

	framed := kiss.Encode(0, data)

	_, err := conn.Write(framed)
	if err != nil {
		l.setState(StateFailed)
		l.disp.errorf(fmt.Sprintf("kisslink: tcp write: %v", err))
	}

	return err
}

func (l *TCPLink) Close() error {
	l.mu.Lock()
	conn := l.conn
	cancel := l.cancel
	l.conn = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	l.setState(StateDisconnected)

	if conn == nil {
		return nil
	}

	return conn.Close()
}

func (l *TCPLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *TCPLink) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.disp.stateChanged(s)
}
