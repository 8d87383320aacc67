package kisslink

import (
	"context"
	"fmt"
	"sync"
)

// LoopbackLink echoes every Send back into DidReceive, for tests and the
// local self-test harness, grounded on
// doismellburning-samoyed/src/atest.go's self-test idiom of exercising
// the transport without real hardware.
type LoopbackLink struct {
	mu    sync.Mutex
	state State
	disp  *dispatcher
}

// NewLoopbackLink returns a Link that never touches real I/O.
func NewLoopbackLink(delegate Delegate) *LoopbackLink {
	return &LoopbackLink{state: StateDisconnected, disp: newDispatcher(delegate)}
}

func (l *LoopbackLink) Open(ctx context.Context) error {
	l.mu.Lock()
	l.state = StateConnected
	l.mu.Unlock()
	l.disp.stateChanged(StateConnected)

	return nil
}

func (l *LoopbackLink) Send(data []byte) error {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()

	if state != StateConnected {
		return fmt.Errorf("kisslink: loopback link not open")
	}

	l.disp.didReceive(data)

	return nil
}

func (l *LoopbackLink) Close() error {
	l.mu.Lock()
	l.state = StateDisconnected
	l.mu.Unlock()
	l.disp.stateChanged(StateDisconnected)

	return nil
}

func (l *LoopbackLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}
