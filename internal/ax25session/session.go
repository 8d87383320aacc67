// Package ax25session implements the AX.25 connected-mode link state
// machine: modulo-8/128 sequencing, RR/RNR/REJ handling, T1/T3 timers, and
// RTO estimation.
//
// The FSM itself is pure: Step takes an event and the current state and
// returns a new state plus an ordered list of actions. All waiting is
// expressed as timer actions (StartT1/StartT3); the owning runtime executes
// them and injects T1Timeout/T3Timeout events back in. This mirrors
// doismellburning/samoyed's dlq.go event-queue-drives-the-link-layer idiom,
// translated from a C dlq_item_t linked list into a value-returning Step
// function so the FSM can be exercised directly by tests (see
// doismellburning/samoyed's src/ax25_link_test_shim.go for the event/state
// vocabulary this is grounded on).
package ax25session

import "errors"

// State is one of the five link states from spec.md §3.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrRefused is the error reported via NotifyError when a connect attempt
// receives a DM.
var ErrRefused = errors.New("ax25session: connection refused")

// ErrRetriesExceeded is reported when N2 is exceeded in connecting,
// connected, or disconnecting.
var ErrRetriesExceeded = errors.New("ax25session: retries exceeded")

// ErrProtocol is reported on FRMR receipt or another protocol violation.
var ErrProtocol = errors.New("ax25session: protocol error")

// Config is the per-session configuration from spec.md §6, clamped on
// construction.
type Config struct {
	WindowSize int
	MaxRetries int
	Extended   bool
}

// NewConfig builds a Config, clamping WindowSize to [1, modulo-1] and
// MaxRetries to >= 1, per spec.md §6.
func NewConfig(windowSize, maxRetries int, extended bool) Config {
	maxWindow := 7
	if extended {
		maxWindow = 127
	}

	if windowSize < 1 {
		windowSize = 1
	}

	if windowSize > maxWindow {
		windowSize = maxWindow
	}

	if maxRetries < 1 {
		maxRetries = 1
	}

	return Config{WindowSize: windowSize, MaxRetries: maxRetries, Extended: extended}
}

// DefaultConfig mirrors spec.md §6's AX25SessionConfig defaults.
func DefaultConfig() Config {
	return NewConfig(2, 10, false)
}

// SeqState is the modulo-8/128 sequence variable set from spec.md §3.
type SeqState struct {
	Modulo int
	VS     int
	VR     int
	VA     int
}

func newSeqState(extended bool) SeqState {
	modulo := 8
	if extended {
		modulo = 128
	}

	return SeqState{Modulo: modulo}
}

// Outstanding returns (V(S) - V(A)) mod Modulo, invariant 1 of spec.md §8.
func (s SeqState) Outstanding() int {
	return mod(s.VS-s.VA, s.Modulo)
}

// CanSend reports whether another frame may be sent under window K,
// invariant 2 of spec.md §8.
func (s SeqState) CanSend(windowSize int) bool {
	return s.Outstanding() < windowSize
}

func mod(x, m int) int {
	r := x % m
	if r < 0 {
		r += m
	}

	return r
}

// isGoodNR reports whether nr is an acceptable acknowledgement: it must lie
// in [V(A), V(S)] modulo Modulo, i.e. it doesn't falsely ack frames not yet
// sent nor regress acknowledgement.
func (s SeqState) isGoodNR(nr int) bool {
	distanceFromVA := mod(nr-s.VA, s.Modulo)
	outstanding := s.Outstanding()

	return distanceFromVA <= outstanding
}

// Session is one connected-mode link to a peer, keyed externally by
// (channel, local address, remote address) per spec.md §9.
type Session struct {
	State  State
	Config Config
	Seq    SeqState
	Timers Timers
	Retry  int
}

// NewSession returns a Session in the disconnected state.
func NewSession(cfg Config) *Session {
	return &Session{
		State:  StateDisconnected,
		Config: cfg,
		Seq:    newSeqState(cfg.Extended),
		Timers: NewTimers(),
	}
}

// EventKind enumerates the FSM input events of spec.md §4.4.
type EventKind int

const (
	EventConnectRequest EventKind = iota
	EventDisconnectRequest
	EventSendData
	EventReceivedUA
	EventReceivedDM
	EventReceivedSABM
	EventReceivedDISC
	EventReceivedFRMR
	EventReceivedRR
	EventReceivedRNR
	EventReceivedREJ
	EventReceivedI
	EventT1Timeout
	EventT3Timeout
)

// Event is one FSM input. Only the fields relevant to Kind are meaningful:
// NR for RR/RNR/REJ, NS/NR/Payload for a received I-frame, Payload for
// SendData.
type Event struct {
	Kind    EventKind
	NS      int
	NR      int
	Payload []byte
}

// ActionKind enumerates the FSM output actions of spec.md §4.4.
type ActionKind int

const (
	ActionSendSABM ActionKind = iota
	ActionSendUA
	ActionSendDM
	ActionSendDISC
	ActionSendRR
	ActionSendRNR
	ActionSendREJ
	ActionSendI
	ActionStartT1
	ActionStopT1
	ActionStartT3
	ActionStopT3
	ActionDeliverData
	ActionNotifyConnected
	ActionNotifyDisconnected
	ActionNotifyError
)

// Action is one FSM output, executed in order by the owning runtime.
type Action struct {
	Kind    ActionKind
	NS      int
	NR      int
	Payload []byte
	Err     error
}

func act(kind ActionKind) Action { return Action{Kind: kind} }

func actNR(kind ActionKind, nr int) Action { return Action{Kind: kind, NR: nr} }

func actError(err error) Action { return Action{Kind: ActionNotifyError, Err: err} }

func actI(ns, nr int, payload []byte) Action {
	return Action{Kind: ActionSendI, NS: ns, NR: nr, Payload: payload}
}

// Step feeds one event into the FSM and returns the actions it produced, in
// the order the runtime must execute them.
func (s *Session) Step(ev Event) []Action {
	switch s.State {
	case StateDisconnected:
		return s.stepDisconnected(ev)
	case StateConnecting:
		return s.stepConnecting(ev)
	case StateConnected:
		return s.stepConnected(ev)
	case StateDisconnecting:
		return s.stepDisconnecting(ev)
	case StateError:
		return s.stepError(ev)
	default:
		return nil
	}
}

func (s *Session) resetSeq() {
	s.Seq = newSeqState(s.Config.Extended)
}

func (s *Session) stepDisconnected(ev Event) []Action {
	switch ev.Kind {
	case EventConnectRequest:
		s.State = StateConnecting
		s.Retry = 0
		s.resetSeq()

		return []Action{act(ActionSendSABM), act(ActionStartT1)}

	case EventReceivedSABM:
		s.State = StateConnected
		s.Retry = 0
		s.resetSeq()

		return []Action{act(ActionSendUA), act(ActionStartT3), act(ActionNotifyConnected)}

	case EventReceivedDISC:
		return []Action{act(ActionSendDM)}

	default:
		return nil
	}
}

func (s *Session) stepConnecting(ev Event) []Action {
	switch ev.Kind {
	case EventReceivedUA:
		s.State = StateConnected
		s.Retry = 0

		return []Action{act(ActionStopT1), act(ActionStartT3), act(ActionNotifyConnected)}

	case EventReceivedDM:
		s.State = StateDisconnected

		return []Action{act(ActionStopT1), actError(ErrRefused)}

	case EventT1Timeout:
		s.Retry++
		if s.Retry > s.Config.MaxRetries {
			s.State = StateError
			return []Action{actError(ErrRetriesExceeded)}
		}

		s.Timers.Backoff()

		return []Action{act(ActionSendSABM), act(ActionStartT1)}

	default:
		return nil
	}
}

func (s *Session) stepConnected(ev Event) []Action {
	switch ev.Kind {
	case EventDisconnectRequest:
		s.State = StateDisconnecting
		s.Retry = 0

		return []Action{act(ActionSendDISC), act(ActionStopT3), act(ActionStartT1)}

	case EventReceivedDISC:
		s.State = StateDisconnected

		return []Action{act(ActionSendUA), act(ActionStopT3), act(ActionNotifyDisconnected)}

	case EventReceivedSABM:
		s.State = StateConnected
		s.resetSeq()

		return []Action{act(ActionSendUA), act(ActionStartT3)}

	case EventReceivedI:
		return s.handleIFrame(ev)

	case EventReceivedRR:
		actions := s.ackUpTo(ev.NR)

		if s.Seq.Outstanding() == 0 {
			actions = append(actions, act(ActionStopT1), act(ActionStartT3))
		}

		return actions

	case EventReceivedRNR:
		actions := s.ackUpTo(ev.NR)
		actions = append(actions, act(ActionStopT1))

		return actions

	case EventReceivedREJ:
		actions := s.ackUpTo(ev.NR)
		actions = append(actions, act(ActionStartT1))

		return actions

	case EventReceivedFRMR:
		s.State = StateError

		return []Action{act(ActionStopT3), actError(ErrProtocol)}

	case EventReceivedDM:
		s.State = StateDisconnected

		return []Action{act(ActionStopT3), actError(ErrProtocol)}

	case EventT1Timeout:
		s.Retry++
		if s.Retry > s.Config.MaxRetries {
			s.State = StateError
			return []Action{actError(ErrRetriesExceeded)}
		}

		s.Timers.Backoff()

		return []Action{act(ActionStartT1)}

	case EventT3Timeout:
		return []Action{actNR(ActionSendRR, s.Seq.VR), act(ActionStartT1)}

	case EventSendData:
		return s.handleSendData(ev)

	default:
		return nil
	}
}

// handleIFrame implements spec.md §4.4's I-frame handler: ack whatever is
// piggybacked, then accept in-sequence data or reject out-of-sequence data.
func (s *Session) handleIFrame(ev Event) []Action {
	var actions []Action

	if s.Seq.Outstanding() > 0 {
		actions = append(actions, s.ackUpTo(ev.NR)...)
	}

	if ev.NS != s.Seq.VR {
		actions = append(actions, actNR(ActionSendREJ, s.Seq.VR))
		return actions
	}

	s.Seq.VR = mod(s.Seq.VR+1, s.Seq.Modulo)

	actions = append(actions, Action{Kind: ActionDeliverData, Payload: ev.Payload})
	actions = append(actions, actNR(ActionSendRR, s.Seq.VR))
	actions = append(actions, act(ActionStartT3))

	if s.Seq.Outstanding() == 0 {
		actions = append(actions, act(ActionStopT1))
	}

	return actions
}

func (s *Session) handleSendData(ev Event) []Action {
	if !s.Seq.CanSend(s.Config.WindowSize) {
		return nil
	}

	ns := s.Seq.VS
	s.Seq.VS = mod(s.Seq.VS+1, s.Seq.Modulo)

	return []Action{actI(ns, s.Seq.VR, ev.Payload), act(ActionStartT1)}
}

func (s *Session) ackUpTo(nr int) []Action {
	if !s.Seq.isGoodNR(nr) {
		return nil
	}

	s.Seq.VA = nr

	return nil
}

func (s *Session) stepDisconnecting(ev Event) []Action {
	switch ev.Kind {
	case EventReceivedUA, EventReceivedDM:
		s.State = StateDisconnected

		return []Action{act(ActionStopT1), act(ActionNotifyDisconnected)}

	case EventT1Timeout:
		s.Retry++
		if s.Retry > s.Config.MaxRetries {
			s.State = StateDisconnected
			return []Action{act(ActionNotifyDisconnected)}
		}

		s.Timers.Backoff()

		return []Action{act(ActionSendDISC), act(ActionStartT1)}

	default:
		return nil
	}
}

func (s *Session) stepError(ev Event) []Action {
	switch ev.Kind {
	case EventConnectRequest:
		s.State = StateConnecting
		s.Retry = 0
		s.resetSeq()

		return []Action{act(ActionSendSABM), act(ActionStartT1)}

	default:
		return nil
	}
}
