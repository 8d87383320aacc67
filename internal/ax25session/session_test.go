package ax25session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func kinds(actions []Action) []ActionKind {
	out := make([]ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}

	return out
}

// S1 -- Connect/disconnect.
func TestScenarioConnectDisconnect(t *testing.T) {
	s := NewSession(DefaultConfig())

	a1 := s.Step(Event{Kind: EventConnectRequest})
	assert.Equal(t, []ActionKind{ActionSendSABM, ActionStartT1}, kinds(a1))
	assert.Equal(t, StateConnecting, s.State)

	a2 := s.Step(Event{Kind: EventReceivedUA})
	assert.Equal(t, []ActionKind{ActionStopT1, ActionStartT3, ActionNotifyConnected}, kinds(a2))
	assert.Equal(t, StateConnected, s.State)

	a3 := s.Step(Event{Kind: EventDisconnectRequest})
	assert.Equal(t, []ActionKind{ActionSendDISC, ActionStopT3, ActionStartT1}, kinds(a3))
	assert.Equal(t, StateDisconnecting, s.State)

	a4 := s.Step(Event{Kind: EventReceivedUA})
	assert.Equal(t, []ActionKind{ActionStopT1, ActionNotifyDisconnected}, kinds(a4))
	assert.Equal(t, StateDisconnected, s.State)
}

// S2 -- Out-of-sequence I-frame.
func TestScenarioOutOfSequenceIFrame(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnected

	actions := s.Step(Event{Kind: EventReceivedI, NS: 1, NR: 0, Payload: []byte("x")})

	require.Len(t, actions, 1)
	assert.Equal(t, ActionSendREJ, actions[0].Kind)
	assert.Equal(t, 0, actions[0].NR)
	assert.Equal(t, 0, s.Seq.VR)
}

// S3 -- In-sequence I-frame.
func TestScenarioInSequenceIFrame(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnected

	actions := s.Step(Event{Kind: EventReceivedI, NS: 0, NR: 0, Payload: []byte("x")})

	assert.Equal(t,
		[]ActionKind{ActionDeliverData, ActionSendRR, ActionStartT3, ActionStopT1},
		kinds(actions))
	assert.Equal(t, 1, s.Seq.VR)
	assert.Equal(t, []byte("x"), actions[0].Payload)
	assert.Equal(t, 1, actions[1].NR)
}

func TestConnectingReceivedDMRefuses(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnecting

	actions := s.Step(Event{Kind: EventReceivedDM})

	assert.Equal(t, []ActionKind{ActionStopT1, ActionNotifyError}, kinds(actions))
	assert.ErrorIs(t, actions[1].Err, ErrRefused)
	assert.Equal(t, StateDisconnected, s.State)
}

func TestConnectingRetriesExceededGoesToError(t *testing.T) {
	cfg := NewConfig(2, 2, false)
	s := NewSession(cfg)
	s.State = StateConnecting

	for i := 0; i < 2; i++ {
		actions := s.Step(Event{Kind: EventT1Timeout})
		assert.Equal(t, StateConnecting, s.State)
		assert.Equal(t, []ActionKind{ActionSendSABM, ActionStartT1}, kinds(actions))
	}

	actions := s.Step(Event{Kind: EventT1Timeout})
	assert.Equal(t, StateError, s.State)
	assert.ErrorIs(t, actions[0].Err, ErrRetriesExceeded)
}

func TestErrorStateAllowsReconnect(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateError

	actions := s.Step(Event{Kind: EventConnectRequest})
	assert.Equal(t, []ActionKind{ActionSendSABM, ActionStartT1}, kinds(actions))
	assert.Equal(t, StateConnecting, s.State)
}

func TestConnectedRRAcksAndStopsT1WhenClear(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnected
	s.Seq.VS = 3
	s.Seq.VA = 0

	actions := s.Step(Event{Kind: EventReceivedRR, NR: 3})

	assert.Equal(t, 3, s.Seq.VA)
	assert.Equal(t, []ActionKind{ActionStopT1, ActionStartT3}, kinds(actions))
}

func TestConnectedRRPartialAckKeepsT1Running(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnected
	s.Seq.VS = 3
	s.Seq.VA = 0

	actions := s.Step(Event{Kind: EventReceivedRR, NR: 1})

	assert.Equal(t, 1, s.Seq.VA)
	assert.Empty(t, actions)
}

func TestConnectedREJRestartsT1(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnected
	s.Seq.VS = 2
	s.Seq.VA = 0

	actions := s.Step(Event{Kind: EventReceivedREJ, NR: 1})

	assert.Equal(t, 1, s.Seq.VA)
	assert.Equal(t, []ActionKind{ActionStartT1}, kinds(actions))
}

func TestConnectedFRMRGoesToError(t *testing.T) {
	s := NewSession(DefaultConfig())
	s.State = StateConnected

	actions := s.Step(Event{Kind: EventReceivedFRMR})

	assert.Equal(t, StateError, s.State)
	assert.Equal(t, []ActionKind{ActionStopT3, ActionNotifyError}, kinds(actions))
	assert.ErrorIs(t, actions[1].Err, ErrProtocol)
}

func TestSendDataRespectsWindow(t *testing.T) {
	s := NewSession(NewConfig(1, 10, false))
	s.State = StateConnected

	actions := s.Step(Event{Kind: EventSendData, Payload: []byte("a")})
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendI, actions[0].Kind)
	assert.Equal(t, 1, s.Seq.VS)

	// Window size 1: outstanding == 1 == K, can't send another.
	actions = s.Step(Event{Kind: EventSendData, Payload: []byte("b")})
	assert.Empty(t, actions)
}

func TestConfigClampsWindowSize(t *testing.T) {
	cfg := NewConfig(999, 0, false)
	assert.Equal(t, 7, cfg.WindowSize)
	assert.Equal(t, 1, cfg.MaxRetries)

	cfgExt := NewConfig(999, 5, true)
	assert.Equal(t, 127, cfgExt.WindowSize)
}

// Property 1: outstandingCount = (V(S) - V(A)) mod M, in [0, M-1].
func TestPropertySequenceArithmetic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		modulo := rapid.SampledFrom([]int{8, 128}).Draw(t, "modulo")
		vs := rapid.IntRange(0, modulo-1).Draw(t, "vs")
		va := rapid.IntRange(0, modulo-1).Draw(t, "va")

		seq := SeqState{Modulo: modulo, VS: vs, VA: va}
		outstanding := seq.Outstanding()

		assert.GreaterOrEqual(t, outstanding, 0)
		assert.Less(t, outstanding, modulo)
		assert.Equal(t, mod(vs-va, modulo), outstanding)
	})
}

// Property 2: canSend(K) <=> outstandingCount < K.
func TestPropertyWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		modulo := rapid.SampledFrom([]int{8, 128}).Draw(t, "modulo")
		vs := rapid.IntRange(0, modulo-1).Draw(t, "vs")
		va := rapid.IntRange(0, modulo-1).Draw(t, "va")
		k := rapid.IntRange(1, modulo-1).Draw(t, "k")

		seq := SeqState{Modulo: modulo, VS: vs, VA: va}
		assert.Equal(t, seq.Outstanding() < k, seq.CanSend(k))
	})
}

// Property 3: RTO stays within [1.0, 30.0] after any number of samples.
func TestPropertyRTOClamp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		timers := NewTimers()

		samples := rapid.SliceOfN(rapid.Float64Range(0, 120), 0, 50).Draw(t, "samples")
		for _, s := range samples {
			timers.Sample(s)
			assert.GreaterOrEqual(t, timers.RTO, 1.0)
			assert.LessOrEqual(t, timers.RTO, 30.0)
		}

		backoffs := rapid.IntRange(0, 10).Draw(t, "backoffs")
		for i := 0; i < backoffs; i++ {
			timers.Backoff()
			assert.GreaterOrEqual(t, timers.RTO, 1.0)
			assert.LessOrEqual(t, timers.RTO, 30.0)
		}
	})
}
