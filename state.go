package uvfile

import "sync/atomic"

// State is a FileHandle's lifecycle stage. Transitions are serialised on
// the loop goroutine and advance Creating -> Ready -> Closed, or
// Creating -> Errored -> Closed. A Create that fails before its worker
// step is dispatched returns the handle to the pre-create stage.
type State uint32

const (
	// statePreCreate is the zero value: Init has run but Create has not.
	statePreCreate State = iota
	// StateCreating indicates a create request is in flight.
	StateCreating
	// StateReady indicates the handle accepts writes.
	StateReady
	// StateErrored indicates create failed; the handle accepts no writes
	// and must be closed.
	StateErrored
	// StateClosed is terminal: all resources released, close callback
	// fired.
	StateClosed
)

func (s State) String() string {
	switch s {
	case statePreCreate:
		return "PreCreate"
	case StateCreating:
		return "Creating"
	case StateReady:
		return "Ready"
	case StateErrored:
		return "Errored"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// handleState is a lock-free CAS-guarded state cell, generalized from the
// loop's own fast-state machine to a file handle's lifecycle states.
// Transitions happen only on the loop goroutine in this engine, so the
// engine itself uses plain Load/Store; TryTransition offers the CAS form
// of that pattern.
type handleState struct {
	v atomic.Uint32
}

func newHandleState() *handleState {
	s := &handleState{}
	s.v.Store(uint32(statePreCreate))
	return s
}

func (s *handleState) Load() State {
	return State(s.v.Load())
}

func (s *handleState) Store(state State) {
	s.v.Store(uint32(state))
}

func (s *handleState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
