package eventloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastStateTransitions(t *testing.T) {
	s := NewFastState()
	require.Equal(t, StateAwake, s.Load())

	require.True(t, s.TryTransition(StateAwake, StateRunning))
	require.Equal(t, StateRunning, s.Load())

	require.False(t, s.TryTransition(StateAwake, StateSleeping), "stale from-state must fail")

	require.True(t, s.TryTransition(StateRunning, StateSleeping))
	require.True(t, s.IsRunning())

	s.Store(StateTerminated)
	require.True(t, s.IsTerminal())
	require.False(t, s.CanAcceptWork())
}

func TestLoopStateString(t *testing.T) {
	require.Equal(t, "Awake", StateAwake.String())
	require.Equal(t, "Terminated", StateTerminated.String())
	require.Equal(t, "Unknown", LoopState(99).String())
}
