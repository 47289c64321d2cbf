// SPDX-License-Identifier: MIT

package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMachineLegalPath(t *testing.T) {
	sm := newStateMachine()
	require.Equal(t, StateInitial, sm.Current())

	steps := []State{
		StateHandshakeKeyExchange,
		StateHandshakeAuth,
		StateReady,
		StateRekeying,
		StateReady,
		StateSuspended,
		StateReady,
		StateDisconnecting,
		StateClosed,
	}
	for _, s := range steps {
		require.NoError(t, sm.Transition(s))
	}
	require.True(t, sm.Is(StateClosed))
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	sm := newStateMachine()
	err := sm.Transition(StateReady)
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StateInitial, sm.Current())
}

func TestStateMachineClosedIsTerminal(t *testing.T) {
	sm := newStateMachine()
	require.NoError(t, sm.Transition(StateClosed))
	require.Error(t, sm.Transition(StateInitial))
}
