// SPDX-License-Identifier: MIT

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.quantumgate.dev/qgate/internal/access"
)

func TestFailureReputationDeltas(t *testing.T) {
	require.Equal(t, access.DeteriorateSevere, FailureCryptographic.ReputationDelta())
	require.Equal(t, access.DeteriorateModerate, FailureProtocolViolation.ReputationDelta())
	require.Equal(t, access.DeteriorateMinor, FailureExtender.ReputationDelta())
	require.Equal(t, int32(0), FailureTransport.ReputationDelta())
	require.True(t, FailureCryptographic.ClosesImmediately())
	require.False(t, FailureProtocolViolation.ClosesImmediately())
}

func TestCheckMessageAge(t *testing.T) {
	require.NoError(t, CheckMessageAge(time.Now(), 5*time.Second))
	require.ErrorIs(t, CheckMessageAge(time.Now().Add(-time.Minute), 5*time.Second), ErrMessageTooOld)
	require.ErrorIs(t, CheckMessageAge(time.Now().Add(time.Minute), 5*time.Second), ErrMessageTooOld)
}

func TestViolationCounterThreshold(t *testing.T) {
	v := NewViolationCounter(3)
	require.False(t, v.Record())
	require.False(t, v.Record())
	require.True(t, v.Record())
}
