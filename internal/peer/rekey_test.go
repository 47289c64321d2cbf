// SPDX-License-Identifier: MIT

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRekeyPolicyDueOnBytes(t *testing.T) {
	p := RekeyPolicy{MinInterval: time.Hour, MaxInterval: 2 * time.Hour, RequireAfterBytes: 1000}
	require.True(t, p.Due(time.Second, time.Hour, 1000))
	require.False(t, p.Due(time.Second, time.Hour, 999))
}

func TestRekeyPolicyDueOnJitter(t *testing.T) {
	p := RekeyPolicy{MinInterval: time.Minute, MaxInterval: 2 * time.Minute, RequireAfterBytes: 1 << 40}
	require.False(t, p.Due(30*time.Second, time.Minute, 0))
	require.True(t, p.Due(90*time.Second, time.Minute, 0))
}

func TestRekeyStateMachineDeadline(t *testing.T) {
	r := NewRekey(RekeyPolicy{MaxDuration: 10 * time.Millisecond})
	r.Begin()
	require.NoError(t, r.CheckDeadline())
	time.Sleep(20 * time.Millisecond)
	require.ErrorIs(t, r.CheckDeadline(), ErrRekeyTimeout)
}

func TestRekeyStateMachineIdleNeverTimesOut(t *testing.T) {
	r := NewRekey(RekeyPolicy{MaxDuration: time.Nanosecond})
	require.NoError(t, r.CheckDeadline())
}

func TestRekeyJitterDeadlineWithinBounds(t *testing.T) {
	p := RekeyPolicy{MinInterval: time.Minute, MaxInterval: 2 * time.Minute}
	for i := 0; i < 20; i++ {
		d, err := p.JitterDeadline()
		require.NoError(t, err)
		require.True(t, d >= p.MinInterval && d <= p.MaxInterval)
	}
}
