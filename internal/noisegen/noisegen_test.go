// SPDX-License-Identifier: MIT

package noisegen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDerivePolicyShrinksMessageSizeWhenNeeded(t *testing.T) {
	b := BandwidthTarget{MinBandwidth: 10, MaxBandwidth: 100, Interval: time.Second}
	p, err := b.DerivePolicy(1000)
	require.NoError(t, err)
	require.LessOrEqual(t, p.MaxMessageSize, 1000)
	require.Greater(t, p.MaxMessagesPerInterval, 0)
}

func TestDerivePolicySaturateSetsMinEqualMax(t *testing.T) {
	b := BandwidthTarget{MinBandwidth: 10, MaxBandwidth: 1000, Interval: time.Second, Saturate: true}
	p, err := b.DerivePolicy(100)
	require.NoError(t, err)
	require.Equal(t, p.MaxMessagesPerInterval, p.MinMessagesPerInterval)
}

func TestScheduleWithinPolicyBounds(t *testing.T) {
	p := Policy{
		MinMessagesPerInterval: 2,
		MaxMessagesPerInterval: 5,
		MinMessageSize:         10,
		MaxMessageSize:         20,
		Interval:               time.Second,
	}
	frames, err := Schedule(p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frames), 2)
	require.LessOrEqual(t, len(frames), 5)
	for _, f := range frames {
		require.True(t, f.SendAt >= 0 && f.SendAt <= p.Interval)
		require.GreaterOrEqual(t, len(f.Payload), p.MinMessageSize)
		require.LessOrEqual(t, len(f.Payload), p.MaxMessageSize)
	}
}

func TestGeneratorSuppressedWhenSuspended(t *testing.T) {
	emitted := 0
	g := &Generator{
		Policy: Policy{
			MinMessagesPerInterval: 1,
			MaxMessagesPerInterval: 1,
			MinMessageSize:         1,
			MaxMessageSize:         1,
			Interval:               10 * time.Millisecond,
		},
		Emit:      func(Frame) { emitted++ },
		Suspended: func() bool { return true },
	}
	g.Start()
	time.Sleep(35 * time.Millisecond)
	g.Stop()
	require.Equal(t, 0, emitted)
}

func TestGeneratorEmitsWhenNotSuspended(t *testing.T) {
	emitted := 0
	g := &Generator{
		Policy: Policy{
			MinMessagesPerInterval: 1,
			MaxMessagesPerInterval: 1,
			MinMessageSize:         1,
			MaxMessageSize:         1,
			Interval:               10 * time.Millisecond,
		},
		Emit:      func(Frame) { emitted++ },
		Suspended: func() bool { return false },
	}
	g.Start()
	time.Sleep(35 * time.Millisecond)
	g.Stop()
	require.Greater(t, emitted, 0)
}
