// SPDX-License-Identifier: MIT

package access

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilterLongestPrefixBlockOverridesAllow(t *testing.T) {
	m := NewManager(Config{
		Filters: []FilterEntry{
			{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Allow: true},
			{Prefix: netip.MustParsePrefix("10.1.0.0/16"), Allow: false},
		},
		DefaultAllow: true,
	})

	require.True(t, m.CheckFilter(netip.MustParseAddr("10.2.0.1")))
	require.False(t, m.CheckFilter(netip.MustParseAddr("10.1.0.1")))
}

func TestFilterDefaultOnNoMatch(t *testing.T) {
	m := NewManager(Config{DefaultAllow: false})
	require.False(t, m.CheckFilter(netip.MustParseAddr("8.8.8.8")))

	m2 := NewManager(Config{DefaultAllow: true})
	require.True(t, m2.CheckFilter(netip.MustParseAddr("8.8.8.8")))
}

func TestReputationDeteriorateAndRefuse(t *testing.T) {
	m := NewManager(Config{})
	addr := netip.MustParseAddr("203.0.113.5")

	require.True(t, m.CheckReputation(addr))
	m.Deteriorate(addr, DeteriorateSevere)
	m.Deteriorate(addr, DeteriorateSevere)
	require.LessOrEqual(t, m.Score(addr), int32(0))
	require.False(t, m.CheckReputation(addr))
}

func TestReputationRecoversOverTime(t *testing.T) {
	m := NewManager(Config{ReputationRecovery: 1000})
	addr := netip.MustParseAddr("203.0.113.6")
	m.Deteriorate(addr, DeteriorateSevere)
	require.Less(t, m.Score(addr), int32(0))

	fake := now().Add(1 * time.Second)
	restore := now
	now = func() time.Time { return fake }
	defer func() { now = restore }()

	require.Equal(t, maxScore, m.Score(addr))
}

func TestSubnetCapRefusesOverLimit(t *testing.T) {
	m := NewManager(Config{
		SubnetLimits: []SubnetLimit{
			{Prefix: netip.MustParsePrefix("192.168.0.0/16"), MaxConnections: 1},
		},
	})
	addr1 := netip.MustParseAddr("192.168.1.1")
	addr2 := netip.MustParseAddr("192.168.1.2")

	require.True(t, m.CheckSubnetCap(addr1))
	m.RegisterConnection(addr1)
	require.False(t, m.CheckSubnetCap(addr2))

	m.ReleaseConnection(addr1)
	require.True(t, m.CheckSubnetCap(addr2))
}

func TestConnectionAttemptCounterTriggersModerateDeterioration(t *testing.T) {
	m := NewManager(Config{MaxPerInterval: 1, Interval: time.Minute})
	addr := netip.MustParseAddr("198.51.100.9")

	require.True(t, m.CheckReputation(addr))
	before := m.Score(addr)
	require.True(t, m.CheckReputation(addr)) // second attempt within interval overflows the window
	require.Less(t, m.Score(addr), before)
}
