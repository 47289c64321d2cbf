// SPDX-License-Identifier: MIT

package relay

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmitRejectsExcludedNetwork(t *testing.T) {
	table := NewTable(Policy{
		MaxHops:            5,
		ExcludedNetworksV4: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})
	err := table.Admit(netip.MustParseAddr("10.1.2.3"), 2)
	require.ErrorIs(t, err, ErrRelayLoop)
}

func TestAdmitRejectsTooManyHops(t *testing.T) {
	table := NewTable(Policy{MaxHops: 3})
	err := table.Admit(netip.MustParseAddr("8.8.8.8"), 4)
	require.ErrorIs(t, err, ErrTooManyHops)
}

func TestAdmitRejectsDeniedAdmission(t *testing.T) {
	table := NewTable(Policy{
		MaxHops:   5,
		Admission: func(netip.Addr) bool { return false },
	})
	err := table.Admit(netip.MustParseAddr("8.8.8.8"), 1)
	require.ErrorIs(t, err, ErrAdmissionDenied)
}

func TestOpenAndLookupRoundTrip(t *testing.T) {
	table := NewTable(Policy{GracePeriod: time.Minute})
	link, err := table.Open(2, 100, 200, DirectionForward)
	require.NoError(t, err)
	require.NotNil(t, table.Lookup(link.RelayPort))

	table.Close(link.RelayPort)
	require.Nil(t, table.Lookup(link.RelayPort))
	require.True(t, table.InGracePeriod(link.RelayPort))
}

func TestOpenWithPortRejectsDuplicate(t *testing.T) {
	table := NewTable(Policy{})
	_, err := table.OpenWithPort(42, 1, 1, 2, DirectionForward)
	require.NoError(t, err)
	_, err = table.OpenWithPort(42, 1, 1, 2, DirectionForward)
	require.ErrorIs(t, err, ErrPortInUse)
}

func TestForwarderRoutesToOppositeEndpoint(t *testing.T) {
	link, err := NewTable(Policy{}).Open(1, 10, 20, DirectionForward)
	require.NoError(t, err)

	var gotTarget uint64
	f := &Forwarder{Emit: func(target, port uint64, payload []byte) error {
		gotTarget = target
		return nil
	}}
	require.NoError(t, f.Forward(link, 10, []byte("payload")))
	require.Equal(t, uint64(20), gotTarget)

	require.NoError(t, f.Forward(link, 20, []byte("payload")))
	require.Equal(t, uint64(10), gotTarget)
}

func TestForwarderRejectsSuspendedLink(t *testing.T) {
	link, err := NewTable(Policy{}).Open(1, 10, 20, DirectionForward)
	require.NoError(t, err)
	link.Suspend()

	f := &Forwarder{Emit: func(uint64, uint64, []byte) error { return nil }}
	require.ErrorIs(t, f.Forward(link, 10, nil), ErrLinkSuspended)
}

func TestSweepSuspendedTearsDownExpired(t *testing.T) {
	table := NewTable(Policy{MaxSuspendDuration: 10 * time.Millisecond})
	link, err := table.Open(1, 10, 20, DirectionForward)
	require.NoError(t, err)
	link.Suspend()

	time.Sleep(20 * time.Millisecond)
	expired := table.SweepSuspended()
	require.Contains(t, expired, link.RelayPort)
	require.Nil(t, table.Lookup(link.RelayPort))
}

func TestCloseReferencingClosesBothDirectionsAndStartsGrace(t *testing.T) {
	table := NewTable(Policy{GracePeriod: time.Minute})
	a, err := table.Open(1, 10, 20, DirectionForward)
	require.NoError(t, err)
	b, err := table.Open(1, 20, 30, DirectionForward)
	require.NoError(t, err)
	other, err := table.Open(1, 99, 100, DirectionForward)
	require.NoError(t, err)

	closed := table.CloseReferencing(20)
	require.Len(t, closed, 2)
	ports := map[uint64]bool{closed[0].RelayPort: true, closed[1].RelayPort: true}
	require.True(t, ports[a.RelayPort])
	require.True(t, ports[b.RelayPort])

	require.Nil(t, table.Lookup(a.RelayPort))
	require.Nil(t, table.Lookup(b.RelayPort))
	require.True(t, table.InGracePeriod(a.RelayPort))
	require.True(t, table.InGracePeriod(b.RelayPort))

	require.NotNil(t, table.Lookup(other.RelayPort))
}

func TestCloseReferencingNoMatchReturnsNil(t *testing.T) {
	table := NewTable(Policy{})
	_, err := table.Open(1, 10, 20, DirectionForward)
	require.NoError(t, err)
	require.Nil(t, table.CloseReferencing(999))
}

func TestGracePeriodExpires(t *testing.T) {
	table := NewTable(Policy{GracePeriod: 10 * time.Millisecond})
	link, err := table.Open(1, 10, 20, DirectionForward)
	require.NoError(t, err)
	table.Close(link.RelayPort)
	require.True(t, table.InGracePeriod(link.RelayPort))

	time.Sleep(20 * time.Millisecond)
	require.False(t, table.InGracePeriod(link.RelayPort))
}
