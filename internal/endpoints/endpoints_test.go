// SPDX-License-Identifier: MIT

package endpoints

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportAccumulatesReporterNetworks(t *testing.T) {
	m := NewManager(Config{MaxEndpoints: 4, MaxReportingPeerNetworks: 16})
	claimed := netip.MustParseAddr("203.0.113.9")

	e := m.Report(netip.MustParseAddr("198.51.100.1"), claimed)
	require.Equal(t, 1, e.ReporterNetworkCount())
	e = m.Report(netip.MustParseAddr("198.51.100.2"), claimed) // same /16
	require.Equal(t, 1, e.ReporterNetworkCount())
	e = m.Report(netip.MustParseAddr("192.0.2.1"), claimed) // different /16
	require.Equal(t, 2, e.ReporterNetworkCount())
}

func TestEvictsLeastRelevantWhenFull(t *testing.T) {
	m := NewManager(Config{MaxEndpoints: 1, MaxReportingPeerNetworks: 16})
	first := netip.MustParseAddr("203.0.113.1")
	second := netip.MustParseAddr("203.0.113.2")

	m.Report(netip.MustParseAddr("198.51.100.1"), first)
	require.NotNil(t, m.Get(first))

	m.Report(netip.MustParseAddr("198.51.100.1"), second)
	require.Nil(t, m.Get(first))
	require.NotNil(t, m.Get(second))
}

func TestVerifiedRequiresThreeNetworksAndBothChecks(t *testing.T) {
	e := &Entry{reporterNetworks: map[netip.Prefix]struct{}{}}
	e.reporterNetworks[netip.MustParsePrefix("198.51.100.0/16")] = struct{}{}
	e.reporterNetworks[netip.MustParsePrefix("192.0.2.0/16")] = struct{}{}
	e.DataVerified = true
	e.HopVerified = true
	require.False(t, e.Verified()) // only 2 networks

	e.reporterNetworks[netip.MustParsePrefix("203.0.113.0/16")] = struct{}{}
	require.True(t, e.Verified())
}

type fakeDataVerifier struct{ okAfter int }

func (f *fakeDataVerifier) SendAndAwaitEcho(ctx context.Context, addr netip.AddrPort, nonce uint64, timeout time.Duration) (bool, error) {
	f.okAfter--
	return f.okAfter <= 0, nil
}

type fakeHopVerifier struct{ ok bool }

func (f *fakeHopVerifier) PingWithinHops(ctx context.Context, addr netip.AddrPort, maxHops int) (bool, error) {
	return f.ok, nil
}

func TestVerifyDataRetriesUntilSuccess(t *testing.T) {
	dv := &fakeDataVerifier{okAfter: 2}
	ok, err := VerifyData(context.Background(), dv, netip.MustParseAddrPort("203.0.113.1:9999"), time.Millisecond, 5)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyEndToEnd(t *testing.T) {
	entry := &Entry{Addr: netip.MustParseAddr("203.0.113.1"), reporterNetworks: map[netip.Prefix]struct{}{}}
	err := Verify(context.Background(), entry, &fakeDataVerifier{okAfter: 1}, &fakeHopVerifier{ok: true}, 51820, time.Millisecond, 3, false)
	require.NoError(t, err)
	require.True(t, entry.DataVerified)
	require.True(t, entry.HopVerified)
}

func TestMaxHopsFor(t *testing.T) {
	require.Equal(t, 0, MaxHopsFor(true))
	require.Equal(t, 2, MaxHopsFor(false))
}
