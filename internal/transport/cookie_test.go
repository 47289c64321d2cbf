// SPDX-License-Identifier: MIT

package transport

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCookieGuardRequiresCookieOnlyAboveThreshold(t *testing.T) {
	g, err := NewCookieGuard(2, time.Minute)
	require.NoError(t, err)

	a1 := netip.MustParseAddr("203.0.113.1")
	a2 := netip.MustParseAddr("203.0.113.2")
	a3 := netip.MustParseAddr("203.0.113.3")

	require.False(t, g.RequiresCookie(a1))
	g.RegisterAttempt(a1)
	require.False(t, g.RequiresCookie(a2))
	g.RegisterAttempt(a2)

	require.True(t, g.RequiresCookie(a3))
	// an address already in flight is never asked to re-solve
	require.False(t, g.RequiresCookie(a1))

	g.Release(a1)
	require.False(t, g.RequiresCookie(a3))
}

func TestCookieGuardZeroThresholdDisabled(t *testing.T) {
	g, err := NewCookieGuard(0, time.Minute)
	require.NoError(t, err)
	require.False(t, g.RequiresCookie(netip.MustParseAddr("203.0.113.1")))
}

func TestCookieIssueVerifyRoundTrip(t *testing.T) {
	g, err := NewCookieGuard(1, time.Minute)
	require.NoError(t, err)
	addr := netip.MustParseAddr("203.0.113.1")

	cookie := g.Issue(addr)
	require.NoError(t, g.Verify(addr, cookie))
}

func TestCookieVerifyRejectsWrongAddress(t *testing.T) {
	g, err := NewCookieGuard(1, time.Minute)
	require.NoError(t, err)
	cookie := g.Issue(netip.MustParseAddr("203.0.113.1"))
	err = g.Verify(netip.MustParseAddr("203.0.113.2"), cookie)
	require.ErrorIs(t, err, ErrCookieInvalid)
}

func TestCookieVerifyRejectsExpired(t *testing.T) {
	g, err := NewCookieGuard(1, -time.Second)
	require.NoError(t, err)
	addr := netip.MustParseAddr("203.0.113.1")
	cookie := g.Issue(addr)
	err = g.Verify(addr, cookie)
	require.ErrorIs(t, err, ErrCookieInvalid)
}

func TestCookieVerifyRejectsMalformed(t *testing.T) {
	g, err := NewCookieGuard(1, time.Minute)
	require.NoError(t, err)
	err = g.Verify(netip.MustParseAddr("203.0.113.1"), []byte("short"))
	require.ErrorIs(t, err, ErrCookieInvalid)
}
