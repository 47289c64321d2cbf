// SPDX-License-Identifier: MIT

package qgate

import (
	"context"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.quantumgate.dev/qgate/config"
	"go.quantumgate.dev/qgate/internal/transport"
)

func newTestInstance(t *testing.T) *LocalInstance {
	t.Helper()
	li, err := NewLocalInstance(config.Default(), NopLogger())
	require.NoError(t, err)
	require.NoError(t, li.Start())
	t.Cleanup(func() { _ = li.Close() })
	return li
}

func udpEndpointFor(t *testing.T, port uint16) transport.Endpoint {
	t.Helper()
	ep, err := transport.ResolveUDPEndpoint("127.0.0.1:" + strconv.Itoa(int(port)))
	require.NoError(t, err)
	return ep
}

func TestConnectToAndAcceptHandshakeReachReady(t *testing.T) {
	initiator := newTestInstance(t)
	responder := newTestInstance(t)

	initTransport, initPort, err := transport.ListenUDP(0)
	require.NoError(t, err)
	defer initTransport.Close()
	respTransport, respPort, err := transport.ListenUDP(0)
	require.NoError(t, err)
	defer respTransport.Close()

	respEndpoint := udpEndpointFor(t, respPort)
	initEndpoint := udpEndpointFor(t, initPort)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	var responderLUID uint64
	go func() {
		luid, err := responder.AcceptHandshake(ctx, respTransport, initEndpoint, []uint16{7})
		responderLUID = uint64(luid)
		done <- err
	}()

	initiatorLUID, err := initiator.ConnectTo(ctx, initTransport, respEndpoint, 0, netip.AddrPort{}, []uint16{3})
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NotZero(t, initiatorLUID)
	require.NotZero(t, responderLUID)

	initiator.peers.RLock()
	initSession, ok := initiator.peers.byLUID[initiatorLUID]
	initiator.peers.RUnlock()
	require.True(t, ok)
	require.Equal(t, responder.Identity(), initSession.identity)

	require.NoError(t, initiator.SendMessageTo(initiatorLUID, 3, []byte("hello")))
}

func TestConnectToRejectsWhenNotRunning(t *testing.T) {
	li, err := NewLocalInstance(config.Default(), NopLogger())
	require.NoError(t, err)

	tr, _, err := transport.ListenUDP(0)
	require.NoError(t, err)
	defer tr.Close()
	ep := udpEndpointFor(t, 1)

	_, err = li.ConnectTo(context.Background(), tr, ep, 0, netip.AddrPort{}, nil)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestConnectToRejectsInvalidHopCount(t *testing.T) {
	li := newTestInstance(t)
	tr, _, err := transport.ListenUDP(0)
	require.NoError(t, err)
	defer tr.Close()
	ep := udpEndpointFor(t, 1)

	_, err = li.ConnectTo(context.Background(), tr, ep, MaxHops+1, netip.AddrPort{}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDisconnectFromUnknownPeerFails(t *testing.T) {
	li := newTestInstance(t)
	err := li.DisconnectFrom(999, DisconnectLocalClose)
	require.ErrorIs(t, err, ErrPeerNotFound)
}

func TestSendMessageToUnknownPeerFails(t *testing.T) {
	li := newTestInstance(t)
	err := li.SendMessageTo(999, 1, []byte("x"))
	require.ErrorIs(t, err, ErrPeerNotFound)
}
