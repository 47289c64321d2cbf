// SPDX-License-Identifier: MIT

package events

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"go.quantumgate.dev/qgate/internal/access"
)

var errFake = errors.New("fake extender failure")

type stubExtender struct {
	id         uint16
	eventCount atomic.Int32
	msgCount   atomic.Int32
	failEvents bool
	failMsgs   bool
	panicOnMsg bool
}

func (s *stubExtender) OnStartup() error     { return nil }
func (s *stubExtender) OnPostStartup() error { return nil }
func (s *stubExtender) OnPreShutdown() error { return nil }
func (s *stubExtender) OnShutdown() error    { return nil }

func (s *stubExtender) OnPeerEvent(PeerEvent) error {
	s.eventCount.Add(1)
	if s.failEvents {
		return errFake
	}
	return nil
}

func (s *stubExtender) OnPeerMessage(PeerMessage) error {
	s.msgCount.Add(1)
	if s.panicOnMsg {
		panic("boom")
	}
	if s.failMsgs {
		return errFake
	}
	return nil
}

func TestDispatchPeerEventBroadcastsToAll(t *testing.T) {
	mgr := access.NewManager(access.Config{})
	d := NewDispatcher(mgr)
	a := &stubExtender{id: 1}
	b := &stubExtender{id: 2}
	d.Register(1, a)
	d.Register(2, b)

	d.DispatchPeerEvent(PeerEvent{Kind: PeerConnected})
	require.EqualValues(t, 1, a.eventCount.Load())
	require.EqualValues(t, 1, b.eventCount.Load())
}

func TestDispatchPeerEventFailureDeterioratesReputationOnly(t *testing.T) {
	mgr := access.NewManager(access.Config{})
	d := NewDispatcher(mgr)
	addr := netip.MustParseAddr("203.0.113.5")
	d.Register(1, &stubExtender{id: 1, failEvents: true})

	before := mgr.Score(addr)
	d.DispatchPeerEvent(PeerEvent{Addr: addr, Kind: PeerDisconnected, Reason: errFake})
	require.Equal(t, before+access.DeteriorateMinor, mgr.Score(addr))
}

func TestDispatchPeerMessageRoutesToNamedExtenderOnly(t *testing.T) {
	mgr := access.NewManager(access.Config{})
	d := NewDispatcher(mgr)
	a := &stubExtender{id: 1}
	b := &stubExtender{id: 2}
	d.Register(1, a)
	d.Register(2, b)

	d.DispatchPeerMessage(PeerMessage{Extender: 1, Payload: []byte("hi")})
	require.EqualValues(t, 1, a.msgCount.Load())
	require.EqualValues(t, 0, b.msgCount.Load())
}

func TestDispatchPeerMessagePanicDoesNotPropagate(t *testing.T) {
	mgr := access.NewManager(access.Config{})
	d := NewDispatcher(mgr)
	addr := netip.MustParseAddr("203.0.113.6")
	d.Register(1, &stubExtender{id: 1, panicOnMsg: true})

	before := mgr.Score(addr)
	require.NotPanics(t, func() {
		d.DispatchPeerMessage(PeerMessage{Addr: addr, Extender: 1})
	})
	require.Equal(t, before+access.DeteriorateMinor, mgr.Score(addr))
}
