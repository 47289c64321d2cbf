// SPDX-License-Identifier: MIT

// Package transport implements the Transport abstraction & listener manager
// (Non-goals / §2): concrete OS socket I/O is kept behind a small
// nonblocking send/recv/accept interface so the peer, relay, and access
// layers never touch a raw socket. Grounded on conn/conn.go's Bind/Endpoint
// split, generalized from "one UDP bind" to "any of TCP, UDP, WebSocket, or
// Bluetooth RFCOMM, chosen per listener".
package transport

import (
	"errors"
	"net"
)

// ErrWouldBlock is returned by Recv when no datagram/connection is
// currently available; Send/Recv/Accept are all nonblocking.
var ErrWouldBlock = errors.New("transport: would block")

// ErrUnsupported is returned by adapters for operations their underlying
// medium cannot perform (e.g. Accept on a UDP Transport).
var ErrUnsupported = errors.New("transport: operation unsupported by this medium")

// Endpoint identifies a peer's address on a given Transport, mirroring
// conn.Endpoint but kept transport-agnostic: a WebSocket or Bluetooth RFCOMM
// endpoint has no meaningful net.IP, for instance.
type Endpoint interface {
	String() string
	Network() string // "tcp", "udp", "ws", "bluetooth"
}

// netEndpoint adapts a net.Addr (as returned by the standard library's
// net package) to Endpoint.
type netEndpoint struct{ addr net.Addr }

func (e netEndpoint) String() string  { return e.addr.String() }
func (e netEndpoint) Network() string { return e.addr.Network() }

// NetEndpoint wraps a standard library net.Addr as an Endpoint.
func NetEndpoint(addr net.Addr) Endpoint { return netEndpoint{addr} }

// Transport is the nonblocking send/recv/accept surface every concrete
// medium (TCP, UDP, WebSocket, Bluetooth RFCOMM) implements.
type Transport interface {
	// Send writes b to ep. For stream-oriented media (TCP/WS/Bluetooth)
	// ep is informational only; the Transport already has one peer.
	Send(b []byte, ep Endpoint) error

	// Recv reads one datagram/message into buf, returning ErrWouldBlock
	// if none is currently available.
	Recv(buf []byte) (n int, ep Endpoint, err error)

	// Accept returns a newly-connected peer Transport for connection-
	// oriented media, or ErrUnsupported for datagram media like UDP.
	// Returns ErrWouldBlock if no connection is currently pending.
	Accept() (Transport, Endpoint, error)

	LocalEndpoint() Endpoint
	Close() error
}

// Listener is the factory side: binds a local port/address and produces
// Transports via Accept (stream media) or is itself the Transport (UDP).
type Listener interface {
	Transport
}
