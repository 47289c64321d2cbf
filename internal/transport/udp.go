// SPDX-License-Identifier: MIT

package transport

import (
	"net"
	"time"
)

// readDeadlineSlice bounds how long Recv blocks on the underlying socket
// before reporting ErrWouldBlock, keeping the nonblocking contract without
// spinning a busy loop.
const readDeadlineSlice = 10 * time.Millisecond

// UDPTransport wraps a net.UDPConn: one bound socket serves every peer and
// datagrams are self-delimiting. Datagrams are sent and received as they
// are: UDPTransport applies no forward error correction, retransmission,
// congestion control or MTU discovery, and does not call the protectors in
// internal/transport/udpfec.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket on port (0 selects an ephemeral port) and
// returns the bound Transport plus the actual port chosen.
func ListenUDP(port uint16) (*UDPTransport, uint16, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, 0, err
	}
	actual := conn.LocalAddr().(*net.UDPAddr).Port
	return &UDPTransport{conn: conn}, uint16(actual), nil
}

func (t *UDPTransport) Send(b []byte, ep Endpoint) error {
	udpEp, ok := ep.(netEndpoint)
	if !ok {
		return ErrUnsupported
	}
	_, err := t.conn.WriteTo(b, udpEp.addr.(*net.UDPAddr))
	return err
}

func (t *UDPTransport) Recv(buf []byte) (int, Endpoint, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(readDeadlineSlice)); err != nil {
		return 0, nil, err
	}
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, NetEndpoint(addr), nil
}

func (t *UDPTransport) Accept() (Transport, Endpoint, error) {
	return nil, nil, ErrUnsupported
}

func (t *UDPTransport) LocalEndpoint() Endpoint {
	return NetEndpoint(t.conn.LocalAddr())
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// ResolveUDPEndpoint parses "host:port" into an Endpoint usable with Send.
func ResolveUDPEndpoint(s string) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, err
	}
	return NetEndpoint(addr), nil
}
