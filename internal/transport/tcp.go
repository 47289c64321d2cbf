// SPDX-License-Identifier: MIT

package transport

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// lengthPrefixSize is the size of the length-delimiting header the TCP
// transport adds in front of every frame, since unlike UDP a stream has no
// natural message boundary. WebSocket needs none: each frame is one
// WebSocket message.
const lengthPrefixSize = 4

const maxFrameSize = 1 << 20

// TCPListener accepts inbound stream connections, handing each one back as
// its own Transport, the "accept" verb on connection-oriented media.
type TCPListener struct {
	ln net.Listener
}

func ListenTCP(port uint16) (*TCPListener, uint16, error) {
	ln, err := net.Listen("tcp", (&net.TCPAddr{Port: int(port)}).String())
	if err != nil {
		return nil, 0, err
	}
	actual := ln.Addr().(*net.TCPAddr).Port
	return &TCPListener{ln: ln}, uint16(actual), nil
}

func (l *TCPListener) Send([]byte, Endpoint) error { return ErrUnsupported }
func (l *TCPListener) Recv([]byte) (int, Endpoint, error) {
	return 0, nil, ErrUnsupported
}

func (l *TCPListener) Accept() (Transport, Endpoint, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	// net.Listener.Accept has no deadline knob, so when the listener is a
	// *net.TCPListener a deadline readDeadlineSlice ahead is set before each
	// Accept and a timeout is reported as ErrWouldBlock; this keeps the
	// Transport.Accept contract nonblocking without reimplementing accept(2)
	// semantics.
	if tl, ok := l.ln.(*net.TCPListener); ok {
		if err := tl.SetDeadline(time.Now().Add(readDeadlineSlice)); err != nil {
			return nil, nil, err
		}
	}
	conn, err := l.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, ErrWouldBlock
		}
		return nil, nil, err
	}
	return &TCPTransport{conn: conn}, NetEndpoint(conn.RemoteAddr()), nil
}

func (l *TCPListener) LocalEndpoint() Endpoint { return NetEndpoint(l.ln.Addr()) }
func (l *TCPListener) Close() error            { return l.ln.Close() }

// TCPTransport wraps one connected net.Conn as a length-prefixed message
// stream, giving TCP the same framed-message Transport surface as UDP.
type TCPTransport struct {
	conn net.Conn
}

// DialTCP connects out to addr, for the "extender" / relay client role.
func DialTCP(addr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPTransport{conn: conn}, nil
}

func (t *TCPTransport) Send(b []byte, _ Endpoint) error {
	var hdr [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *TCPTransport) Recv(buf []byte) (int, Endpoint, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(readDeadlineSlice)); err != nil {
		return 0, nil, err
	}
	var hdr [lengthPrefixSize]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize || int(n) > len(buf) {
		return 0, nil, io.ErrShortBuffer
	}
	if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(t.conn, buf[:n]); err != nil {
		return 0, nil, err
	}
	return int(n), NetEndpoint(t.conn.RemoteAddr()), nil
}

func (t *TCPTransport) Accept() (Transport, Endpoint, error) { return nil, nil, ErrUnsupported }
func (t *TCPTransport) LocalEndpoint() Endpoint              { return NetEndpoint(t.conn.LocalAddr()) }
func (t *TCPTransport) Close() error                         { return t.conn.Close() }
