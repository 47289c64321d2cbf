// SPDX-License-Identifier: MIT

package transport

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket transport lets an extender () reach peers from networks
// that only permit outbound HTTPS, tunneling the same framed messages TCP
// carries over a ws:// or wss:// connection.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxFrameSize,
	WriteBufferSize: maxFrameSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSListener upgrades incoming HTTP requests on a path to WebSocket
// connections, handing each one back as a Transport via Accept.
type WSListener struct {
	addr     string
	path     string
	server   *http.Server
	accepted chan *WSTransport
	closed   chan struct{}
}

// ListenWS starts an HTTP server on addr upgrading requests at path to
// WebSocket connections.
func ListenWS(addr, path string) (*WSListener, error) {
	l := &WSListener{
		addr:     addr,
		path:     path,
		accepted: make(chan *WSTransport, 16),
		closed:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case l.accepted <- &WSTransport{conn: conn}:
		case <-l.closed:
			conn.Close()
		}
	})
	l.server = &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go l.server.Serve(ln)
	return l, nil
}

func (l *WSListener) Send([]byte, Endpoint) error       { return ErrUnsupported }
func (l *WSListener) Recv([]byte) (int, Endpoint, error) { return 0, nil, ErrUnsupported }

func (l *WSListener) Accept() (Transport, Endpoint, error) {
	select {
	case c := <-l.accepted:
		return c, NetEndpoint(c.conn.RemoteAddr()), nil
	case <-time.After(readDeadlineSlice):
		return nil, nil, ErrWouldBlock
	case <-l.closed:
		return nil, nil, ErrUnsupported
	}
}

func (l *WSListener) LocalEndpoint() Endpoint { return wsAddrEndpoint{l.addr} }

func (l *WSListener) Close() error {
	close(l.closed)
	return l.server.Close()
}

// DialWS connects out to a peer's WebSocket listener.
func DialWS(url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

// WSTransport wraps one upgraded *websocket.Conn as a Transport; each Send
// maps to one binary WebSocket message, so no length prefix is needed.
type WSTransport struct {
	conn *websocket.Conn
}

func (t *WSTransport) Send(b []byte, _ Endpoint) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (t *WSTransport) Recv(buf []byte) (int, Endpoint, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(readDeadlineSlice)); err != nil {
		return 0, nil, err
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err) {
			return 0, nil, err
		}
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	n := copy(buf, data)
	return n, NetEndpoint(t.conn.RemoteAddr()), nil
}

func (t *WSTransport) Accept() (Transport, Endpoint, error) { return nil, nil, ErrUnsupported }
func (t *WSTransport) LocalEndpoint() Endpoint              { return NetEndpoint(t.conn.LocalAddr()) }
func (t *WSTransport) Close() error                         { return t.conn.Close() }

type wsAddrEndpoint struct{ addr string }

func (e wsAddrEndpoint) String() string  { return e.addr }
func (e wsAddrEndpoint) Network() string { return "ws" }
