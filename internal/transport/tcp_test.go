// SPDX-License-Identifier: MIT

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPAcceptSendRecvRoundTrip(t *testing.T) {
	ln, port, err := ListenTCP(0)
	require.NoError(t, err)
	defer ln.Close()

	client, err := DialTCP("127.0.0.1:" + itoa(port))
	require.NoError(t, err)
	defer client.Close()

	var server Transport
	require.Eventually(t, func() bool {
		tr, _, err := ln.Accept()
		if err == ErrWouldBlock {
			return false
		}
		require.NoError(t, err)
		server = tr
		return true
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send([]byte("ping"), nil))
	buf := make([]byte, 64)
	n, _, err := server.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestTCPRecvWouldBlockWhenIdle(t *testing.T) {
	ln, port, err := ListenTCP(0)
	require.NoError(t, err)
	defer ln.Close()
	client, err := DialTCP("127.0.0.1:" + itoa(port))
	require.NoError(t, err)
	defer client.Close()

	buf := make([]byte, 64)
	_, _, err = client.Recv(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}
