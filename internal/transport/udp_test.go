// SPDX-License-Identifier: MIT

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPSendRecvRoundTrip(t *testing.T) {
	a, portA, err := ListenUDP(0)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := ListenUDP(0)
	require.NoError(t, err)
	defer b.Close()

	dst, err := ResolveUDPEndpoint("127.0.0.1:" + itoa(portA))
	require.NoError(t, err)
	require.NoError(t, b.Send([]byte("hello"), dst))

	buf := make([]byte, 64)
	require.Eventually(t, func() bool {
		n, _, err := a.Recv(buf)
		if err == ErrWouldBlock {
			return false
		}
		require.NoError(t, err)
		return string(buf[:n]) == "hello"
	}, time.Second, 5*time.Millisecond)
}

func TestUDPRecvWouldBlockWhenIdle(t *testing.T) {
	a, _, err := ListenUDP(0)
	require.NoError(t, err)
	defer a.Close()

	buf := make([]byte, 64)
	_, _, err = a.Recv(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestUDPAcceptUnsupported(t *testing.T) {
	a, _, err := ListenUDP(0)
	require.NoError(t, err)
	defer a.Close()
	_, _, err = a.Accept()
	require.ErrorIs(t, err, ErrUnsupported)
}

func itoa(p uint16) string {
	if p == 0 {
		return "0"
	}
	digits := [5]byte{}
	i := len(digits)
	for p > 0 {
		i--
		digits[i] = byte('0' + p%10)
		p /= 10
	}
	return string(digits[i:])
}
