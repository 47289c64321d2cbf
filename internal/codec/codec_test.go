// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("quantumgate frame payload "), 64)

	for _, id := range []ID{None, Deflate, Zstandard} {
		c, err := ByID(id)
		require.NoError(t, err)

		compressed, ok := c.Compress(nil, payload)
		if id == None {
			require.False(t, ok)
		}

		decompressed, err := c.Decompress(nil, compressed, len(payload))
		require.NoError(t, err)
		require.Equal(t, payload, decompressed)
	}
}

func TestByIDUnknown(t *testing.T) {
	_, err := ByID(ID(99))
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestDeflateSkipsIncompressible(t *testing.T) {
	c := deflateCodec{}
	// A single byte never shrinks under DEFLATE's framing overhead; ok=false
	// tells the caller to set Compressed=0 and send src verbatim instead of
	// running it back through Decompress.
	small := []byte{1}
	out, ok := c.Compress(nil, small)
	require.False(t, ok)
	require.Equal(t, small, out)
}
