// SPDX-License-Identifier: MIT

package framing

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAEAD(t *testing.T) AEAD {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)
	return aead
}

func TestSealOpenRoundTrip(t *testing.T) {
	aead := testAEAD(t)
	nonce, err := RandomNonce()
	require.NoError(t, err)

	header := Header{Type: TypeData, Flags: 0}
	payload := []byte("quantumgate data frame")

	frame, err := Seal(nil, aead, nonce, header, payload, PaddingPolicy{PrefixMin: 4, PrefixMax: 12, PaddingMin: 0, PaddingMax: 8})
	require.NoError(t, err)

	gotNonce, opened, err := Open(aead, frame)
	require.NoError(t, err)
	require.Equal(t, nonce, gotNonce)
	require.Equal(t, TypeData, opened.Header.Type)
	require.Equal(t, payload, opened.Payload)
}

func TestSealOpenWithExtenderTagAndCompression(t *testing.T) {
	aead := testAEAD(t)
	nonce, err := RandomNonce()
	require.NoError(t, err)

	header := Header{
		Type:            TypeData,
		Flags:           FlagCompressed | FlagHasExtenderTag,
		UncompressedLen: 1234,
	}
	header.ExtenderTag[0] = 0xAB
	payload := []byte("compressed-bytes")

	frame, err := Seal(nil, aead, nonce, header, payload, DefaultPaddingPolicy)
	require.NoError(t, err)

	_, opened, err := Open(aead, frame)
	require.NoError(t, err)
	require.Equal(t, uint32(1234), opened.Header.UncompressedLen)
	require.Equal(t, byte(0xAB), opened.Header.ExtenderTag[0])
	require.Equal(t, payload, opened.Payload)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	aead := testAEAD(t)
	nonce, err := RandomNonce()
	require.NoError(t, err)

	frame, err := Seal(nil, aead, nonce, Header{Type: TypePing}, []byte("ping"), DefaultPaddingPolicy)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	_, _, err = Open(aead, frame)
	require.Error(t, err)
}

func TestNonceTrackerRejectsReplayAndOutOfOrder(t *testing.T) {
	var tr Tracker
	var n Nonce
	n[11] = 1
	require.True(t, tr.Accept(n))
	require.False(t, tr.Accept(n)) // exact replay

	lower := n
	lower[11] = 0
	require.False(t, tr.Accept(lower)) // out of order, strictly monotonic tracker rejects it

	higher := n
	higher[11] = 2
	require.True(t, tr.Accept(higher))
}

func TestNonceIncrementCarries(t *testing.T) {
	var n Nonce
	n[11] = 0xFF
	n.Increment()
	require.Equal(t, byte(0), n[11])
	require.Equal(t, byte(1), n[10])
}

func TestReplayFilterBasic(t *testing.T) {
	var f ReplayFilter
	f.Init()
	require.True(t, f.ValidateCounter(0, 1<<20))
	require.False(t, f.ValidateCounter(0, 1<<20)) // duplicate
	require.True(t, f.ValidateCounter(1, 1<<20))
}
