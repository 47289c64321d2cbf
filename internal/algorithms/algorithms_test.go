// SPDX-License-Identifier: MIT

package algorithms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegotiatePicksLowestCommonIndex(t *testing.T) {
	local := SupportedSets{
		Hash:        []Hash{HashBLAKE2b, HashSHA256},
		Primary:     []PrimaryAsym{PrimaryX25519},
		Secondary:   []SecondaryAsym{SecondaryNone},
		Symmetric:   []Symmetric{SymmetricAES256GCM, SymmetricChaCha20Poly1305},
		Compression: []uint8{0, 1},
	}
	remote := SupportedSets{
		Hash:        []Hash{HashSHA256, HashBLAKE2b},
		Primary:     []PrimaryAsym{PrimaryX25519},
		Secondary:   []SecondaryAsym{SecondaryNone},
		Symmetric:   []Symmetric{SymmetricChaCha20Poly1305, SymmetricAES256GCM},
		Compression: []uint8{1, 0},
	}

	q, err := Negotiate(local, remote)
	require.NoError(t, err)
	require.Equal(t, HashSHA256, q.Hash)
	require.Equal(t, SymmetricChaCha20Poly1305, q.Symmetric)
	require.Equal(t, uint8(0), q.Compression)

	// Deterministic regardless of which side calls Negotiate first.
	q2, err := Negotiate(remote, local)
	require.NoError(t, err)
	require.Equal(t, q, q2)
}

func TestNegotiateMismatch(t *testing.T) {
	local := SupportedSets{Symmetric: []Symmetric{SymmetricAES256GCM}}
	remote := SupportedSets{Symmetric: []Symmetric{SymmetricChaCha20Poly1305}}
	_, err := Negotiate(local, remote)
	require.ErrorIs(t, err, ErrNoCommonAlgorithm)
}

func TestDefaultSuiteAEADRoundTrip(t *testing.T) {
	for _, sym := range []Symmetric{SymmetricAES256GCM, SymmetricChaCha20Poly1305} {
		suite := NewDefaultSuite(Quintuple{Symmetric: sym})
		var key SymmetricKey
		for i := range key {
			key[i] = byte(i)
		}
		aead := suite.AEAD(key)
		nonce := make([]byte, aead.NonceSize())
		plaintext := []byte("hello quantumgate")
		sealed := aead.Seal(nil, nonce, plaintext, []byte("ad"))
		opened, err := aead.Open(nil, nonce, sealed, []byte("ad"))
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestX25519SharedSecretAgrees(t *testing.T) {
	ex := x25519Exchanger{}
	aPub, aPriv, err := ex.GenerateEphemeral()
	require.NoError(t, err)
	bPub, bPriv, err := ex.GenerateEphemeral()
	require.NoError(t, err)

	s1, err := ex.SharedSecret(aPriv, bPub)
	require.NoError(t, err)
	s2, err := ex.SharedSecret(bPriv, aPub)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestEd25519SignVerify(t *testing.T) {
	signer := ed25519Signer{}
	pub, priv, err := signer.GenerateKeyPair()
	require.NoError(t, err)
	sig, err := signer.Sign(priv, []byte("transcript"))
	require.NoError(t, err)
	require.True(t, signer.Verify(pub, []byte("transcript"), sig))
	require.False(t, signer.Verify(pub, []byte("tampered"), sig))
}
