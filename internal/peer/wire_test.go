// SPDX-License-Identifier: MIT

package peer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.quantumgate.dev/qgate/internal/algorithms"
	"go.quantumgate.dev/qgate/internal/identity"
)

func TestDecodeHelloRoundTrip(t *testing.T) {
	h, err := NewHello([]uint8{1}, algorithms.SupportedSets{
		Hash:        []algorithms.Hash{algorithms.HashSHA256, algorithms.HashBLAKE2b},
		Primary:     []algorithms.PrimaryAsym{algorithms.PrimaryX25519},
		Secondary:   []algorithms.SecondaryAsym{algorithms.SecondaryNone},
		Symmetric:   algorithms.PreferredSymmetricOrder(),
		Compression: []uint8{0, 1, 2},
	}, 8)
	require.NoError(t, err)

	decoded, err := DecodeHello(h.Marshal())
	require.NoError(t, err)
	require.Equal(t, h.Versions, decoded.Versions)
	require.Equal(t, h.Nonce, decoded.Nonce)
	require.Equal(t, h.RandomPadding, decoded.RandomPadding)
	require.Equal(t, h.Supported, decoded.Supported)
}

func TestDecodeHelloTruncated(t *testing.T) {
	_, err := DecodeHello([]byte{3, 1, 2})
	require.ErrorIs(t, err, ErrShortMessage)
}

func TestDecodeEphemeralExchangeRoundTrip(t *testing.T) {
	e := EphemeralExchange{
		EphemeralPublic: []byte{1, 2, 3, 4},
		KEMPublic:       []byte{5, 6},
		KEMCiphertext:   nil,
	}
	decoded, err := DecodeEphemeralExchange(e.Marshal())
	require.NoError(t, err)
	require.Equal(t, e.EphemeralPublic, decoded.EphemeralPublic)
	require.Equal(t, e.KEMPublic, decoded.KEMPublic)
	require.Empty(t, decoded.KEMCiphertext)
}

func TestDecodeIdentityClaimRoundTrip(t *testing.T) {
	signer := algorithms.NewDefaultSuite(algorithms.Quintuple{}).Signer()
	pub, priv, err := signer.GenerateKeyPair()
	require.NoError(t, err)
	claim, err := BuildIdentityClaim(signer, identity.TypePeer, identity.SigningEd25519, pub, priv, []byte("transcript"))
	require.NoError(t, err)

	decoded, err := DecodeIdentityClaim(claim.Marshal())
	require.NoError(t, err)
	require.Equal(t, claim.Identity, decoded.Identity)
	require.Equal(t, claim.LongTermPublicKey, decoded.LongTermPublicKey)
	require.Equal(t, claim.Signature, decoded.Signature)
}

func TestDecodeExtenderAdvertisementRoundTrip(t *testing.T) {
	a := NewExtenderAdvertisement([]uint16{9, 3, 3, 1})
	decoded, err := DecodeExtenderAdvertisement(a.Marshal())
	require.NoError(t, err)
	require.Equal(t, a.Extenders, decoded.Extenders)
}
