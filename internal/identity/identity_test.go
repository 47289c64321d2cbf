// SPDX-License-Identifier: MIT

package identity

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveVerify(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	id := Derive(pub, TypePeer, SigningEd25519)
	require.True(t, Verify(id, pub, TypePeer, SigningEd25519))
	require.Equal(t, TypePeer, id.Type())
	require.Equal(t, SigningEd25519, id.SigningAlgorithm())
	require.Equal(t, uint8(CurrentVersion), id.Version())
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	pub1, _, _ := ed25519.GenerateKey(nil)
	pub2, _, _ := ed25519.GenerateKey(nil)

	id := Derive(pub1, TypePeer, SigningEd25519)
	require.False(t, Verify(id, pub2, TypePeer, SigningEd25519))
}

func TestParseStringRoundTrip(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	id := Derive(pub, TypeExtender, SigningEd25519)

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.True(t, id.Equals(parsed))
}

func TestIsZero(t *testing.T) {
	var id ID
	require.True(t, id.IsZero())
	pub, _, _ := ed25519.GenerateKey(nil)
	require.False(t, Derive(pub, TypePeer, SigningEd25519).IsZero())
}
