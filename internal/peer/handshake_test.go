// SPDX-License-Identifier: MIT

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.quantumgate.dev/qgate/internal/algorithms"
	"go.quantumgate.dev/qgate/internal/identity"
)

func sampleSupportedSets() algorithms.SupportedSets {
	return algorithms.SupportedSets{
		Hash:        []algorithms.Hash{algorithms.HashSHA256},
		Primary:     []algorithms.PrimaryAsym{algorithms.PrimaryX25519},
		Secondary:   []algorithms.SecondaryAsym{algorithms.SecondaryNone},
		Symmetric:   []algorithms.Symmetric{algorithms.SymmetricChaCha20Poly1305},
		Compression: []uint8{0},
	}
}

func TestNegotiateHelloSucceeds(t *testing.T) {
	local, err := NewHello([]uint8{1}, sampleSupportedSets(), 4)
	require.NoError(t, err)
	remote, err := NewHello([]uint8{1}, sampleSupportedSets(), 0)
	require.NoError(t, err)

	q, err := NegotiateHello(local, remote)
	require.NoError(t, err)
	require.Equal(t, algorithms.SymmetricChaCha20Poly1305, q.Symmetric)
}

func TestNegotiateHelloMismatch(t *testing.T) {
	local, _ := NewHello([]uint8{1}, algorithms.SupportedSets{Symmetric: []algorithms.Symmetric{algorithms.SymmetricAES256GCM}}, 0)
	remote, _ := NewHello([]uint8{1}, algorithms.SupportedSets{Symmetric: []algorithms.Symmetric{algorithms.SymmetricChaCha20Poly1305}}, 0)

	_, err := NegotiateHello(local, remote)
	require.ErrorIs(t, err, ErrAlgorithmMismatch)
}

func TestIdentityClaimRoundTrip(t *testing.T) {
	suite := algorithms.NewDefaultSuite(algorithms.Quintuple{})
	signer := suite.Signer()
	pub, priv, err := signer.GenerateKeyPair()
	require.NoError(t, err)

	var transcript Transcript
	transcript.Append([]byte("hello-bytes"))
	transcript.Append([]byte("ephemeral-exchange-bytes"))

	claim, err := BuildIdentityClaim(signer, identity.TypePeer, identity.SigningEd25519, pub, priv, transcript.Bytes())
	require.NoError(t, err)

	err = VerifyIdentityClaim(signer, claim, identity.TypePeer, identity.SigningEd25519, transcript.Bytes())
	require.NoError(t, err)
}

func TestIdentityClaimRejectsTamperedTranscript(t *testing.T) {
	suite := algorithms.NewDefaultSuite(algorithms.Quintuple{})
	signer := suite.Signer()
	pub, priv, _ := signer.GenerateKeyPair()

	var transcript Transcript
	transcript.Append([]byte("hello-bytes"))
	claim, err := BuildIdentityClaim(signer, identity.TypePeer, identity.SigningEd25519, pub, priv, transcript.Bytes())
	require.NoError(t, err)

	var tampered Transcript
	tampered.Append([]byte("different-bytes"))
	err = VerifyIdentityClaim(signer, claim, identity.TypePeer, identity.SigningEd25519, tampered.Bytes())
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestIdentityClaimRejectsWrongKey(t *testing.T) {
	suite := algorithms.NewDefaultSuite(algorithms.Quintuple{})
	signer := suite.Signer()
	pub, priv, _ := signer.GenerateKeyPair()
	otherPub, _, _ := signer.GenerateKeyPair()

	transcript := []byte("transcript")
	claim, err := BuildIdentityClaim(signer, identity.TypePeer, identity.SigningEd25519, pub, priv, transcript)
	require.NoError(t, err)

	claim.Identity = identity.Derive(otherPub, identity.TypePeer, identity.SigningEd25519)
	err = VerifyIdentityClaim(signer, claim, identity.TypePeer, identity.SigningEd25519, transcript)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestExtenderAdvertisementSortsAndDedups(t *testing.T) {
	adv := NewExtenderAdvertisement([]uint16{5, 1, 5, 3, 1})
	require.Equal(t, []uint16{1, 3, 5}, adv.Extenders)
}

func TestDeadlineExpires(t *testing.T) {
	d := NewDeadline(10 * time.Millisecond)
	require.NoError(t, d.Check())
	time.Sleep(20 * time.Millisecond)
	require.ErrorIs(t, d.Check(), ErrHandshakeTimeout)
}

func TestHandshakeDelayWithinBound(t *testing.T) {
	max := 50 * time.Millisecond
	for i := 0; i < 20; i++ {
		d, err := HandshakeDelay(max)
		require.NoError(t, err)
		require.True(t, d >= 0 && d <= max)
	}
}

func TestDecoyScheduleWithinBounds(t *testing.T) {
	schedule, err := DecoySchedule(5, 100*time.Millisecond)
	require.NoError(t, err)
	require.LessOrEqual(t, len(schedule), 5)
	for _, d := range schedule {
		require.True(t, d >= 0 && d <= 100*time.Millisecond)
	}
}
