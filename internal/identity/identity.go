// SPDX-License-Identifier: MIT

// Package identity implements PeerIdentity: a 128-bit value derived from a
// peer's long-term public signing key, verifiable without a central CA.
//
// The layout mirrors the fixed-size-array key types in WireGuard-go's
// device/noise-types.go (constant-time Equals, hex (de)serialization), but
// carries version/type/algorithm tag bits instead of being a bare key.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

const Size = 16

// Type distinguishes a peer identity from an extender identity; both share
// the 128-bit identifier format.
type Type uint8

const (
	TypePeer Type = iota
	TypeExtender
)

// SigningAlgorithm identifies the long-term signing key algorithm the
// identity was derived from.
type SigningAlgorithm uint8

const (
	SigningEd25519 SigningAlgorithm = iota
	SigningEd448
)

// ID is a 128-bit PeerIdentity: version (4 bits), type (3 bits), signing
// algorithm (1 bit), and 120 bits derived from the peer's public key. Only
// the low bit of the signing algorithm is stored, so Ed25519 and Ed448 are
// the only algorithms an ID can tell apart.
type ID [Size]byte

const CurrentVersion = 1

// site keys: fixed, public, non-secret domain-separation constants mixed
// into the derivation hash so PeerIdentity values are not simply a prefix
// of the signing key. Equivalent in spirit to WireGuard's use of distinct
// HKDF info strings per derived value.
var (
	siteKeyA = sha256.Sum256([]byte("qgate-peer-identity-site-key-a"))
	siteKeyB = sha256.Sum256([]byte("qgate-peer-identity-site-key-b"))
)

// Derive computes the PeerIdentity for a given long-term public key, type,
// and signing algorithm.
func Derive(publicKey []byte, typ Type, alg SigningAlgorithm) ID {
	h := sha256.New()
	h.Write(siteKeyA[:])
	h.Write(publicKey)
	h.Write(siteKeyB[:])
	digest := h.Sum(nil)

	var id ID
	copy(id[:], digest[:Size])

	// Pack version(4) into the high nibble of byte 0, type(3) into bits 1-3
	// of byte 0, and alg(1) into bit 0 of byte 1, leaving the remaining 120
	// bits as derived from the hash.
	id[0] = (id[0] & 0x01) | (CurrentVersion << 4) | (byte(typ) << 1)
	id[1] = (id[1] & 0xfe) | (byte(alg) & 0x01)
	return id
}

// Verify reports whether id is derivable from publicKey, ignoring the
// version/type/alg tag bits: all bits except those tags must match.
func Verify(id ID, publicKey []byte, typ Type, alg SigningAlgorithm) bool {
	want := Derive(publicKey, typ, alg)
	// Compare everything except the tag bits in bytes 0-1.
	var a, b ID
	a, b = id, want
	a[0] &= 0x01
	b[0] &= 0x01
	a[1] &= 0xfe
	b[1] &= 0xfe
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// VerifyEd25519 is a convenience for the common case of an Ed25519 signing
// key.
func VerifyEd25519(id ID, publicKey ed25519.PublicKey, typ Type) bool {
	return Verify(id, publicKey, typ, SigningEd25519)
}

func (id ID) Version() uint8 {
	return id[0] >> 4
}

func (id ID) Type() Type {
	return Type((id[0] >> 1) & 0x07)
}

func (id ID) SigningAlgorithm() SigningAlgorithm {
	return SigningAlgorithm(id[1] & 0x01)
}

func (id ID) Equals(other ID) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

func (id ID) IsZero() bool {
	var zero ID
	return id.Equals(zero)
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func Parse(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != Size {
		return id, errors.New("identity: wrong length")
	}
	copy(id[:], b)
	return id, nil
}
