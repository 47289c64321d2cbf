// SPDX-License-Identifier: MIT

// Package algorithms defines the AlgorithmSuite interface the cryptographic
// primitives are used through, and a default, pluggable implementation
// built the way WireGuard-go's device/noise-types.go builds its NoisePublicKey/
// NoisePrivateKey/NoiseSymmetricKey types: fixed-size byte arrays with
// constant-time comparisons, plus golang.org/x/crypto primitives for the
// actual math.
package algorithms

import "errors"

// Hash identifies a transcript/KDF hash algorithm.
type Hash uint8

const (
	HashSHA256 Hash = iota
	HashBLAKE2b
)

// PrimaryAsym identifies the ECDH algorithm used for the ephemeral exchange.
type PrimaryAsym uint8

const (
	PrimaryX25519 PrimaryAsym = iota
)

// SecondaryAsym identifies an optional post-quantum KEM mixed into the
// shared secret. Concrete PQ KEMs (classic McEliece, NTRU Prime) have their
// primitives explicitly out of scope here; nopKEM in default_suite.go is the
// only implementation shipped here, and the interface is the extension point
// for an application to plug one in.
type SecondaryAsym uint8

const (
	SecondaryNone SecondaryAsym = iota
	SecondaryKEM
)

// Symmetric identifies the AEAD cipher used to seal frames.
type Symmetric uint8

const (
	SymmetricChaCha20Poly1305 Symmetric = iota
	SymmetricAES256GCM
)

// Quintuple is the negotiated algorithm set for a peer, immutable after
// handshake completion (invariant).
type Quintuple struct {
	Hash        Hash
	Primary     PrimaryAsym
	Secondary   SecondaryAsym
	Symmetric   Symmetric
	Compression uint8 // interpreted by the codec package; kept untyped here to avoid an import cycle
}

// NonceSize is fixed by the wire format ("u8[12] nonce").
const NonceSize = 12

// TagSize is fixed by the wire format ("u8[16] auth_tag").
const TagSize = 16

// SymmetricKeySize is the size of a derived AEAD key.
const SymmetricKeySize = 32

type SymmetricKey [SymmetricKeySize]byte

// AEAD seals and opens frames under a single negotiated symmetric cipher.
type AEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// KeyExchanger performs the ephemeral ECDH half of the handshake.
type KeyExchanger interface {
	GenerateEphemeral() (public, private []byte, err error)
	SharedSecret(localPrivate, remotePublic []byte) ([]byte, error)
	PublicKeySize() int
}

// KEM performs the optional post-quantum encapsulation half of the
// handshake (step 2): the initiator sends a KEM public key, the
// responder replies with an encapsulated secret.
type KEM interface {
	GenerateKeyPair() (public, private []byte, err error)
	Encapsulate(peerPublic []byte) (ciphertext, sharedSecret []byte, err error)
	Decapsulate(ciphertext, localPrivate []byte) (sharedSecret []byte, err error)
}

// Signer produces and verifies the IdentityClaim transcript signature
// (step 3).
type Signer interface {
	GenerateKeyPair() (public, private []byte, err error)
	Sign(private, message []byte) ([]byte, error)
	Verify(public, message, signature []byte) bool
	PublicKeySize() int
}

// KDF derives a shared secret into transcript hashes and AEAD keys.
type KDF interface {
	Hash(data ...[]byte) []byte
	DeriveKey(secret []byte, info string) SymmetricKey
	HashSize() int
}

// Suite bundles one selectable instance of every primitive slot, keyed by
// the negotiated Quintuple.
type Suite interface {
	Hash() Hash
	KeyExchange() KeyExchanger
	KEM() KEM // nil if SecondaryAsym == SecondaryNone
	AEAD(key SymmetricKey) AEAD
	Signer() Signer
	KDF() KDF
}

// SupportedSets is the intersection input to Hello negotiation: the set of
// values a peer offers for each axis of the quintuple, in preference
// order.
type SupportedSets struct {
	Hash        []Hash
	Primary     []PrimaryAsym
	Secondary   []SecondaryAsym
	Symmetric   []Symmetric
	Compression []uint8
}

var ErrNoCommonAlgorithm = errors.New("algorithms: no common algorithm")

// Negotiate picks the lexicographically lowest index in each set,
// applied independently per axis over the set intersection, deterministic
// on both sides regardless of which side is the initiator.
func Negotiate(local, remote SupportedSets) (Quintuple, error) {
	var q Quintuple
	var err error

	if q.Hash, err = pickHash(local.Hash, remote.Hash); err != nil {
		return q, err
	}
	if q.Primary, err = pickPrimary(local.Primary, remote.Primary); err != nil {
		return q, err
	}
	if q.Secondary, err = pickSecondary(local.Secondary, remote.Secondary); err != nil {
		return q, err
	}
	if q.Symmetric, err = pickSymmetric(local.Symmetric, remote.Symmetric); err != nil {
		return q, err
	}
	if q.Compression, err = pickCompression(local.Compression, remote.Compression); err != nil {
		return q, err
	}
	return q, nil
}

func pickHash(a, b []Hash) (Hash, error) {
	for _, v := range a {
		for _, w := range b {
			if v == w {
				return minHash(a, b), nil
			}
		}
	}
	return 0, ErrNoCommonAlgorithm
}

// minHash returns the lowest value present in both sets; "lexicographically
// lowest index" is interpreted as the lowest enum value common to both
// offers, which is deterministic independent of offer order on either side.
func minHash(a, b []Hash) Hash {
	best := Hash(255)
	have := false
	for _, v := range a {
		if !containsHash(b, v) {
			continue
		}
		if !have || v < best {
			best, have = v, true
		}
	}
	return best
}

func containsHash(s []Hash, v Hash) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func pickPrimary(a, b []PrimaryAsym) (PrimaryAsym, error) {
	best := PrimaryAsym(255)
	have := false
	for _, v := range a {
		for _, w := range b {
			if v == w && (!have || v < best) {
				best, have = v, true
			}
		}
	}
	if !have {
		return 0, ErrNoCommonAlgorithm
	}
	return best, nil
}

func pickSecondary(a, b []SecondaryAsym) (SecondaryAsym, error) {
	best := SecondaryAsym(255)
	have := false
	for _, v := range a {
		for _, w := range b {
			if v == w && (!have || v < best) {
				best, have = v, true
			}
		}
	}
	if !have {
		return 0, ErrNoCommonAlgorithm
	}
	return best, nil
}

func pickSymmetric(a, b []Symmetric) (Symmetric, error) {
	best := Symmetric(255)
	have := false
	for _, v := range a {
		for _, w := range b {
			if v == w && (!have || v < best) {
				best, have = v, true
			}
		}
	}
	if !have {
		return 0, ErrNoCommonAlgorithm
	}
	return best, nil
}

func pickCompression(a, b []uint8) (uint8, error) {
	best := uint8(255)
	have := false
	for _, v := range a {
		for _, w := range b {
			if v == w && (!have || v < best) {
				best, have = v, true
			}
		}
	}
	if !have {
		return 0, ErrNoCommonAlgorithm
	}
	return best, nil
}
