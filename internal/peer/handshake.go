// SPDX-License-Identifier: MIT

package peer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.quantumgate.dev/qgate/internal/algorithms"
	"go.quantumgate.dev/qgate/internal/identity"
)

// Handshake protocol errors ("Handshake protocol" / "Failure
// semantics").
var (
	ErrAlgorithmMismatch  = errors.New("peer: no common algorithm set")
	ErrAuthFailure        = errors.New("peer: identity verification failed")
	ErrHandshakeTimeout   = errors.New("peer: handshake exceeded max_handshake_duration")
	ErrTranscriptMismatch = errors.New("peer: signature does not cover transcript")
)

// Hello is step 1: each side offers its supported algorithm sets.
type Hello struct {
	Versions      []uint8
	Supported     algorithms.SupportedSets
	Nonce         uint64
	RandomPadding []byte
}

// NewHello builds a Hello with a fresh random nonce and the given padding
// length, to decorrelate frame size from handshake step.
func NewHello(versions []uint8, supported algorithms.SupportedSets, paddingLen int) (Hello, error) {
	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return Hello{}, err
	}
	padding := make([]byte, paddingLen)
	if paddingLen > 0 {
		if _, err := rand.Read(padding); err != nil {
			return Hello{}, err
		}
	}
	return Hello{
		Versions:      versions,
		Supported:     supported,
		Nonce:         binary.BigEndian.Uint64(nonceBuf[:]),
		RandomPadding: padding,
	}, nil
}

// Marshal produces a deterministic byte encoding used both on the wire and
// as the transcript contribution for this step; random_padding is included
// so the receiver's transcript matches bit-for-bit, but its content does
// not affect negotiation.
func (h Hello) Marshal() []byte {
	buf := make([]byte, 0, 64+len(h.RandomPadding))
	buf = append(buf, byte(len(h.Versions)))
	buf = append(buf, h.Versions...)
	buf = appendUint8Slice(buf, asUint8s(h.Supported.Hash))
	buf = appendUint8Slice(buf, asUint8sPrimary(h.Supported.Primary))
	buf = appendUint8Slice(buf, asUint8sSecondary(h.Supported.Secondary))
	buf = appendUint8Slice(buf, asUint8sSymmetric(h.Supported.Symmetric))
	buf = appendUint8Slice(buf, h.Supported.Compression)
	buf = binary.BigEndian.AppendUint64(buf, h.Nonce)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.RandomPadding)))
	buf = append(buf, h.RandomPadding...)
	return buf
}

func appendUint8Slice(dst []byte, s []uint8) []byte {
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

func asUint8s(hs []algorithms.Hash) []uint8 {
	out := make([]uint8, len(hs))
	for i, h := range hs {
		out[i] = uint8(h)
	}
	return out
}

func asUint8sPrimary(ps []algorithms.PrimaryAsym) []uint8 {
	out := make([]uint8, len(ps))
	for i, p := range ps {
		out[i] = uint8(p)
	}
	return out
}

func asUint8sSecondary(ss []algorithms.SecondaryAsym) []uint8 {
	out := make([]uint8, len(ss))
	for i, s := range ss {
		out[i] = uint8(s)
	}
	return out
}

func asUint8sSymmetric(ss []algorithms.Symmetric) []uint8 {
	out := make([]uint8, len(ss))
	for i, s := range ss {
		out[i] = uint8(s)
	}
	return out
}

// NegotiateHello implements handshake step 1: the intersection of supported
// sets determines the quintuple, selection rule is lexicographically lowest
// index in each set, deterministic on both sides. Mismatch aborts with
// ErrAlgorithmMismatch.
func NegotiateHello(local, remote Hello) (algorithms.Quintuple, error) {
	q, err := algorithms.Negotiate(local.Supported, remote.Supported)
	if err != nil {
		return q, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, err)
	}
	return q, nil
}

// EphemeralExchange is step 2: ephemeral ECDH public keys, plus the
// optional KEM exchange when the negotiated Secondary asymmetric is a KEM.
type EphemeralExchange struct {
	EphemeralPublic []byte
	KEMPublic       []byte // initiator only, when Secondary == SecondaryKEM
	KEMCiphertext   []byte // responder only, when Secondary == SecondaryKEM
}

func (e EphemeralExchange) Marshal() []byte {
	buf := appendLenPrefixed(nil, e.EphemeralPublic)
	buf = appendLenPrefixed(buf, e.KEMPublic)
	buf = appendLenPrefixed(buf, e.KEMCiphertext)
	return buf
}

func appendLenPrefixed(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

// DeriveSharedSecret implements "Both sides derive a shared secret =
// H(ECDH_shared || KEM_shared || global_shared_secret?)" (step 2).
// kemShared and globalSharedSecret may be nil when not configured.
func DeriveSharedSecret(kdf algorithms.KDF, ecdhShared, kemShared, globalSharedSecret []byte) algorithms.SymmetricKey {
	parts := [][]byte{ecdhShared}
	if len(kemShared) > 0 {
		parts = append(parts, kemShared)
	}
	if len(globalSharedSecret) > 0 {
		parts = append(parts, globalSharedSecret)
	}
	return kdf.DeriveKey(kdf.Hash(parts...), "qgate handshake shared secret")
}

// IdentityClaim is step 3: each side asserts its PeerIdentity, long-term
// public key, and a signature covering the full prior transcript.
type IdentityClaim struct {
	Identity          identity.ID
	LongTermPublicKey []byte
	Signature         []byte
}

// BuildIdentityClaim signs transcript (the concatenation of all prior
// handshake step bytes, both sent and received, in protocol order) with the
// local long-term key and returns the claim ready to send.
func BuildIdentityClaim(signer algorithms.Signer, typ identity.Type, alg identity.SigningAlgorithm, longTermPublic, longTermPrivate, transcript []byte) (IdentityClaim, error) {
	sig, err := signer.Sign(longTermPrivate, transcript)
	if err != nil {
		return IdentityClaim{}, fmt.Errorf("peer: signing identity claim: %w", err)
	}
	return IdentityClaim{
		Identity:          identity.Derive(longTermPublic, typ, alg),
		LongTermPublicKey: append([]byte(nil), longTermPublic...),
		Signature:         sig,
	}, nil
}

// VerifyIdentityClaim implements the receiver side of step 3: the
// PeerIdentity must be derivable from the claimed public key, and the
// signature must cover transcript exactly. Any failure maps to AuthFailure
// (reputation -200).
func VerifyIdentityClaim(signer algorithms.Signer, claim IdentityClaim, typ identity.Type, alg identity.SigningAlgorithm, transcript []byte) error {
	if !identity.Verify(claim.Identity, claim.LongTermPublicKey, typ, alg) {
		return ErrAuthFailure
	}
	if !signer.Verify(claim.LongTermPublicKey, transcript, claim.Signature) {
		return ErrAuthFailure
	}
	return nil
}

func (c IdentityClaim) Marshal() []byte {
	buf := append([]byte(nil), c.Identity[:]...)
	buf = appendLenPrefixed(buf, c.LongTermPublicKey)
	buf = appendLenPrefixed(buf, c.Signature)
	return buf
}

// ExtenderAdvertisement is step 4: the sorted unique list of
// ExtenderIdentifiers this side enables for the peer.
type ExtenderAdvertisement struct {
	Extenders []uint16
}

// NewExtenderAdvertisement sorts and deduplicates ids.
func NewExtenderAdvertisement(ids []uint16) ExtenderAdvertisement {
	sorted := append([]uint16(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:0]
	var last uint16
	haveLast := false
	for _, id := range sorted {
		if haveLast && id == last {
			continue
		}
		out = append(out, id)
		last, haveLast = id, true
	}
	return ExtenderAdvertisement{Extenders: out}
}

func (a ExtenderAdvertisement) Marshal() []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(a.Extenders)))
	for _, id := range a.Extenders {
		buf = binary.BigEndian.AppendUint16(buf, id)
	}
	return buf
}

// Transcript accumulates the marshaled bytes of every handshake step, in
// protocol order, for both directions; IdentityClaim signatures cover
// Bytes() as it stood immediately before the claim itself was appended.
type Transcript struct {
	buf []byte
}

func (t *Transcript) Append(stepBytes []byte) {
	t.buf = append(t.buf, stepBytes...)
}

func (t *Transcript) Bytes() []byte {
	return append([]byte(nil), t.buf...)
}

// Deadline tracks max_handshake_duration (step 5: "Handshake
// duration must not exceed max_handshake_duration; violation => close").
type Deadline struct {
	start time.Time
	max   time.Duration
}

func NewDeadline(max time.Duration) *Deadline {
	return &Deadline{start: time.Now(), max: max}
}

func (d *Deadline) Check() error {
	if time.Since(d.start) > d.max {
		return ErrHandshakeTimeout
	}
	return nil
}
