// SPDX-License-Identifier: MIT

package peer

import (
	"encoding/binary"
	"errors"

	"go.quantumgate.dev/qgate/internal/algorithms"
	"go.quantumgate.dev/qgate/internal/identity"
)

// ErrShortMessage is returned by the Decode* functions when buf ends before
// a length-prefixed field it declares is satisfied.
var ErrShortMessage = errors.New("peer: handshake message truncated")

func decodeUint8Slice(buf []byte) (out []uint8, rest []byte, err error) {
	if len(buf) < 1 {
		return nil, nil, ErrShortMessage
	}
	n := int(buf[0])
	buf = buf[1:]
	if len(buf) < n {
		return nil, nil, ErrShortMessage
	}
	return append([]uint8(nil), buf[:n]...), buf[n:], nil
}

func decodeLenPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, ErrShortMessage
	}
	n := int(binary.BigEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return nil, nil, ErrShortMessage
	}
	if n == 0 {
		return nil, buf, nil
	}
	return append([]byte(nil), buf[:n]...), buf[n:], nil
}

// DecodeHello is the inverse of Hello.Marshal.
func DecodeHello(buf []byte) (Hello, error) {
	versions, buf, err := decodeUint8Slice(buf)
	if err != nil {
		return Hello{}, err
	}
	hashes, buf, err := decodeUint8Slice(buf)
	if err != nil {
		return Hello{}, err
	}
	primaries, buf, err := decodeUint8Slice(buf)
	if err != nil {
		return Hello{}, err
	}
	secondaries, buf, err := decodeUint8Slice(buf)
	if err != nil {
		return Hello{}, err
	}
	symmetrics, buf, err := decodeUint8Slice(buf)
	if err != nil {
		return Hello{}, err
	}
	compression, buf, err := decodeUint8Slice(buf)
	if err != nil {
		return Hello{}, err
	}
	if len(buf) < 8 {
		return Hello{}, ErrShortMessage
	}
	nonce := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if len(buf) < 4 {
		return Hello{}, ErrShortMessage
	}
	padLen := int(binary.BigEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < padLen {
		return Hello{}, ErrShortMessage
	}

	return Hello{
		Versions: versions,
		Supported: algorithms.SupportedSets{
			Hash:        asHashes(hashes),
			Primary:     asPrimaries(primaries),
			Secondary:   asSecondaries(secondaries),
			Symmetric:   asSymmetrics(symmetrics),
			Compression: compression,
		},
		Nonce:         nonce,
		RandomPadding: append([]byte(nil), buf[:padLen]...),
	}, nil
}

func asHashes(u []uint8) []algorithms.Hash {
	out := make([]algorithms.Hash, len(u))
	for i, v := range u {
		out[i] = algorithms.Hash(v)
	}
	return out
}

func asPrimaries(u []uint8) []algorithms.PrimaryAsym {
	out := make([]algorithms.PrimaryAsym, len(u))
	for i, v := range u {
		out[i] = algorithms.PrimaryAsym(v)
	}
	return out
}

func asSecondaries(u []uint8) []algorithms.SecondaryAsym {
	out := make([]algorithms.SecondaryAsym, len(u))
	for i, v := range u {
		out[i] = algorithms.SecondaryAsym(v)
	}
	return out
}

func asSymmetrics(u []uint8) []algorithms.Symmetric {
	out := make([]algorithms.Symmetric, len(u))
	for i, v := range u {
		out[i] = algorithms.Symmetric(v)
	}
	return out
}

// DecodeEphemeralExchange is the inverse of EphemeralExchange.Marshal.
func DecodeEphemeralExchange(buf []byte) (EphemeralExchange, error) {
	ephemeral, buf, err := decodeLenPrefixed(buf)
	if err != nil {
		return EphemeralExchange{}, err
	}
	kemPublic, buf, err := decodeLenPrefixed(buf)
	if err != nil {
		return EphemeralExchange{}, err
	}
	kemCiphertext, _, err := decodeLenPrefixed(buf)
	if err != nil {
		return EphemeralExchange{}, err
	}
	return EphemeralExchange{
		EphemeralPublic: ephemeral,
		KEMPublic:       kemPublic,
		KEMCiphertext:   kemCiphertext,
	}, nil
}

// DecodeIdentityClaim is the inverse of IdentityClaim.Marshal.
func DecodeIdentityClaim(buf []byte) (IdentityClaim, error) {
	if len(buf) < identity.Size {
		return IdentityClaim{}, ErrShortMessage
	}
	var id identity.ID
	copy(id[:], buf[:identity.Size])
	buf = buf[identity.Size:]

	pub, buf, err := decodeLenPrefixed(buf)
	if err != nil {
		return IdentityClaim{}, err
	}
	sig, _, err := decodeLenPrefixed(buf)
	if err != nil {
		return IdentityClaim{}, err
	}
	return IdentityClaim{
		Identity:          id,
		LongTermPublicKey: pub,
		Signature:         sig,
	}, nil
}

// DecodeExtenderAdvertisement is the inverse of ExtenderAdvertisement.Marshal.
func DecodeExtenderAdvertisement(buf []byte) (ExtenderAdvertisement, error) {
	if len(buf) < 2 {
		return ExtenderAdvertisement{}, ErrShortMessage
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < n*2 {
		return ExtenderAdvertisement{}, ErrShortMessage
	}
	ids := make([]uint16, n)
	for i := 0; i < n; i++ {
		ids[i] = binary.BigEndian.Uint16(buf[i*2 : i*2+2])
	}
	return ExtenderAdvertisement{Extenders: ids}, nil
}
