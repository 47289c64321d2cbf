// SPDX-License-Identifier: MIT

// Package framing builds and parses the post-handshake wire frame (// "Message framing"): a random prefix, a 12-byte AEAD nonce, an encrypted
// header+payload, and a trailing 16-byte AEAD tag. Sealing/opening is
// grounded on device/send.go and device/receive.go's per-frame encrypt and
// decrypt pipeline; the AEAD itself comes from algorithms.AEAD.
package framing

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the encrypted frame header's frame_type field.
type Type uint8

const (
	TypeData Type = iota
	TypeRekey
	TypePing
	TypePong
	TypeExtenderUpdate
	TypeShutdown
	TypeRelayData
	TypeRelayControl
)

// Flags is the encrypted frame header's flags bitmask.
type Flags uint8

const (
	FlagCompressed     Flags = 1 << 0
	FlagHasExtenderTag Flags = 1 << 1
)

// ExtenderTagSize is the fixed width of an optional extender routing tag.
const ExtenderTagSize = 16

// headerFixedSize covers frame_type, flags, payload_len, and the mandatory
// monotonic timestamp; ExtenderTag and UncompressedLen are appended
// conditionally on the flags.
const headerFixedSize = 1 + 1 + 4 + 8

// Header is the plaintext-once-decrypted structure at the front of every
// frame's AEAD payload.
type Header struct {
	Type            Type
	Flags           Flags
	PayloadLen      uint32
	TimestampNanos  uint64 // monotonic send-time, checked against message_age_tolerance on receive
	ExtenderTag     [ExtenderTagSize]byte
	UncompressedLen uint32
}

func (h Header) hasExtenderTag() bool { return h.Flags&FlagHasExtenderTag != 0 }
func (h Header) compressed() bool     { return h.Flags&FlagCompressed != 0 }

func (h Header) encodedSize() int {
	size := headerFixedSize
	if h.hasExtenderTag() {
		size += ExtenderTagSize
	}
	if h.compressed() {
		size += 4
	}
	return size
}

func (h Header) appendTo(dst []byte) []byte {
	dst = append(dst, byte(h.Type), byte(h.Flags))
	dst = binary.BigEndian.AppendUint32(dst, h.PayloadLen)
	dst = binary.BigEndian.AppendUint64(dst, h.TimestampNanos)
	if h.hasExtenderTag() {
		dst = append(dst, h.ExtenderTag[:]...)
	}
	if h.compressed() {
		dst = binary.BigEndian.AppendUint32(dst, h.UncompressedLen)
	}
	return dst
}

var ErrShortHeader = errors.New("framing: header truncated")

func decodeHeader(src []byte) (Header, int, error) {
	if len(src) < headerFixedSize {
		return Header{}, 0, ErrShortHeader
	}
	var h Header
	h.Type = Type(src[0])
	h.Flags = Flags(src[1])
	h.PayloadLen = binary.BigEndian.Uint32(src[2:6])
	h.TimestampNanos = binary.BigEndian.Uint64(src[6:14])
	n := headerFixedSize

	if h.hasExtenderTag() {
		if len(src) < n+ExtenderTagSize {
			return Header{}, 0, ErrShortHeader
		}
		copy(h.ExtenderTag[:], src[n:n+ExtenderTagSize])
		n += ExtenderTagSize
	}
	if h.compressed() {
		if len(src) < n+4 {
			return Header{}, 0, ErrShortHeader
		}
		h.UncompressedLen = binary.BigEndian.Uint32(src[n : n+4])
		n += 4
	}
	return h, n, nil
}

// AEAD is the subset of algorithms.AEAD that sealing/opening needs; declared
// locally so this package does not import internal/algorithms.
type AEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
}

// PaddingPolicy controls the random prefix and internal payload padding
// ranges used to obfuscate frame length on the wire ("P, Q chosen
// uniformly from configured ranges per frame").
type PaddingPolicy struct {
	PrefixMin, PrefixMax   int
	PaddingMin, PaddingMax int
}

// DefaultPaddingPolicy is a conservative non-zero default; callers normally
// source this from config.
var DefaultPaddingPolicy = PaddingPolicy{PrefixMin: 0, PrefixMax: 16, PaddingMin: 0, PaddingMax: 16}

func randomRange(min, max int) (int, error) {
	if max <= min {
		return min, nil
	}
	span := max - min
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return min + int(binary.BigEndian.Uint32(buf[:])%uint32(span+1)), nil
}

// Seal builds one complete wire frame: a cleartext 2-byte prefix-length
// field, random_prefix, nonce, AEAD(header || payload || random_padding),
// and tag, appended to dst. random_prefix is PrefixMin..PrefixMax bytes and
// its length is stated outright in the 2-byte field: the
// payload length is only known after decryption, so the receiver needs an
// explicit (unauthenticated, but harmless to forge — tampering with it only
// corrupts framing, never confidentiality or integrity) cleartext length to
// find the nonce.
func Seal(dst []byte, aead AEAD, nonce Nonce, header Header, payload []byte, policy PaddingPolicy) ([]byte, error) {
	prefixLen, err := randomRange(policy.PrefixMin, policy.PrefixMax)
	if err != nil {
		return nil, fmt.Errorf("framing: random prefix: %w", err)
	}
	padLen, err := randomRange(policy.PaddingMin, policy.PaddingMax)
	if err != nil {
		return nil, fmt.Errorf("framing: random padding: %w", err)
	}

	header.PayloadLen = uint32(len(payload))

	dst = binary.BigEndian.AppendUint16(dst, uint16(prefixLen))
	start := len(dst)
	dst = append(dst, make([]byte, prefixLen)...)
	if _, err := rand.Read(dst[start : start+prefixLen]); err != nil {
		return nil, fmt.Errorf("framing: filling random prefix: %w", err)
	}
	dst = append(dst, nonce[:]...)

	plaintext := header.appendTo(make([]byte, 0, header.encodedSize()+len(payload)+padLen))
	plaintext = append(plaintext, payload...)
	if padLen > 0 {
		padStart := len(plaintext)
		plaintext = append(plaintext, make([]byte, padLen)...)
		if _, err := rand.Read(plaintext[padStart:]); err != nil {
			return nil, fmt.Errorf("framing: filling random padding: %w", err)
		}
	}

	return aead.Seal(dst, nonce[:], plaintext, nil), nil
}

// Opened is the result of successfully opening a wire frame.
type Opened struct {
	Header  Header
	Payload []byte
}

var (
	ErrFrameTooShort = errors.New("framing: frame shorter than nonce+tag")
	ErrPayloadLen    = errors.New("framing: payload_len exceeds decrypted plaintext")
)

// Open strips the cleartext prefix-length field and random prefix, parses
// the nonce, decrypts the AEAD portion, and splits the plaintext into
// Header and payload (padding discarded per PayloadLen). It does not itself
// check the nonce against a Tracker; callers do that before or after Open
// per their policy.
func Open(aead AEAD, frame []byte) (Nonce, Opened, error) {
	if len(frame) < 2 {
		return Nonce{}, Opened{}, ErrFrameTooShort
	}
	prefixLen := int(binary.BigEndian.Uint16(frame[:2]))
	frame = frame[2:]
	if len(frame) < prefixLen+NonceSize+aead.Overhead() {
		return Nonce{}, Opened{}, ErrFrameTooShort
	}
	frame = frame[prefixLen:]

	var nonce Nonce
	copy(nonce[:], frame[:NonceSize])
	ciphertext := frame[NonceSize:]

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nonce, Opened{}, fmt.Errorf("framing: %w", err)
	}

	header, n, err := decodeHeader(plaintext)
	if err != nil {
		return nonce, Opened{}, err
	}
	end := n + int(header.PayloadLen)
	if end > len(plaintext) {
		return nonce, Opened{}, ErrPayloadLen
	}
	return nonce, Opened{Header: header, Payload: plaintext[n:end]}, nil
}
