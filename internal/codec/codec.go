// SPDX-License-Identifier: MIT

// Package codec defines the Codec interface compression codecs are used
// through, the two concrete codecs negotiated during Hello (DEFLATE and
// Zstandard), plus a no-op codec for the "none" choice. Shaped the way
// WireGuard's fec package exposes several interchangeable algorithms
// behind one interface.
package codec

import "errors"

// ID identifies a negotiable compression algorithm; it is the
// "compression" axis of algorithms.Quintuple.
type ID uint8

const (
	None ID = iota
	Deflate
	Zstandard
)

// Codec compresses and decompresses payloads. Compress may return the
// input unmodified (with ok=false) if compression would not help;
// callers use ok to decide whether to set the Compressed flag.
type Codec interface {
	ID() ID
	Compress(dst, src []byte) (out []byte, ok bool)
	Decompress(dst, src []byte, uncompressedLen int) ([]byte, error)
}

var ErrUnknownCodec = errors.New("codec: unknown codec id")

// ByID returns the Codec singleton for id.
func ByID(id ID) (Codec, error) {
	switch id {
	case None:
		return noneCodec{}, nil
	case Deflate:
		return deflateCodec{}, nil
	case Zstandard:
		return newZstdCodec(), nil
	default:
		return nil, ErrUnknownCodec
	}
}

type noneCodec struct{}

func (noneCodec) ID() ID { return None }
func (noneCodec) Compress(dst, src []byte) ([]byte, bool) {
	return append(dst, src...), false
}
func (noneCodec) Decompress(dst, src []byte, _ int) ([]byte, error) {
	return append(dst, src...), nil
}
