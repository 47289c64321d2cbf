// SPDX-License-Identifier: MIT

package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec wraps a shared encoder/decoder pair the way device/pools.go
// reuses buffers rather than allocating a fresh zstd.Encoder
// per frame. zstd.Encoder/Decoder are safe for concurrent use once built.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var (
	zstdOnce sync.Once
	zstdInst *zstdCodec
)

func newZstdCodec() *zstdCodec {
	zstdOnce.Do(func() {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		dec, _ := zstd.NewReader(nil)
		zstdInst = &zstdCodec{enc: enc, dec: dec}
	})
	return zstdInst
}

func (z *zstdCodec) ID() ID { return Zstandard }

func (z *zstdCodec) Compress(dst, src []byte) ([]byte, bool) {
	out := z.enc.EncodeAll(src, dst)
	if len(out)-len(dst) >= len(src) {
		return append(dst, src...), false
	}
	return out, true
}

func (z *zstdCodec) Decompress(dst, src []byte, uncompressedLen int) ([]byte, error) {
	return z.dec.DecodeAll(src, dst)
}
