// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"compress/flate"
	"io"
)

type deflateCodec struct{}

func (deflateCodec) ID() ID { return Deflate }

func (deflateCodec) Compress(dst, src []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return append(dst, src...), false
	}
	if _, err := w.Write(src); err != nil {
		return append(dst, src...), false
	}
	if err := w.Close(); err != nil {
		return append(dst, src...), false
	}
	if buf.Len() >= len(src) {
		return append(dst, src...), false
	}
	return append(dst, buf.Bytes()...), true
}

func (deflateCodec) Decompress(dst, src []byte, uncompressedLen int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	buf := bytes.NewBuffer(dst)
	if uncompressedLen > 0 {
		buf.Grow(uncompressedLen)
	}
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
