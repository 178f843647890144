package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the length prefix a decoder accepts, so a corrupt or
// hostile prefix cannot make it allocate gigabytes.
const MaxFrameSize = 16 << 20

// FrameCodec wraps a Codec so that every value travels as one frame: a
// 4-byte big-endian length followed by the encoded bytes, so a decoder that
// reads ahead never consumes bytes of the next value.
type FrameCodec struct {
	Codec
}

func (c *FrameCodec) Encoder(w io.Writer) Encoder {
	return &frameEncoder{
		w: w,
		c: c.Codec,
	}
}

type frameEncoder struct {
	w   io.Writer
	c   Codec
	buf bytes.Buffer
}

func (e *frameEncoder) Encode(v any) error {
	e.buf.Reset()
	e.buf.Write([]byte{0, 0, 0, 0})
	if err := e.c.Encoder(&e.buf).Encode(v); err != nil {
		return err
	}
	b := e.buf.Bytes()
	binary.BigEndian.PutUint32(b[:4], uint32(len(b)-4))
	_, err := e.w.Write(b)
	return err
}

func (c *FrameCodec) Decoder(r io.Reader) Decoder {
	return &frameDecoder{
		r: r,
		c: c.Codec,
	}
}

type frameDecoder struct {
	r io.Reader
	c Codec
}

func (d *frameDecoder) Decode(v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return fmt.Errorf("codec: frame of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	return d.c.Decoder(bytes.NewReader(buf)).Decode(v)
}
