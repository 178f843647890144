// Package codec turns messages into bytes and back for a transport.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Encoder writes values to the stream it was created for.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads the next value from its stream into the value pointed to
// by v.
type Decoder interface {
	Decode(v any) error
}

// Codec creates encoders and decoders over a byte stream. A Codec value is
// stateless; each Encoder or Decoder owns its stream.
type Codec interface {
	Encoder(w io.Writer) Encoder
	Decoder(r io.Reader) Decoder
}

var byName = map[string]Codec{
	"json": JSONCodec{},
	"cbor": CBORCodec{},
}

// Names lists the codecs ByName knows, sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	c, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}
