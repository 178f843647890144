package codec

import (
	"encoding/json"
	"io"
)

// JSONCodec reads and writes one JSON document per value. Payloads without
// a concrete target decode as map[string]any, []any and float64; use
// frame.Decode to get typed values back. HTML characters are written as is.
type JSONCodec struct{}

func (JSONCodec) Encoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

func (JSONCodec) Decoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}
