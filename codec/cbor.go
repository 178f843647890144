package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborDecMode, err = cbor.DecOptions{
		// generic maps come back shaped like JSON objects
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// CBORCodec provides a codec API for a CBOR encoder and decoder.
type CBORCodec struct{}

// Encoder returns a CBOR encoder
func (c CBORCodec) Encoder(w io.Writer) Encoder {
	return cbor.NewEncoder(w)
}

// Decoder returns a CBOR decoder
func (c CBORCodec) Decoder(r io.Reader) Decoder {
	return cborDecMode.NewDecoder(r)
}
