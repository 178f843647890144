package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type testData struct {
	Map map[string]bool
	Arr []int
}

func TestCodecs(t *testing.T) {
	for _, name := range []string{"json", "cbor"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			require.NoError(t, err)
			var buf bytes.Buffer

			require.NoError(t, c.Encoder(&buf).Encode(testData{
				Map: map[string]bool{"true": true, "false": false},
				Arr: []int{1, 2, 3},
			}))

			var data testData
			require.NoError(t, c.Decoder(&buf).Decode(&data))
			require.True(t, data.Map["true"])
			require.Equal(t, 3, data.Arr[2])
		})
	}
}

func TestCBORGenericMaps(t *testing.T) {
	c := CBORCodec{}
	var buf bytes.Buffer
	require.NoError(t, c.Encoder(&buf).Encode(map[string]any{
		"nested": map[string]any{"n": 1},
	}))

	var v any
	require.NoError(t, c.Decoder(&buf).Decode(&v))
	m, ok := v.(map[string]any)
	require.True(t, ok, "got %T", v)
	_, ok = m["nested"].(map[string]any)
	require.True(t, ok, "got %T", m["nested"])
}

func TestByNameUnknown(t *testing.T) {
	require.Equal(t, []string{"cbor", "json"}, Names())
	_, err := ByName("xml")
	require.ErrorContains(t, err, "unknown codec")
	require.ErrorContains(t, err, "cbor, json")
}

func TestJSONKeepsHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONCodec{}.Encoder(&buf).Encode("<a&b>"))
	require.Equal(t, "\"<a&b>\"\n", buf.String())
}

func TestFrameCodec(t *testing.T) {
	c := &FrameCodec{Codec: JSONCodec{}}
	var buf bytes.Buffer

	enc := c.Encoder(&buf)
	require.NoError(t, enc.Encode("first"))
	require.NoError(t, enc.Encode(map[string]int{"second": 2}))

	size := binary.BigEndian.Uint32(buf.Bytes()[:4])
	require.Equal(t, uint32(len(`"first"`)+1), size)

	dec := c.Decoder(&buf)
	var first string
	require.NoError(t, dec.Decode(&first))
	require.Equal(t, "first", first)

	var second map[string]int
	require.NoError(t, dec.Decode(&second))
	require.Equal(t, 2, second["second"])

	var none string
	require.Error(t, dec.Decode(&none))
}

func TestFrameCodecTooLarge(t *testing.T) {
	var buf bytes.Buffer
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, MaxFrameSize+1)
	buf.Write(prefix)

	var v any
	err := (&FrameCodec{Codec: JSONCodec{}}).Decoder(&buf).Decode(&v)
	require.ErrorContains(t, err, "exceeds")
}
