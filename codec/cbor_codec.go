package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBORCodec stores records as CBOR (RFC 8949). Struct field names are
// taken from the json tags, so one struct serves both codecs.
type CBORCodec struct{}

var (
	cborEnc, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	cborDec, _ = cbor.DecOptions{}.DecMode()
)

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
