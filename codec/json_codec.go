package codec

import (
	"encoding/json"
)

// JSONCodec stores records as JSON. Readable with any store client
// (etcdctl get), at the cost of larger values.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
