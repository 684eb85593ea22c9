// Package message defines the envelopes exchanged by the invocation client.
//
// The mesh never interprets bodies. A Request carries whatever bytes the
// caller's generated code produced, and a Response hands back whatever the
// destination answered, together with the endpoint that served it.
package message

import (
	"net/http"

	"mini-mesh/codec"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Request is one outbound call. Header may be nil.
type Request struct {
	Body        []byte
	ContentType string
	Header      http.Header
}

// Response is the destination's answer to the last attempt.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// InstanceID is the endpoint that produced the response.
	InstanceID string
	// Attempts counts every attempt made, including the successful one.
	Attempts int
}

func contentType(t codec.CodecType) string {
	if t == codec.CodecTypeCBOR {
		return ContentTypeCBOR
	}
	return ContentTypeJSON
}

// NewRequest encodes v with c and sets the matching content type.
func NewRequest(c codec.Codec, v any) (*Request, error) {
	body, err := c.Encode(v)
	if err != nil {
		return nil, err
	}
	return &Request{Body: body, ContentType: contentType(c.Type())}, nil
}

// Decode decodes the response body into v.
func (r *Response) Decode(c codec.Codec, v any) error {
	return c.Decode(r.Body, v)
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
