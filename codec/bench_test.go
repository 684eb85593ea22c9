package codec

import (
	"testing"
	"time"
)

func benchmarkCodec(b *testing.B, c Codec) {
	rec := &record{ID: "a1", Port: 8080, Services: []string{"orders", "billing"}, SeenAt: time.Now()}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := c.Encode(rec)
		if err != nil {
			b.Fatal(err)
		}
		var out record
		if err := c.Decode(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodec(b, GetCodec(CodecTypeJSON))
}

func BenchmarkCodecCBOR(b *testing.B) {
	benchmarkCodec(b, GetCodec(CodecTypeCBOR))
}
