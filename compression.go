package tagcache

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"

	"github.com/goforj/tagcache/cachecore"
)

var (
	compressMagic = []byte("CMP1")

	ErrCorruptCompression = errors.New("cache: corrupt compressed payload")
)

type gzipCodec struct {
	inner cachecore.Codec
}

// GzipCodec wraps inner so payloads are gzip-compressed before they reach a
// remote backend. Payloads written without compression are still readable.
// A nil inner uses the JSON codec.
// @group Codecs
//
// Example: compressed redis payloads
//
//	store, _ := rediscache.New(rediscache.Config{
//		URL:   "redis://localhost:6379/0",
//		Codec: tagcache.GzipCodec(nil),
//	})
//	c := tagcache.NewCache(store)
//	_ = c
func GzipCodec(inner cachecore.Codec) cachecore.Codec {
	return gzipCodec{inner: cachecore.CodecOrDefault(inner)}
}

func (c gzipCodec) Marshal(value any) ([]byte, error) {
	raw, err := c.inner.Marshal(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(compressMagic)
	_ = buf.WriteByte('g')
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c gzipCodec) Unmarshal(data []byte) (any, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	return c.inner.Unmarshal(raw)
}

func decompress(in []byte) ([]byte, error) {
	if len(in) < len(compressMagic)+1 || !bytes.Equal(in[:len(compressMagic)], compressMagic) {
		return in, nil
	}
	if in[len(compressMagic)] != 'g' {
		return nil, ErrCorruptCompression
	}
	gr, err := gzip.NewReader(bytes.NewReader(in[len(compressMagic)+1:]))
	if err != nil {
		return nil, ErrCorruptCompression
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, ErrCorruptCompression
	}
	return out, nil
}
