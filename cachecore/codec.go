package cachecore

import "encoding/json"

// Codec converts values to and from the bytes stored by remote backends.
type Codec interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSONCodec is the default codec. Decoded values use encoding/json's generic
// shapes (map[string]any, []any, float64, string, bool, nil).
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CodecFuncs adapts a serialize/deserialize function pair to Codec.
type CodecFuncs struct {
	Serialize   func(value any) ([]byte, error)
	Deserialize func(data []byte) (any, error)
}

// Marshal implements Codec.
func (c CodecFuncs) Marshal(value any) ([]byte, error) {
	return c.Serialize(value)
}

// Unmarshal implements Codec.
func (c CodecFuncs) Unmarshal(data []byte) (any, error) {
	return c.Deserialize(data)
}
