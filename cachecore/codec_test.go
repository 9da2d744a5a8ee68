package cachecore

import (
	"errors"
	"testing"
)

func TestJSONCodecGenericShapes(t *testing.T) {
	var c Codec = JSONCodec{}
	data, err := c.Marshal(map[string]any{"n": 1, "s": "x"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	out, err := c.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["n"] != 1.0 || m["s"] != "x" {
		t.Fatalf("unexpected decode: %#v", out)
	}
	if _, err := c.Unmarshal([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCodecFuncs(t *testing.T) {
	boom := errors.New("boom")
	c := CodecFuncs{
		Serialize:   func(v any) ([]byte, error) { return []byte(v.(string)), nil },
		Deserialize: func([]byte) (any, error) { return nil, boom },
	}
	data, err := c.Marshal("raw")
	if err != nil || string(data) != "raw" {
		t.Fatalf("unexpected marshal: %q %v", data, err)
	}
	if _, err := c.Unmarshal(data); !errors.Is(err, boom) {
		t.Fatalf("expected deserialize error, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	if _, ok := CodecOrDefault(nil).(JSONCodec); !ok {
		t.Fatalf("expected json codec default")
	}
	if LoggerOrDiscard(nil) == nil {
		t.Fatalf("expected discard logger")
	}
}
