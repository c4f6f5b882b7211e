package cache

import (
	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes cache snapshots.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec produces the textual snapshot format. It is the default.
type JSONCodec struct {
}

func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MsgpackCodec produces a compact binary snapshot.
type MsgpackCodec struct {
}

func (c *MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
