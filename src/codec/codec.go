package codec

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewDecoder = json.NewDecoder
	NewEncoder = json.NewEncoder
)

type RawMessage = jsoniter.RawMessage

type Decoder = jsoniter.Decoder

type Encoder = jsoniter.Encoder

// Roundtrip re-encodes v into out. Used wherever a typed value has to pass
// through its map form, e.g. variable substitution over call templates.
func Roundtrip(v any, out any) error {
	blob, err := Marshal(v)
	if err != nil {
		return err
	}
	return Unmarshal(blob, out)
}
