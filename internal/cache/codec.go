// Copyright 2025 James Ross
package cache

import "encoding/json"

// JSONCodec is the default Codec, used unless WithCodec overrides it.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }
