package api

import (
	"encoding/json"
	"fmt"
)

// codecName matches connect's built-in JSON codec, so clients that speak
// application/json (curl included) work unchanged.
const codecName = "json"

// jsonCodec serialises the plain Go message structs in messages.go.
// connect's own JSON codec only accepts proto.Message values.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
