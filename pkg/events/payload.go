package events

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodePayload serialises an event's fields as a protobuf Struct.
// Values must be structpb compatible (strings, numbers, bools, nil, nested maps or slices).
func EncodePayload(fields map[string]any) ([]byte, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}

	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return body, nil
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(body []byte) (map[string]any, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return msg.AsMap(), nil
}
