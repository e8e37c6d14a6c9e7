package store

import (
	"encoding/json"
	"fmt"
)

// marshalBody serializes a record value and enforces the size limit.
func marshalBody(v any, maxSize int) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if len(body) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, len(body), maxSize)
	}
	return body, nil
}

// unmarshalBody deserializes a record body into v.
func unmarshalBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

// envelope wraps a record body with its kind tag for the KV backends, which
// have no separate column to keep the tag in.
type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func marshalEnvelope(kind string, v any, maxSize int) ([]byte, error) {
	body, err := marshalBody(v, maxSize)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kind, Body: body})
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal record envelope: %w", err)
	}
	return env, nil
}
