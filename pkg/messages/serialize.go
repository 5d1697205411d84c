package messages

import (
	"encoding/json"
	"fmt"
)

// SerializeMessage serializes a message for transport.
func SerializeMessage(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %v", err)
	}
	return b, nil
}

// DeserializeMessage deserializes a message received from transport.
func DeserializeMessage(data []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %v", err)
	}
	return m, nil
}

// NewMessage builds a message envelope around a payload.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %v", msgType, err)
	}
	return &Message{
		Type:    msgType,
		Payload: b,
	}, nil
}
