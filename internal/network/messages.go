package network

import (
	"fmt"

	"stagesync/internal/authority"
	"stagesync/internal/codec"
	"stagesync/internal/property"
)

type MessageKind string

const (
	KindPropertyChanged  MessageKind = "property_changed"
	KindPropertyRejected MessageKind = "property_rejected"
	KindAuthorityChanged MessageKind = "authority_changed"
	KindStateRequest     MessageKind = "state_request"
	KindStateSnapshot    MessageKind = "state_snapshot"
)

// Message is the replication payload carried by Transport.SendReliable.
// Value is decoded generically and coerced by the receiving pipeline.
type Message struct {
	Kind      MessageKind                      `cbor:"kind"`
	Asset     string                           `cbor:"asset"`
	Property  string                           `cbor:"property,omitempty"`
	Stage     property.StageID                 `cbor:"stage,omitempty"`
	Value     any                              `cbor:"value"`
	Reason    string                           `cbor:"reason,omitempty"`
	Authority *authority.State                 `cbor:"authority,omitempty"`
	Snapshot  map[string]property.SlotSnapshot `cbor:"snapshot,omitempty"`
}

func EncodeMessage(m Message) ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Kind, err)
	}
	return data, nil
}

func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	if m.Kind == "" || m.Asset == "" {
		return Message{}, fmt.Errorf("decoding message: missing kind or asset")
	}
	return m, nil
}
